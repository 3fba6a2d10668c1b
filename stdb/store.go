package stdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// On-disk credential persistence: one file per database holding the
// identity and token on two lines of utf-8. The directory defaults to
// $HOME/.spacetimedb_client_credentials, or the literal name when HOME
// is unset.

const credentialDirName = ".spacetimedb_client_credentials"

type CredentialStore struct {
	dir string
}

func NewCredentialStore(dir string) *CredentialStore {
	return &CredentialStore{
		dir: dir,
	}
}

func DefaultCredentialStore() *CredentialStore {
	home := os.Getenv("HOME")
	if home == "" {
		return NewCredentialStore(credentialDirName)
	}
	return NewCredentialStore(filepath.Join(home, credentialDirName))
}

func (self *CredentialStore) path(database string) string {
	return filepath.Join(self.dir, fmt.Sprintf("%s.creds", database))
}

// Load reads the stored identity and token for a database.
func (self *CredentialStore) Load(database string) (identity string, token string, err error) {
	b, err := os.ReadFile(self.path(database))
	if err != nil {
		return "", "", err
	}
	identity, token, ok := strings.Cut(strings.TrimRight(string(b), "\n"), "\n")
	if !ok {
		return "", "", fmt.Errorf("malformed credential file: %s", self.path(database))
	}
	return identity, token, nil
}

// Save writes the identity and token for a database, creating the
// directory if needed.
func (self *CredentialStore) Save(database string, identity string, token string) error {
	if err := os.MkdirAll(self.dir, 0700); err != nil {
		return err
	}
	content := fmt.Sprintf("%s\n%s", identity, token)
	return os.WriteFile(self.path(database), []byte(content), 0600)
}

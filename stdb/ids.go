package stdb

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Identity is the 256 bit public identity the server issues at connect
// time. Opaque; rendered as lowercase hex.
//
// comparable
type Identity [32]byte

func IdentityFromBytes(identityBytes []byte) (Identity, error) {
	if len(identityBytes) != 32 {
		return Identity{}, errors.New("identity must be 32 bytes")
	}
	return Identity(identityBytes), nil
}

func ParseIdentity(identityStr string) (Identity, error) {
	b, err := hex.DecodeString(identityStr)
	if err != nil {
		return Identity{}, err
	}
	return IdentityFromBytes(b)
}

func (self Identity) Bytes() []byte {
	return self[0:32]
}

func (self Identity) String() string {
	return hex.EncodeToString(self[0:32])
}

func (self *Identity) MarshalJSON() ([]byte, error) {
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(self.String())
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Identity) UnmarshalJSON(src []byte) error {
	if len(src) != 66 {
		return fmt.Errorf("invalid length for identity: %v", len(src))
	}
	identity, err := ParseIdentity(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = identity
	return nil
}

// ConnectionId is the 128 bit id the server assigns one connection.
// Locally generated ids are ulids, which order by create time.
//
// comparable
type ConnectionId [16]byte

func NewConnectionId() ConnectionId {
	return ConnectionId(ulid.Make())
}

func ConnectionIdFromBytes(idBytes []byte) (ConnectionId, error) {
	if len(idBytes) != 16 {
		return ConnectionId{}, errors.New("connection id must be 16 bytes")
	}
	return ConnectionId(idBytes), nil
}

func (self ConnectionId) Bytes() []byte {
	return self[0:16]
}

func (self ConnectionId) LessThan(other ConnectionId) bool {
	return bytes.Compare(self[0:16], other[0:16]) < 0
}

func (self ConnectionId) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", self[0:4], self[4:6], self[6:8], self[8:10], self[10:16])
}

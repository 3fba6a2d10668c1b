package stdb

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Server tokens are jwts. The client never validates them (the server
// does); an unverified parse is enough to surface the identity hint and
// expiry for credential management.

type TokenClaims struct {
	// hex identity, when the token carries one
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func ParseTokenUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	tokenClaims := &TokenClaims{}

	if identity, ok := claims["hex_identity"]; ok {
		if identityStr, ok := identity.(string); ok {
			tokenClaims.Identity = identityStr
		}
	}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		tokenClaims.IssuedAt = issuedAt.Time
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		tokenClaims.ExpiresAt = expiresAt.Time
	}

	return tokenClaims, nil
}

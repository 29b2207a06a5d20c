// ABOUTME: Credential and identity handling for the realtime session.
// ABOUTME: Inspects JWT claims client-side; signature verification belongs to the backend.

package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// Credential errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Credential is the pair the socket handshake carries: an opaque bearer token
// and the tenant the session operates in.
type Credential struct {
	Token    string
	TenantID string
}

// Present reports whether both halves of the credential are set. Connect with
// an absent credential fails silently into a disconnected state.
func (c Credential) Present() bool {
	return c.Token != "" && c.TenantID != ""
}

// Fingerprint returns a stable hex digest of the credential. Locally persisted
// snapshots record it so state written under one identity is never served to
// another.
func (c Credential) Fingerprint() string {
	sum := blake2b.Sum256([]byte(c.TenantID + "\x00" + c.Token))
	return hex.EncodeToString(sum[:])
}

// Identity is what the client can read out of its own bearer token.
type Identity struct {
	Subject     string
	DisplayName string
	ExpiresAt   time.Time
}

// Expired reports whether the identity's token is past its expiry claim.
// Tokens without an exp claim never report expired.
func (i Identity) Expired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}

// ParseIdentity extracts the subject, display name, and expiry claims from a
// bearer token without verifying its signature. The client holds no signing
// secret; rejection authority stays with the server.
func ParseIdentity(token string) (Identity, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	id := Identity{Subject: sub}

	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}

	if id.Expired() {
		return id, ErrExpiredToken
	}
	return id, nil
}

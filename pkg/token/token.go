// Package token issues opaque bearer tokens and session ids.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// DefaultSize is the number of random bytes in a token (256 bits).
const DefaultSize = 32

// Issuer produces bearer tokens for completed logins.
type Issuer interface {
	Issue() (string, error)
}

// RandomIssuer reads Size bytes from Rand (crypto/rand by default) and
// encodes them as unpadded base64url. Tokens are not checked against ones
// already issued; at 256 bits a collision is not a practical concern.
type RandomIssuer struct {
	Size int
	Rand io.Reader
}

// NewRandomIssuer returns an issuer of DefaultSize tokens from crypto/rand.
func NewRandomIssuer() *RandomIssuer {
	return &RandomIssuer{Size: DefaultSize, Rand: rand.Reader}
}

func (i *RandomIssuer) Issue() (string, error) {
	size := i.Size
	if size <= 0 {
		size = DefaultSize
	}
	r := i.Rand
	if r == nil {
		r = rand.Reader
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSessionID returns a fresh id for a login attempt. The id is a
// capability: whoever knows it can collect the resulting token.
func NewSessionID() (string, error) {
	return NewRandomIssuer().Issue()
}

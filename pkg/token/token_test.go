package token

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomIssuerEntropyAndEncoding(t *testing.T) {
	issuer := NewRandomIssuer()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := issuer.Issue()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.Len(t, raw, DefaultSize)

		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestRandomIssuerDeterministicSource(t *testing.T) {
	issuer := &RandomIssuer{Size: 4, Rand: bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef})}

	tok, err := issuer.Issue()
	require.NoError(t, err)
	assert.Equal(t, "3q2-7w", tok)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestRandomIssuerReadFailure(t *testing.T) {
	_, err := (&RandomIssuer{Rand: failingReader{}}).Issue()
	assert.ErrorContains(t, err, "entropy exhausted")
}

func TestNewSessionID(t *testing.T) {
	a, err := NewSessionID()
	require.NoError(t, err)
	b, err := NewSessionID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

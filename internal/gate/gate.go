// Package gate authenticates trigger requests against a shared secret.
package gate

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Gate holds the digest of the expected secret. The zero value and a gate
// built from an empty secret reject everything.
type Gate struct {
	digest     [blake2b.Size256]byte
	configured bool
}

func New(secret string) *Gate {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Gate{}
	}
	return &Gate{digest: blake2b.Sum256([]byte(secret)), configured: true}
}

// Configured reports whether an expected secret is set.
func (g *Gate) Configured() bool {
	return g != nil && g.configured
}

// Verify reports whether candidate matches the configured secret. Surrounding
// whitespace is ignored on both sides. Both values are hashed to a fixed
// length first, so the comparison time depends on neither the content nor the
// length of either value.
func (g *Gate) Verify(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if !g.Configured() || candidate == "" {
		return false
	}
	got := blake2b.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(got[:], g.digest[:]) == 1
}

// Package passauth mints and verifies the per-pass authentication token that
// wallet devices present as "ApplePass <token>".
package passauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// TokenLength is the number of hex characters kept from the MAC.
const TokenLength = 32

// Scheme is the Authorization scheme used by wallet devices.
const Scheme = "ApplePass"

// Signer derives tokens from a server-held secret.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer keyed with secret.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Token returns the authentication token for serial. It is deterministic for a given secret.
func (s Signer) Token(serial string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(serial))
	return hex.EncodeToString(mac.Sum(nil))[:TokenLength]
}

// Verify reports whether presented is the token for serial.
func (s Signer) Verify(serial, presented string) bool {
	if presented == "" {
		return false
	}
	expected := s.Token(serial)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// FromHeader extracts the token from an "ApplePass <token>" Authorization value.
func FromHeader(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

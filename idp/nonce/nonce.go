// Package nonce implements the OIDC nonce parameter, used by component C2 to
// detect ID token replay (spec.md §4.2).
package nonce

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Generate returns a new high-entropy nonce value.
func Generate() (Nonce, error) { return generate(rand.Reader) }

func generate(randSrc io.Reader) (Nonce, error) {
	var buf [16]byte
	if _, err := io.ReadFull(randSrc, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate random nonce: %w", err)
	}
	return Nonce(base64.RawURLEncoding.EncodeToString(buf[:])), nil
}

// Nonce is an OIDC nonce value.
type Nonce string

// String returns the string encoding of this nonce value.
func (n Nonce) String() string { return string(n) }

// Param returns the OAuth2 auth code parameter carrying this nonce in the
// authorization request.
func (n Nonce) Param() oauth2.AuthCodeOption {
	return oidc.Nonce(string(n))
}

// Validate reports whether token carries this exact nonce, in constant time.
func (n Nonce) Validate(token *oidc.IDToken) error {
	if subtle.ConstantTimeCompare([]byte(token.Nonce), []byte(n)) != 1 {
		return InvalidNonceError{Expected: n, Got: Nonce(token.Nonce)}
	}
	return nil
}

// InvalidNonceError is returned by Validate when the observed nonce does not
// match.
type InvalidNonceError struct {
	Expected Nonce
	Got      Nonce
}

func (e InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid oidc nonce (expected %q, got %q)", e.Expected, e.Got)
}

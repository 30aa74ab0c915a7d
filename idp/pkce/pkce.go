// Package pkce implements RFC 7636 Proof Key for Code Exchange, used by
// component C2 to bind an authorization code to the session that requested
// it (spec.md §4.2).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// Generate returns a new high-entropy code verifier.
func Generate() (Code, error) { return generate(rand.Reader) }

func generate(randSrc io.Reader) (Code, error) {
	// RFC 7636 §4.1: code_verifier is a high-entropy cryptographic random
	// string using the unreserved URL-safe character set, 43-128 chars.
	// 32 raw bytes base64url-encode to 43 characters with no padding.
	var buf [32]byte
	if _, err := io.ReadFull(randSrc, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate PKCE code: %w", err)
	}
	return Code(base64.RawURLEncoding.EncodeToString(buf[:])), nil
}

// Code is a PKCE code verifier.
type Code string

// Verifier returns the plaintext verifier, sent to the token endpoint.
func (c Code) Verifier() string { return string(c) }

// Challenge returns the S256 code challenge derived from this verifier, sent
// in the authorization request.
func (c Code) Challenge() string {
	sum := sha256.Sum256([]byte(c))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ChallengeOption returns the OAuth2 auth code parameter carrying the code
// challenge, for use when building the authorization URL.
func (c Code) ChallengeOption() oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("code_challenge", c.Challenge())
}

// MethodOption returns the OAuth2 auth code parameter declaring the S256
// challenge method.
func (c Code) MethodOption() oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("code_challenge_method", "S256")
}

// VerifierOption returns the OAuth2 auth code parameter carrying the
// verifier, for use in the code-exchange request.
func (c Code) VerifierOption() oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("code_verifier", c.Verifier())
}

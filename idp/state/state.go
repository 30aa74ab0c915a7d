// Package state implements the OAuth2 CSRF state parameter (RFC 6749
// §10.12), used by component C2 to detect a tampered or replayed callback
// (spec.md §4.2, §8 scenario "tampered state").
package state

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
)

// Generate returns a new high-entropy state value.
func Generate() (State, error) { return generate(rand.Reader) }

func generate(randSrc io.Reader) (State, error) {
	var buf [16]byte
	if _, err := io.ReadFull(randSrc, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate random state: %w", err)
	}
	return State(base64.RawURLEncoding.EncodeToString(buf[:])), nil
}

// State is an OAuth2 state parameter value.
type State string

// String returns the string encoding of this state value.
func (s State) String() string { return string(s) }

// Validate reports whether returnedState matches this state in constant
// time, guarding against a tampered or forged callback.
func (s State) Validate(returnedState string) error {
	if subtle.ConstantTimeCompare([]byte(returnedState), []byte(s)) != 1 {
		return InvalidStateError{Expected: s, Got: State(returnedState)}
	}
	return nil
}

// InvalidStateError is returned by Validate when the returned state does
// not match.
type InvalidStateError struct {
	Expected State
	Got      State
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("invalid oauth2 state (expected %q, got %q)", e.Expected, e.Got)
}

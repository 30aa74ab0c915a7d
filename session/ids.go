package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// opaqueIDBytes gives 256 bits of entropy, comfortably above spec.md's
// 128-bit minimum for session_id and state (spec.md §3).
const opaqueIDBytes = 32

// newOpaqueID generates a URL-safe, high-entropy opaque token, grounded in
// the teacher's own auth-code generation (crypto/rand + base64 URL encoding).
func newOpaqueID() (string, error) {
	buf := make([]byte, opaqueIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: rand.Read: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

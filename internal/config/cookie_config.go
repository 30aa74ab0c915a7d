package config

import (
	"encoding/base64"

	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog/log"
)

// CookieConfig supplies the symmetric keys that sign the CSRF state cookie
// set on /auth/login (spec.md §6 browser flow; the cookie is defense in
// depth on top of the session store's own state index, not the sole guard).
type CookieConfig interface {
	GetCookieHashKey() []byte
	GetCookieBlockKey() []byte
}

type Cookie struct{}

var _ CookieConfig = Cookie{}

// GetCookieHashKey is read from BROKER_COOKIE_HASH_KEY (base64).
// If unset, a random 64-byte key is generated for the life of this process — safe
// because sessions never persist across a restart either (spec.md §3
// lifecycle), so a rotated cookie key never needs to verify a cookie minted
// by a previous process.
func (Cookie) GetCookieHashKey() []byte {
	return cookieKey("BROKER_COOKIE_HASH_KEY", 64)
}

func (Cookie) GetCookieBlockKey() []byte {
	return cookieKey("BROKER_COOKIE_BLOCK_KEY", 32)
}

func cookieKey(envVar string, randomLen int) []byte {
	if raw := GetEnv(envVar, ""); raw != "" {
		if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return decoded
		}
		log.Warn().Str("env", envVar).Msg("could not base64-decode cookie key, generating an ephemeral one")
	}
	return securecookie.GenerateRandomKey(randomLen)
}

// Package brokerjwt mints the broker's own short-lived RS256 JWT (spec.md
// §3 BrokerJWT, §4.5, component C5). The JWT's subject is always the
// selected team, never an individual user — this is what collapses many
// users in a team onto one stable Vault identity (spec.md §9 open question
// on audience/subject mapping correctness).
package brokerjwt

import (
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/bazel-auth-broker/keymanager"
)

// NowFunc is the injectable clock, overridden in tests.
var NowFunc = time.Now

// ExchangeMetadata is the untrusted, size-bounded metadata the CLI/CI caller
// supplied to /exchange (spec.md §4.8: each field is bounded to 256 bytes by
// the HTTP surface before it ever reaches here).
type ExchangeMetadata struct {
	Pipeline string
	Repo     string
	Target   string
	RunID    string
}

// Claims mirrors spec.md §3's BrokerJWT shape.
type Claims struct {
	Issuer      string
	Audience    string
	Team        string
	UserEmail   string
	UserName    string
	UserSubject string
	Groups      []string
	Metadata    ExchangeMetadata
	Lifetime    time.Duration
}

// Issuer signs broker JWTs with the active key from a keymanager.Manager.
type Issuer struct {
	keys *keymanager.Manager
}

func NewIssuer(keys *keymanager.Manager) *Issuer {
	return &Issuer{keys: keys}
}

// Issue mints a compact RS256 JWS. The sub claim is exactly claims.Team —
// there is no path by which any other team name (e.g. the first candidate
// team) can end up there, which is the structural fix spec.md §9 calls for.
func (i *Issuer) Issue(claims Claims) (string, error) {
	now := NowFunc()
	lifetime := claims.Lifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}

	mapClaims := jwt.MapClaims{
		"iss":        claims.Issuer,
		"aud":        claims.Audience,
		"sub":        claims.Team,
		"iat":        now.Unix(),
		"exp":        now.Add(lifetime).Unix(),
		"user_email": claims.UserEmail,
		"user_name":  claims.UserName,
		"user_sub":   claims.UserSubject,
		"groups":     claims.Groups,
	}
	if claims.Metadata.Pipeline != "" {
		mapClaims["pipeline"] = claims.Metadata.Pipeline
	}
	if claims.Metadata.Repo != "" {
		mapClaims["repo"] = claims.Metadata.Repo
	}
	if claims.Metadata.Target != "" {
		mapClaims["target"] = claims.Metadata.Target
	}
	if claims.Metadata.RunID != "" {
		mapClaims["run_id"] = claims.Metadata.RunID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mapClaims)
	token.Header["kid"] = i.keys.ActiveKeyID()

	return token.SignedString(i.keys.Signer())
}

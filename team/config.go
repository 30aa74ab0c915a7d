// Package team maps IdP groups onto the teams a user may act as, and holds
// the static, per-team Vault configuration the broker needs to authenticate
// and mint child tokens (spec.md §3 TeamConfig, §4.4, component C4).
package team

import "time"

// Config is the static team/Vault configuration. It is never mutated at
// runtime (spec.md §3).
type Config struct {
	// GroupToTeam maps an IdP group name to a team name, e.g.
	// "mobile-developers" -> "mobile-team".
	GroupToTeam map[string]string

	// Teams holds the per-team Vault bounds, keyed by team name.
	Teams map[string]Team

	// DevOpsTeam is a designated team whose token role allows creating
	// tokens for any team (spec.md §3, §6 Vault contract).
	DevOpsTeam string
}

// Team is the per-team Vault wiring: the JWT auth role name, token auth role
// name, and the bounds enforced on child tokens minted through that role.
type Team struct {
	JWTRole    string
	TokenRole  string
	TTLDefault time.Duration
	TTLMax     time.Duration
	Uses       int

	// Policies are the Vault policies a child token for this team should
	// carry (spec.md §3, §8: policies ⊆ {base, policy(team)}). The team's
	// token role is the actual enforcement point; this list is what the
	// broker requests and what ends up echoed in the exchange response.
	Policies []string
}

// HasTeam reports whether team is a known, configured team.
func (c Config) HasTeam(team string) bool {
	_, ok := c.Teams[team]
	return ok
}

// IsDevOps reports whether team is the designated cross-team DevOps role.
func (c Config) IsDevOps(team string) bool {
	return c.DevOpsTeam != "" && team == c.DevOpsTeam
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jrsteele09/bazel-auth-broker/team"
)

// TeamConfigPathEnvVar points at the JSON document describing group-to-team
// mapping and per-team Vault wiring (spec.md §3 TeamConfig, §6). This is
// deliberately a file, not individual env vars, since the shape is a map of
// maps that doesn't flatten sanely into BROKER_*-style scalars.
const TeamConfigPathEnvVar = "BROKER_TEAM_CONFIG_PATH"

// teamFile mirrors team.Config in a JSON-friendly shape (durations as
// seconds, not time.Duration).
type teamFile struct {
	GroupToTeam map[string]string   `json:"group_to_team"`
	DevOpsTeam  string              `json:"devops_team"`
	Teams       map[string]teamSpec `json:"teams"`
}

type teamSpec struct {
	JWTRole       string   `json:"jwt_role"`
	TokenRole     string   `json:"token_role"`
	TTLDefaultSec int      `json:"ttl_default_secs"`
	TTLMaxSec     int      `json:"ttl_max_secs"`
	Uses          int      `json:"uses"`
	Policies      []string `json:"policies"`
}

// LoadTeamConfig reads the team/Vault wiring from the file named by
// BROKER_TEAM_CONFIG_PATH (default ./config/teams.json). This is static
// configuration, never mutated at runtime (spec.md §3).
func LoadTeamConfig() (team.Config, error) {
	path := GetEnv(TeamConfigPathEnvVar, "./config/teams.json")
	return LoadTeamConfigFile(path)
}

// LoadTeamConfigFile loads and validates team configuration from path.
func LoadTeamConfigFile(path string) (team.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return team.Config{}, fmt.Errorf("config: reading team config %s: %w", path, err)
	}

	var f teamFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return team.Config{}, fmt.Errorf("config: parsing team config %s: %w", path, err)
	}

	cfg := team.Config{
		GroupToTeam: f.GroupToTeam,
		DevOpsTeam:  f.DevOpsTeam,
		Teams:       make(map[string]team.Team, len(f.Teams)),
	}
	for name, spec := range f.Teams {
		if spec.TokenRole == "" {
			return team.Config{}, fmt.Errorf("config: team %q is missing token_role", name)
		}
		jwtRole := spec.JWTRole
		if jwtRole == "" {
			jwtRole = name
		}
		ttlDefault := time.Duration(spec.TTLDefaultSec) * time.Second
		ttlMax := time.Duration(spec.TTLMaxSec) * time.Second
		if ttlMax <= 0 {
			ttlMax = ttlDefault
		}
		cfg.Teams[name] = team.Team{
			JWTRole:    jwtRole,
			TokenRole:  spec.TokenRole,
			TTLDefault: ttlDefault,
			TTLMax:     ttlMax,
			Uses:       spec.Uses,
			Policies:   spec.Policies,
		}
	}
	return cfg, nil
}

package team

import brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"

// Resolver turns an IdP group list into the ordered set of teams a user may
// act as (spec.md §4.4).
type Resolver struct {
	cfg Config
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns candidate teams in the deterministic order spec.md §4.4
// requires: the order teams first appear while scanning groups left-to-right,
// deduplicated, keeping only teams whose token role is actually configured.
// An empty result is reported as NO_TEAM_ASSIGNMENT.
func (r *Resolver) Resolve(groups []string) ([]string, error) {
	seen := make(map[string]struct{}, len(groups))
	candidates := make([]string, 0, len(groups))

	for _, group := range groups {
		teamName, ok := r.cfg.GroupToTeam[group]
		if !ok {
			continue
		}
		if !r.cfg.HasTeam(teamName) {
			continue
		}
		if _, dup := seen[teamName]; dup {
			continue
		}
		seen[teamName] = struct{}{}
		candidates = append(candidates, teamName)
	}

	if len(candidates) == 0 {
		return nil, brokererrors.New(brokererrors.KindNoTeamAssignment, "no recognized team for the presented groups")
	}
	return candidates, nil
}

// RequiresSelection reports whether the candidate list needs an explicit
// team-selection step (more than one candidate), per spec.md §4.4.
func RequiresSelection(candidates []string) bool {
	return len(candidates) > 1
}

// Team returns the configured Vault wiring for name.
func (r *Resolver) Team(name string) (Team, bool) {
	t, ok := r.cfg.Teams[name]
	return t, ok
}

// IsDevOps reports whether name is the designated cross-team DevOps role.
func (r *Resolver) IsDevOps(name string) bool {
	return r.cfg.IsDevOps(name)
}

package team_test

import (
	"testing"
	"time"

	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
	"github.com/jrsteele09/bazel-auth-broker/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() team.Config {
	return team.Config{
		GroupToTeam: map[string]string{
			"mobile-developers":  "mobile-team",
			"backend-developers": "backend-team",
			"devops":             "devops-team",
		},
		Teams: map[string]team.Team{
			"mobile-team":  {JWTRole: "mobile-team", TokenRole: "mobile-team-token", TTLDefault: time.Hour, TTLMax: 4 * time.Hour, Uses: 10},
			"backend-team": {JWTRole: "backend-team", TokenRole: "backend-team-token", TTLDefault: time.Hour, TTLMax: 4 * time.Hour, Uses: 10},
			"devops-team":  {JWTRole: "devops-team", TokenRole: "devops-team-token", TTLDefault: time.Hour, TTLMax: 4 * time.Hour, Uses: 10},
		},
		DevOpsTeam: "devops-team",
	}
}

func TestResolve_OrderedByFirstAppearance(t *testing.T) {
	r := team.NewResolver(testConfig())
	candidates, err := r.Resolve([]string{"backend-developers", "mobile-developers", "backend-developers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"backend-team", "mobile-team"}, candidates)
}

func TestResolve_EmptyGroupsFails(t *testing.T) {
	r := team.NewResolver(testConfig())
	_, err := r.Resolve(nil)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.KindNoTeamAssignment))
}

func TestResolve_OnlyUnmappedGroupsFails(t *testing.T) {
	r := team.NewResolver(testConfig())
	_, err := r.Resolve([]string{"some-other-group"})
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.KindNoTeamAssignment))
}

func TestRequiresSelection(t *testing.T) {
	assert.False(t, team.RequiresSelection([]string{"mobile-team"}))
	assert.True(t, team.RequiresSelection([]string{"mobile-team", "backend-team"}))
}

package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		DefaultRole:   "ctrl^core",
		DefaultPRRole: "ctrl^core",
		Rules: []IssueRule{
			{TitleContains: []string{"ci"}, Role: "pipewire"},
			{TitleContains: []string{"frontend"}, Role: "neonflux"},
		},
		PRRules: []PRRule{
			{AnyPaths: []string{"auth/"}, Role: "locktrace"},
		},
	}
}

func TestRouteIssue_ConfidentMatch(t *testing.T) {
	cfg := testConfig()
	for i := 0; i < 200; i++ {
		role, confident, reason := RouteIssue(Issue{Title: "Test: CI pipeline flake validation"}, cfg)
		require.Equal(t, "pipewire", role)
		require.True(t, confident)
		require.Equal(t, "single confident role match", reason)
	}
}

func TestRouteIssue_Ambiguous(t *testing.T) {
	cfg := testConfig()
	role, confident, reason := RouteIssue(Issue{Title: "CI + frontend orchestration"}, cfg)
	require.Equal(t, "ctrl^core", role)
	require.False(t, confident)
	require.Equal(t, "ambiguous role matches: neonflux, pipewire", reason)
}

func TestRouteIssue_NoMatch(t *testing.T) {
	cfg := testConfig()
	role, confident, reason := RouteIssue(Issue{Title: "unrelated"}, cfg)
	require.Equal(t, "ctrl^core", role)
	require.False(t, confident)
	require.Equal(t, "no routing rule matched", reason)
}

func TestRouteIssue_MatchesOnlyDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Rules = append(cfg.Rules, IssueRule{TitleContains: []string{"triage"}, Role: "ctrl^core"})

	role, confident, reason := RouteIssue(Issue{Title: "needs triage"}, cfg)
	require.Equal(t, "ctrl^core", role)
	require.False(t, confident)
	require.Equal(t, "matched default triage role", reason)
}

func TestRoutePRFeedback_FirstMatchWins(t *testing.T) {
	cfg := testConfig()
	cfg.PRRules = append(cfg.PRRules, PRRule{AnyPaths: []string{"session"}, Role: "pipewire"})
	role := RoutePRFeedback(PRFeedback{ChangedPaths: []string{"auth/session.go"}}, cfg)
	require.Equal(t, "locktrace", role)
}

func TestRoutePRFeedback_Default(t *testing.T) {
	cfg := testConfig()
	role := RoutePRFeedback(PRFeedback{ChangedPaths: []string{"docs/readme.md"}}, cfg)
	require.Equal(t, "ctrl^core", role)
}

func TestNormalizeRole(t *testing.T) {
	cfg := testConfig()

	require.Equal(t, "pipewire", NormalizeRole("pipewire", cfg, false))
	require.Equal(t, "ctrl^core", NormalizeRole("", cfg, false))
	require.Equal(t, "ctrl^core", NormalizeRole("unknown-role", cfg, true))

	empty := &Config{}
	require.Equal(t, "ctrl^core", NormalizeRole("", empty, false))
}

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_RejectsUnsupportedPlaceholder(t *testing.T) {
	_, err := Parse("bridge --role {nope}")
	require.Error(t, err)
	var unsupported *ErrUnsupportedPlaceholder
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "nope", unsupported.Placeholder)
}

func TestParse_RejectsUnterminatedPlaceholder(t *testing.T) {
	_, err := Parse("bridge --role {role")
	require.Error(t, err)
}

func TestRender_SubstitutesAndShellEscapesQuotedVariants(t *testing.T) {
	tmpl, err := Parse("bridge --role {role} --title {task_title_q}")
	require.NoError(t, err)

	fields := TaskFields{Role: "pipewire", TaskTitle: "fix; rm -rf /"}
	out := tmpl.Render(fields)
	require.Contains(t, out, "--role pipewire")
	require.Contains(t, out, "--title 'fix; rm -rf /'")
}

func TestRender_IsIdempotentForIdenticalInputs(t *testing.T) {
	tmpl, err := Parse("bridge --repo {repo_q} --number {task_number_q}")
	require.NoError(t, err)
	fields := TaskFields{Repo: "acme/widgets", TaskNumber: "42"}

	require.Equal(t, tmpl.Render(fields), tmpl.Render(fields))
}

func TestParse_LegacyAliasesAccepted(t *testing.T) {
	tmpl, err := Parse("bridge {issue_number} {issue_title_q} {issue_url}")
	require.NoError(t, err)
	out := tmpl.Render(TaskFields{TaskNumber: "7", TaskTitle: "t", TaskURL: "https://example.com"})
	require.Contains(t, out, "7")
	require.Contains(t, out, "https://example.com")
}

func TestHasTaskKind(t *testing.T) {
	withKind, err := Parse("bridge {task_kind_q}")
	require.NoError(t, err)
	require.True(t, withKind.HasTaskKind())

	withoutKind, err := Parse("bridge {role_q}")
	require.NoError(t, err)
	require.False(t, withoutKind.HasTaskKind())
}

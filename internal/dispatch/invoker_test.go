package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatch_SuccessMarkerYieldsOK(t *testing.T) {
	iv, err := NewInvoker("noop", 2*time.Second)
	require.NoError(t, err)

	result := iv.Dispatch(context.Background(), `echo hello; echo 'OPENCLAW_DISPATCH_RESULT {"status":"ok","run_id":"r1"}'`)
	require.Equal(t, 0, result.ExitCode)
	require.NotNil(t, result.Marker)
	require.Equal(t, "ok", result.Marker.Status)
	require.Equal(t, "r1", result.Marker.RunID)
	require.True(t, DispatchOK(result.ExitCode, result.Marker))
}

func TestDispatch_ZeroExitWithoutMarkerIsNotOK(t *testing.T) {
	iv, err := NewInvoker("noop", 2*time.Second)
	require.NoError(t, err)

	result := iv.Dispatch(context.Background(), "echo no marker here")
	require.Equal(t, 0, result.ExitCode)
	require.Nil(t, result.Marker)
	require.False(t, DispatchOK(result.ExitCode, result.Marker))
}

func TestDispatch_ErrorMarkerIsNotOK(t *testing.T) {
	iv, err := NewInvoker("noop", 2*time.Second)
	require.NoError(t, err)

	result := iv.Dispatch(context.Background(), `echo 'OPENCLAW_DISPATCH_RESULT {"status":"error"}'`)
	require.False(t, DispatchOK(result.ExitCode, result.Marker))
}

func TestDispatch_NonZeroExitIsNotOK(t *testing.T) {
	iv, err := NewInvoker("noop", 2*time.Second)
	require.NoError(t, err)

	result := iv.Dispatch(context.Background(), `echo 'OPENCLAW_DISPATCH_RESULT {"status":"ok"}'; exit 3`)
	require.Equal(t, 3, result.ExitCode)
	require.False(t, DispatchOK(result.ExitCode, result.Marker))
}

func TestDispatch_TimeoutIsReportedAndNotOK(t *testing.T) {
	iv, err := NewInvoker("noop", 30*time.Millisecond)
	require.NoError(t, err)

	result := iv.Dispatch(context.Background(), "sleep 5")
	require.True(t, result.TimedOut)
	require.False(t, DispatchOK(result.ExitCode, result.Marker))
}

func TestDispatch_ScansLastMatchingLineFromTheEnd(t *testing.T) {
	iv, err := NewInvoker("noop", 2*time.Second)
	require.NoError(t, err)

	script := `echo 'OPENCLAW_DISPATCH_RESULT {"status":"error"}'
echo 'some trailing noise'
echo 'OPENCLAW_DISPATCH_RESULT {"status":"ok"}'`
	result := iv.Dispatch(context.Background(), script)
	require.NotNil(t, result.Marker)
	require.Equal(t, "ok", result.Marker.Status)
}

func TestRenderHook_UsesBuiltinDefaultWhenTaskKindMissingForPRFollowup(t *testing.T) {
	iv, err := NewInvoker("bridge --role {role_q}", time.Second)
	require.NoError(t, err)

	out := iv.RenderHook(TaskFields{Role: "neonflux", TaskKind: "pr-followup"}, true)
	require.Contains(t, out, "--task-kind pr-followup")
}

func TestRenderHook_UsesConfiguredTemplateWhenTaskKindPresent(t *testing.T) {
	iv, err := NewInvoker("bridge --role {role_q} --kind {task_kind_q}", time.Second)
	require.NoError(t, err)

	out := iv.RenderHook(TaskFields{Role: "neonflux", TaskKind: "pr-followup"}, true)
	require.Contains(t, out, "bridge --role neonflux --kind pr-followup")
}

func TestRenderHook_NonPRFollowupAlwaysUsesConfiguredTemplate(t *testing.T) {
	iv, err := NewInvoker("bridge --role {role_q}", time.Second)
	require.NoError(t, err)

	out := iv.RenderHook(TaskFields{Role: "pipewire"}, false)
	require.Equal(t, "bridge --role pipewire", out)
}

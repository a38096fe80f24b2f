package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ResultMarkerPrefix is the line prefix the bridge must print as its final
// authoritative line (spec.md §6, "Dispatch contract").
const ResultMarkerPrefix = "OPENCLAW_DISPATCH_RESULT "

// Marker is the trailing JSON object printed after ResultMarkerPrefix.
type Marker struct {
	Status     string `json:"status"`
	RunID      string `json:"run_id,omitempty"`
	TargetKind string `json:"target_kind,omitempty"`
	Target     string `json:"target,omitempty"`
}

// Result is the outcome of one dispatch invocation.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Marker   *Marker
	TimedOut bool
}

// Invoker renders and runs the bridge command.
type Invoker struct {
	main    *Template
	builtin *Template
	timeout time.Duration
}

// NewInvoker parses the configured template and the built-in fallback
// template once, at construction (spec.md §9).
func NewInvoker(templateSource string, timeout time.Duration) (*Invoker, error) {
	main, err := Parse(templateSource)
	if err != nil {
		return nil, errors.Wrap(err, "parsing hook command template")
	}
	builtin, err := Parse(DefaultTemplateSource)
	if err != nil {
		return nil, errors.Wrap(err, "parsing built-in default template")
	}
	return &Invoker{main: main, builtin: builtin, timeout: timeout}, nil
}

// RenderHook implements render_hook (spec.md §4.7): substitutes fields into
// the configured template, or the built-in default when the configured one
// lacks {task_kind*} and this task is a PR follow-up.
func (iv *Invoker) RenderHook(fields TaskFields, isPRFollowup bool) string {
	tmpl := iv.main
	if isPRFollowup && !tmpl.HasTaskKind() {
		tmpl = iv.builtin
	}
	return tmpl.Render(fields)
}

// Dispatch spawns cmdline via a shell, capturing stdout/stderr and
// enforcing iv.timeout as a hard wall-clock bound (spec.md §4.7, §5).
func (iv *Invoker) Dispatch(ctx context.Context, cmdline string) Result {
	ctx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{
		Command: cmdline,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
		return result
	}

	result.Marker = extractMarker(result.Stdout)
	return result
}

// extractMarker scans stdout from the last line backward for
// ResultMarkerPrefix (spec.md §4.7 step "Scan stdout from the last line
// backward").
func extractMarker(stdout string) *Marker {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, ResultMarkerPrefix) {
			continue
		}
		var m Marker
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, ResultMarkerPrefix)), &m); err != nil {
			return nil
		}
		return &m
	}
	return nil
}

// DispatchOK implements dispatch_ok: a zero exit code without a valid
// marker is NOT success (spec.md §4.7, §8).
func DispatchOK(exitCode int, marker *Marker) bool {
	return exitCode == 0 && marker != nil && marker.Status == "ok"
}

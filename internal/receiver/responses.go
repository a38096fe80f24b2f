package receiver

import (
	"encoding/json"
	"net/http"

	"github.com/openclaw/issue-dispatcher/internal/state"
)

// closureView reports the outcome of a closure-gate evaluation (spec.md §6).
type closureView struct {
	Closed bool   `json:"closed"`
	Reason string `json:"reason"`
}

// webhookResponse is the JSON body returned by POST /github/webhook
// (spec.md §6).
type webhookResponse struct {
	OK            bool                `json:"ok"`
	Ignored       string              `json:"ignored,omitempty"`
	Error         string              `json:"error,omitempty"`
	Role          string              `json:"role,omitempty"`
	RoutingReason string              `json:"routing_reason,omitempty"`
	AutoExecuted  *bool               `json:"auto_executed,omitempty"`
	Command       string              `json:"command,omitempty"`
	Exit          *int                `json:"exit,omitempty"`
	Stdout        string              `json:"stdout,omitempty"`
	Stderr        string              `json:"stderr,omitempty"`
	Followup      *state.FollowupTask `json:"followup,omitempty"`
	Closure       *closureView        `json:"closure,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// tail returns the last n bytes of s, matching spec.md §6's "stdout/stderr
// (last 1000 bytes)" truncation.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

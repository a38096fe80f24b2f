package state

import (
	"strconv"
	"time"
)

// Status values for a FollowupTask's lifecycle (spec.md §3).
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// RequiredActionChecklist is the fixed three-item template attached to every
// follow-up task (spec.md §3, "Evidence").
var RequiredActionChecklist = []string{
	"Address all review thread comments",
	"Ensure CI checks are green",
	"Obtain required approvals before merge",
}

// FollowupEvent is one append-only entry in a task's event log.
type FollowupEvent struct {
	Event      string    `json:"event"`
	Action     string    `json:"action"`
	Source     string    `json:"source"`
	Sender     string    `json:"sender"`
	At         time.Time `json:"at"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	CommentID  int64     `json:"comment_id,omitempty"`
}

// Identity returns the (delivery_id, comment_id) tuple used to detect a
// duplicate redelivery of the same underlying event (spec.md §4.6 step 7).
func (e FollowupEvent) Identity() (string, int64) {
	return e.DeliveryID, e.CommentID
}

// FollowupTask is the persistent per-pull-request follow-up record of
// spec.md §3.
type FollowupTask struct {
	ID       string `json:"id"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
	PRTitle  string `json:"pr_title"`
	PRURL    string `json:"pr_url"`

	Role                   string `json:"role"`
	OwnerRole              string `json:"owner_role"`
	SecurityReviewRequired bool   `json:"security_review_required"`

	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`

	CommentPermalinks       []string        `json:"comment_permalinks"`
	Events                  []FollowupEvent `json:"events"`
	Labels                  []string        `json:"labels"`
	RequiredActionChecklist []string        `json:"required_action_checklist"`

	EventSequence      int  `json:"event_sequence"`
	LastEventDuplicate bool `json:"last_event_duplicate"`
}

// Key is the task's identity key, "<owner>/<repo>#<pr_number>" (spec.md §3).
func Key(repo string, prNumber int) string {
	return repo + "#" + strconv.Itoa(prNumber)
}

// Backfill normalizes a task loaded from disk, or freshly synthesized by a
// caller, so records written by older versions of this service remain valid
// (spec.md §4.6 step 3).
func (t *FollowupTask) Backfill(now time.Time) {
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if len(t.RequiredActionChecklist) == 0 {
		t.RequiredActionChecklist = append([]string(nil), RequiredActionChecklist...)
	}
	if t.CommentPermalinks == nil {
		t.CommentPermalinks = []string{}
	}
	if t.Events == nil {
		t.Events = []FollowupEvent{}
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
}

// ProcessedState is the two-layer delivery/fingerprint dedup set of
// spec.md §3.
type ProcessedState struct {
	Deliveries   map[string]bool `json:"deliveries"`
	Fingerprints map[string]bool `json:"fingerprints"`
}

func newProcessedState() *ProcessedState {
	return &ProcessedState{
		Deliveries:   map[string]bool{},
		Fingerprints: map[string]bool{},
	}
}

// followupFile is the on-disk shape of review_followups.json.
type followupFile struct {
	Tasks map[string]*FollowupTask `json:"tasks"`
}

// Package followup implements the follow-up manager of spec.md §4.6: it
// creates and updates per-pull-request follow-up task records and gates
// their closure on external review signals.
package followup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openclaw/issue-dispatcher/internal/forge"
	"github.com/openclaw/issue-dispatcher/internal/routing"
	"github.com/openclaw/issue-dispatcher/internal/state"
)

// Event is the PR-feedback event extracted from an inbound webhook payload
// (spec.md §4.6 step 1).
type Event struct {
	EventType string // pull_request_review | pull_request_review_comment | issue_comment
	Action    string

	Repo     string
	PRNumber int
	PRTitle  string
	PRURL    string
	Labels   []string
	Body     string

	FeedbackBody string
	Permalink    string
	Source       string
	Sender       string

	DeliveryID string
	CommentID  int64
}

// ErrNotFeedbackEvent is returned by CreateOrUpdateFollowup when handed an
// event that is not a recognized PR-feedback kind.
var ErrNotFeedbackEvent = errors.New("event is not a PR-feedback event")

var feedbackEventTypes = map[string]bool{
	"pull_request_review":         true,
	"pull_request_review_comment": true,
	"issue_comment":               true,
}

// Manager owns the follow-up task lifecycle.
type Manager struct {
	store *state.Store
	forge forge.Ops
	log   *zap.Logger
	now   func() time.Time

	routingCfg *routing.Config

	securityOverrideLabel string
	securitySensitiveTags []string
	securitySensitivePath []string
	securityReviewerLogin string
}

// Config configures a Manager.
type Config struct {
	RoutingConfig                 *routing.Config
	SecurityOverrideLabel         string
	SecuritySensitiveLabels       []string
	SecuritySensitivePathContains []string
	SecurityReviewerLogin         string
}

// New builds a Manager.
func New(store *state.Store, ops forge.Ops, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		store:                 store,
		forge:                 ops,
		log:                   log,
		now:                   time.Now,
		routingCfg:            cfg.RoutingConfig,
		securityOverrideLabel: cfg.SecurityOverrideLabel,
		securitySensitiveTags: cfg.SecuritySensitiveLabels,
		securitySensitivePath: cfg.SecuritySensitivePathContains,
		securityReviewerLogin: cfg.SecurityReviewerLogin,
	}
}

// CreateOrUpdateFollowup implements spec.md §4.6's create_or_update_followup.
func (m *Manager) CreateOrUpdateFollowup(ctx context.Context, ev Event) (*state.FollowupTask, bool, error) {
	if !feedbackEventTypes[ev.EventType] {
		return nil, false, errors.Wrapf(ErrNotFeedbackEvent, "event type %q", ev.EventType)
	}

	key := state.Key(ev.Repo, ev.PRNumber)
	unlock := m.store.LockKey(key)
	defer unlock()

	now := m.now()

	existing := m.store.GetFollowup(key)
	isNew := existing == nil
	var task state.FollowupTask
	if existing != nil {
		task = *existing
	} else {
		task = state.FollowupTask{
			ID:        key,
			Repo:      ev.Repo,
			PRNumber:  ev.PRNumber,
			CreatedAt: now,
		}
	}
	task.Backfill(now)

	task.PRTitle = ev.PRTitle
	task.PRURL = ev.PRURL
	task.Labels = append([]string(nil), ev.Labels...)

	changedPaths := m.forge.ChangedPaths(ctx, ev.Repo, ev.PRNumber)
	role := routing.RoutePRFeedback(routing.PRFeedback{
		Labels:       ev.Labels,
		Title:        ev.PRTitle,
		Body:         ev.Body,
		ChangedPaths: changedPaths,
	}, m.routingCfg)
	role = routing.NormalizeRole(role, m.routingCfg, true)
	task.Role = role
	if isNew {
		task.OwnerRole = role
	}

	if m.isSecuritySensitive(ev.Labels, changedPaths) {
		task.SecurityReviewRequired = true
	}

	task.Status = state.StatusOpen
	task.ClosedAt = nil

	if ev.Permalink != "" && !contains(task.CommentPermalinks, ev.Permalink) {
		task.CommentPermalinks = append(task.CommentPermalinks, ev.Permalink)
	}

	incoming := state.FollowupEvent{
		Event:      ev.EventType,
		Action:     ev.Action,
		Source:     ev.Source,
		Sender:     ev.Sender,
		At:         now,
		DeliveryID: ev.DeliveryID,
		CommentID:  ev.CommentID,
	}

	if len(task.Events) > 0 {
		lastID, lastComment := task.Events[len(task.Events)-1].Identity()
		curID, curComment := incoming.Identity()
		if lastID == curID && lastComment == curComment {
			task.LastEventDuplicate = true
		} else {
			task.LastEventDuplicate = false
			task.EventSequence++
		}
	} else {
		task.LastEventDuplicate = false
		task.EventSequence++
	}

	task.Events = append(task.Events, incoming)
	task.UpdatedAt = now

	if err := m.store.SaveFollowup(key, &task); err != nil {
		return nil, false, fmt.Errorf("saving follow-up task %s: %w", key, err)
	}

	return &task, isNew, nil
}

// AttemptCloseFollowup implements spec.md §4.6's attempt_close_followup.
func (m *Manager) AttemptCloseFollowup(ctx context.Context, key string) (bool, string, error) {
	unlock := m.store.LockKey(key)
	defer unlock()

	task := m.store.GetFollowup(key)
	if task == nil {
		return false, "", fmt.Errorf("no follow-up task for %s", key)
	}

	var reasons []string

	threadsOK := m.forge.AllThreadsResolved(ctx, task.Repo, task.PRNumber)
	switch {
	case threadsOK == nil:
		reasons = append(reasons, "review thread status unavailable")
	case !*threadsOK:
		reasons = append(reasons, "review threads not resolved")
	}

	checksOK := m.forge.ChecksGreen(ctx, task.Repo, task.PRNumber)
	switch {
	case checksOK == nil:
		reasons = append(reasons, "check status unavailable")
	case !*checksOK:
		reasons = append(reasons, "checks not green")
	}

	if task.SecurityReviewRequired && !contains(task.Labels, m.securityOverrideLabel) {
		reviewState := m.forge.LatestSecurityReviewState(ctx, task.Repo, task.PRNumber, m.securityReviewerLogin)
		if reviewState == nil || *reviewState != "APPROVED" {
			reasons = append(reasons, "locktrace approval required")
		}
	}

	if len(reasons) > 0 {
		return false, strings.Join(reasons, "; "), nil
	}

	now := m.now()
	task.Status = state.StatusClosed
	task.ClosedAt = &now
	task.UpdatedAt = now
	if err := m.store.SaveFollowup(key, task); err != nil {
		return false, "", fmt.Errorf("persisting closure of %s: %w", key, err)
	}
	return true, "all review threads resolved and checks green", nil
}

func (m *Manager) isSecuritySensitive(labels, paths []string) bool {
	for _, l := range labels {
		for _, tag := range m.securitySensitiveTags {
			if tag != "" && strings.Contains(strings.ToLower(l), strings.ToLower(tag)) {
				return true
			}
		}
	}
	for _, p := range paths {
		for _, frag := range m.securitySensitivePath {
			if frag != "" && strings.Contains(strings.ToLower(p), strings.ToLower(frag)) {
				return true
			}
		}
	}
	return false
}

func contains(list []string, target string) bool {
	if target == "" {
		return false
	}
	for _, v := range list {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

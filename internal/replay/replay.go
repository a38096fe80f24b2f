// Package replay implements the operator-triggered redelivery of recently
// failed webhook deliveries (spec.md §4.9).
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/go-github/v68/github"
)

// Delivery is the subset of a forge hook delivery needed to decide
// eligibility for replay.
type Delivery struct {
	ID          int64
	GUID        string
	DeliveredAt time.Time
	Redelivery  bool
	StatusCode  int
	Event       string
	Action      string
}

// Deliveries is the capability-injection seam for the forge's hook-delivery
// listing and redelivery endpoints, mirroring forge.Ops (spec.md §9).
type Deliveries interface {
	List(ctx context.Context, owner, repo string, hookID int64) ([]Delivery, error)
	Redeliver(ctx context.Context, owner, repo string, hookID, deliveryID int64) error
}

// GitHubDeliveries implements Deliveries against the real forge via
// go-github's repository-hooks API.
type GitHubDeliveries struct {
	rest *github.Client
}

// NewGitHubDeliveries wraps an already-authenticated go-github client.
func NewGitHubDeliveries(rest *github.Client) *GitHubDeliveries {
	return &GitHubDeliveries{rest: rest}
}

func (d *GitHubDeliveries) List(ctx context.Context, owner, repo string, hookID int64) ([]Delivery, error) {
	var out []Delivery
	opts := &github.ListCursorOptions{PerPage: 100}
	for {
		page, resp, err := d.rest.Repositories.ListHookDeliveries(ctx, owner, repo, hookID, opts)
		if err != nil {
			return nil, fmt.Errorf("listing hook deliveries for %s/%s hook %d: %w", owner, repo, hookID, err)
		}
		for _, hd := range page {
			out = append(out, Delivery{
				ID:          hd.GetID(),
				GUID:        hd.GetGUID(),
				DeliveredAt: hd.GetDeliveredAt().Time,
				Redelivery:  hd.GetRedelivery(),
				StatusCode:  hd.GetStatusCode(),
				Event:       hd.GetEvent(),
				Action:      hd.GetAction(),
			})
		}
		if resp.Cursor == "" {
			break
		}
		opts.Cursor = resp.Cursor
	}
	return out, nil
}

func (d *GitHubDeliveries) Redeliver(ctx context.Context, owner, repo string, hookID, deliveryID int64) error {
	_, _, err := d.rest.Repositories.RedeliverHookDelivery(ctx, owner, repo, hookID, deliveryID)
	if err != nil {
		return fmt.Errorf("redelivering %s/%s hook %d delivery %d: %w", owner, repo, hookID, deliveryID, err)
	}
	return nil
}

// Config bounds the eligibility filter and the batch size for a replay run
// (spec.md §4.9).
type Config struct {
	LookbackWindow time.Duration
	MaxResults     int
	AllowedEvents  map[string]bool
}

// Outcome records whether a single delivery's redelivery call succeeded.
type Outcome struct {
	Delivery Delivery
	Err      error
}

// Outcomes is the summary of one replay run.
type Outcomes []Outcome

// Run implements spec.md §4.9's selection and redelivery protocol: list
// deliveries, filter to non-redelivery / failed (status >= 500) / within the
// lookback window / in the allowed event set, sort oldest first, cap at
// MaxResults, then redeliver each in order.
func Run(ctx context.Context, deliveries Deliveries, cfg Config, owner, repo string, hookID int64, now time.Time) (Outcomes, error) {
	all, err := deliveries.List(ctx, owner, repo, hookID)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-cfg.LookbackWindow)
	eligible := make([]Delivery, 0, len(all))
	for _, d := range all {
		if d.Redelivery {
			continue
		}
		if d.StatusCode < 500 {
			continue
		}
		if d.DeliveredAt.Before(cutoff) {
			continue
		}
		if len(cfg.AllowedEvents) > 0 && !cfg.AllowedEvents[d.Event] {
			continue
		}
		eligible = append(eligible, d)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].DeliveredAt.Before(eligible[j].DeliveredAt)
	})

	max := cfg.MaxResults
	if max <= 0 || max > len(eligible) {
		max = len(eligible)
	}
	eligible = eligible[:max]

	out := make(Outcomes, 0, len(eligible))
	for _, d := range eligible {
		err := deliveries.Redeliver(ctx, owner, repo, hookID, d.ID)
		out = append(out, Outcome{Delivery: d, Err: err})
	}
	return out, nil
}

// OK reports whether every attempted redelivery succeeded.
func (o Outcomes) OK() bool {
	for _, outcome := range o {
		if outcome.Err != nil {
			return false
		}
	}
	return true
}

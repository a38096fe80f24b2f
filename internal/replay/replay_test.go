package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDeliveries struct {
	items      []Delivery
	redelivers []int64
	failID     int64
}

func (f *fakeDeliveries) List(ctx context.Context, owner, repo string, hookID int64) ([]Delivery, error) {
	return f.items, nil
}

func (f *fakeDeliveries) Redeliver(ctx context.Context, owner, repo string, hookID, deliveryID int64) error {
	f.redelivers = append(f.redelivers, deliveryID)
	if deliveryID == f.failID {
		return errors.New("redeliver failed")
	}
	return nil
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRun_FiltersToFailedNonRedeliveryWithinWindowAndAllowedEvent(t *testing.T) {
	now := mustTime("2026-01-02T00:00:00Z")
	fake := &fakeDeliveries{items: []Delivery{
		{ID: 1, Event: "issues", StatusCode: 500, DeliveredAt: mustTime("2026-01-01T12:00:00Z")},
		{ID: 2, Event: "issues", StatusCode: 200, DeliveredAt: mustTime("2026-01-01T12:00:00Z")},       // success, excluded
		{ID: 3, Event: "issues", StatusCode: 500, Redelivery: true, DeliveredAt: mustTime("2026-01-01T12:00:00Z")}, // already a redelivery
		{ID: 4, Event: "issues", StatusCode: 500, DeliveredAt: mustTime("2025-12-01T00:00:00Z")}, // outside lookback
		{ID: 5, Event: "star", StatusCode: 500, DeliveredAt: mustTime("2026-01-01T12:00:00Z")},   // not an allowed event
	}}

	cfg := Config{LookbackWindow: 24 * time.Hour, MaxResults: 25, AllowedEvents: map[string]bool{"issues": true}}
	out, err := Run(context.Background(), fake, cfg, "acme", "widgets", 99, now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].Delivery.ID)
	require.True(t, out.OK())
}

func TestRun_OrdersOldestFirstAndCapsAtMaxResults(t *testing.T) {
	now := mustTime("2026-01-02T00:00:00Z")
	fake := &fakeDeliveries{items: []Delivery{
		{ID: 10, Event: "issues", StatusCode: 503, DeliveredAt: mustTime("2026-01-01T08:00:00Z")},
		{ID: 11, Event: "issues", StatusCode: 503, DeliveredAt: mustTime("2026-01-01T02:00:00Z")},
		{ID: 12, Event: "issues", StatusCode: 503, DeliveredAt: mustTime("2026-01-01T20:00:00Z")},
	}}

	cfg := Config{LookbackWindow: 24 * time.Hour, MaxResults: 2, AllowedEvents: map[string]bool{"issues": true}}
	out, err := Run(context.Background(), fake, cfg, "acme", "widgets", 99, now)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, int64(11), out[0].Delivery.ID)
	require.Equal(t, int64(10), out[1].Delivery.ID)
	require.Equal(t, []int64{11, 10}, fake.redelivers)
}

func TestRun_RedeliverFailureIsReportedNotFatal(t *testing.T) {
	now := mustTime("2026-01-02T00:00:00Z")
	fake := &fakeDeliveries{
		failID: 1,
		items: []Delivery{
			{ID: 1, Event: "issues", StatusCode: 500, DeliveredAt: mustTime("2026-01-01T12:00:00Z")},
		},
	}

	cfg := Config{LookbackWindow: 24 * time.Hour, MaxResults: 25, AllowedEvents: map[string]bool{"issues": true}}
	out, err := Run(context.Background(), fake, cfg, "acme", "widgets", 99, now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Error(t, out[0].Err)
	require.False(t, out.OK())
}

func TestRun_ZeroMaxResultsMeansUnbounded(t *testing.T) {
	now := mustTime("2026-01-02T00:00:00Z")
	fake := &fakeDeliveries{items: []Delivery{
		{ID: 1, Event: "issues", StatusCode: 500, DeliveredAt: mustTime("2026-01-01T12:00:00Z")},
		{ID: 2, Event: "issues", StatusCode: 500, DeliveredAt: mustTime("2026-01-01T13:00:00Z")},
	}}

	cfg := Config{LookbackWindow: 24 * time.Hour, MaxResults: 0, AllowedEvents: map[string]bool{"issues": true}}
	out, err := Run(context.Background(), fake, cfg, "acme", "widgets", 99, now)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

package followup

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclaw/issue-dispatcher/internal/forge"
	"github.com/openclaw/issue-dispatcher/internal/routing"
	"github.com/openclaw/issue-dispatcher/internal/state"
)

func testRoutingConfig() *routing.Config {
	return &routing.Config{
		DefaultRole:   "ctrl^core",
		DefaultPRRole: "ctrl^core",
		PRRules: []routing.PRRule{
			{AnyLabels: []string{"frontend"}, Role: "neonflux"},
		},
	}
}

func newTestManager(t *testing.T, fake *forge.Fake) (*Manager, *state.Store) {
	t.Helper()
	store, err := state.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	mgr := New(store, fake, Config{
		RoutingConfig:                 testRoutingConfig(),
		SecurityOverrideLabel:         "locktrace-override",
		SecuritySensitiveLabels:       []string{"security"},
		SecuritySensitivePathContains: []string{"security/"},
		SecurityReviewerLogin:         "locktrace-bot",
	}, zap.NewNop())
	return mgr, store
}

func TestCreateOrUpdateFollowup_RejectsNonFeedbackEvent(t *testing.T) {
	mgr, _ := newTestManager(t, forge.NewFake())
	_, _, err := mgr.CreateOrUpdateFollowup(context.Background(), Event{EventType: "issues"})
	require.ErrorIs(t, err, ErrNotFeedbackEvent)
}

func TestCreateOrUpdateFollowup_NewTaskIsOpenWithNilClosedAt(t *testing.T) {
	mgr, _ := newTestManager(t, forge.NewFake())
	task, isNew, err := mgr.CreateOrUpdateFollowup(context.Background(), Event{
		EventType:  "pull_request_review",
		Action:     "submitted",
		Repo:       "acme/widgets",
		PRNumber:   5,
		PRTitle:    "Fix frontend bug",
		Labels:     []string{"frontend"},
		DeliveryID: "d1",
	})
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, state.StatusOpen, task.Status)
	require.Nil(t, task.ClosedAt)
	require.Equal(t, "neonflux", task.Role)
	require.Equal(t, "neonflux", task.OwnerRole)
	require.Equal(t, 1, task.EventSequence)
	require.False(t, task.LastEventDuplicate)

	if diff := cmp.Diff(state.RequiredActionChecklist, task.RequiredActionChecklist); diff != "" {
		t.Errorf("required_action_checklist mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateOrUpdateFollowup_OwnerRoleStaysStickyAcrossUpdates(t *testing.T) {
	mgr, _ := newTestManager(t, forge.NewFake())
	ctx := context.Background()

	_, _, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5,
		Labels: []string{"frontend"}, DeliveryID: "d1",
	})
	require.NoError(t, err)

	task, isNew, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5,
		Labels: nil, DeliveryID: "d2",
	})
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, "neonflux", task.OwnerRole)
	require.Equal(t, "ctrl^core", task.Role)
	require.Equal(t, 2, task.EventSequence)
}

func TestCreateOrUpdateFollowup_DuplicateEventIdentityDoesNotAdvanceSequence(t *testing.T) {
	mgr, _ := newTestManager(t, forge.NewFake())
	ctx := context.Background()

	ev := Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5,
		DeliveryID: "d1", CommentID: 0,
	}
	first, _, err := mgr.CreateOrUpdateFollowup(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, 1, first.EventSequence)
	require.False(t, first.LastEventDuplicate)

	second, _, err := mgr.CreateOrUpdateFollowup(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, 1, second.EventSequence)
	require.True(t, second.LastEventDuplicate)
}

func TestCreateOrUpdateFollowup_SecurityReviewRequiredIsMonotone(t *testing.T) {
	fake := forge.NewFake()
	fake.Paths["acme/widgets#5"] = []string{"security/policy.go"}
	mgr, _ := newTestManager(t, fake)
	ctx := context.Background()

	task, _, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5, DeliveryID: "d1",
	})
	require.NoError(t, err)
	require.True(t, task.SecurityReviewRequired)

	fake.Paths["acme/widgets#5"] = nil
	task, _, err = mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5, DeliveryID: "d2",
	})
	require.NoError(t, err)
	require.True(t, task.SecurityReviewRequired)
}

func TestCreateOrUpdateFollowup_ReopensClosedTaskAndPreservesCreatedAt(t *testing.T) {
	fake := forge.NewFake()
	mgr, store := newTestManager(t, fake)
	ctx := context.Background()

	task, _, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5, DeliveryID: "d1",
	})
	require.NoError(t, err)
	createdAt := task.CreatedAt

	key := state.Key("acme/widgets", 5)
	fake.ThreadsResolved["acme/widgets#5"] = boolPtr(true)
	fake.Checks["acme/widgets#5"] = boolPtr(true)
	closed, reason, err := mgr.AttemptCloseFollowup(ctx, key)
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, "all review threads resolved and checks green", reason)
	require.Equal(t, state.StatusClosed, store.GetFollowup(key).Status)

	reopened, isNew, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5, DeliveryID: "d2",
	})
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, state.StatusOpen, reopened.Status)
	require.Nil(t, reopened.ClosedAt)
	require.True(t, reopened.CreatedAt.Equal(createdAt))
	require.Equal(t, 2, reopened.EventSequence)
}

func TestAttemptCloseFollowup_MissingGatesJoinedBySemicolon(t *testing.T) {
	fake := forge.NewFake()
	mgr, _ := newTestManager(t, fake)
	ctx := context.Background()

	_, _, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5, DeliveryID: "d1",
	})
	require.NoError(t, err)

	closed, reason, err := mgr.AttemptCloseFollowup(ctx, state.Key("acme/widgets", 5))
	require.NoError(t, err)
	require.False(t, closed)
	require.Contains(t, reason, "review thread status unavailable")
	require.Contains(t, reason, "check status unavailable")
}

func TestAttemptCloseFollowup_SecurityOverrideLabelBypassesLocktraceGate(t *testing.T) {
	fake := forge.NewFake()
	fake.Paths["acme/widgets#5"] = []string{"security/policy.go"}
	fake.ThreadsResolved["acme/widgets#5"] = boolPtr(true)
	fake.Checks["acme/widgets#5"] = boolPtr(true)
	changesRequested := "CHANGES_REQUESTED"
	fake.SecurityReviews["acme/widgets#5"] = &changesRequested

	mgr, _ := newTestManager(t, fake)
	ctx := context.Background()

	_, _, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5,
		Labels: []string{"locktrace-override"}, DeliveryID: "d1",
	})
	require.NoError(t, err)

	closed, reason, err := mgr.AttemptCloseFollowup(ctx, state.Key("acme/widgets", 5))
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, "all review threads resolved and checks green", reason)
}

func TestAttemptCloseFollowup_RequiresLocktraceApprovalWithoutOverride(t *testing.T) {
	fake := forge.NewFake()
	fake.Paths["acme/widgets#5"] = []string{"security/policy.go"}
	fake.ThreadsResolved["acme/widgets#5"] = boolPtr(true)
	fake.Checks["acme/widgets#5"] = boolPtr(true)
	changesRequested := "CHANGES_REQUESTED"
	fake.SecurityReviews["acme/widgets#5"] = &changesRequested

	mgr, _ := newTestManager(t, fake)
	ctx := context.Background()

	_, _, err := mgr.CreateOrUpdateFollowup(ctx, Event{
		EventType: "pull_request_review", Repo: "acme/widgets", PRNumber: 5, DeliveryID: "d1",
	})
	require.NoError(t, err)

	closed, reason, err := mgr.AttemptCloseFollowup(ctx, state.Key("acme/widgets", 5))
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, "locktrace approval required", reason)
}

func boolPtr(b bool) *bool { return &b }

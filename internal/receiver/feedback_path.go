package receiver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclaw/issue-dispatcher/internal/dispatch"
	"github.com/openclaw/issue-dispatcher/internal/state"
)

// followupContext is the context_json payload for a pr-followup dispatch
// (spec.md §4.8, "PR-feedback path specifics").
type followupContext struct {
	DispatchID              string   `json:"dispatch_id"`
	TaskID                  string   `json:"task_id"`
	Repo                    string   `json:"repo"`
	PRNumber                int      `json:"pr_number"`
	PRURL                   string   `json:"pr_url"`
	CommentPermalinks       []string `json:"comment_permalinks"`
	RequiredActionChecklist []string `json:"required_action_checklist"`
	ClosureGate             string   `json:"closure_gate"`
}

// handleFeedbackPath implements spec.md §4.8's PR-feedback path.
func (s *Server) handleFeedbackPath(ctx context.Context, w http.ResponseWriter, deliveryID, eventType string, p *parsedEvent) {
	task, _, err := s.followups.CreateOrUpdateFollowup(ctx, *p.feedback)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, webhookResponse{OK: false, Error: err.Error()})
		return
	}

	dispatchID := uuid.New().String()
	fields := dispatch.TaskFields{
		Role:       task.Role,
		Repo:       task.Repo,
		TaskKind:   "pr-followup",
		TaskNumber: strconv.Itoa(task.PRNumber),
		TaskTitle:  task.PRTitle,
		TaskURL:    task.PRURL,
		ContextJSON: contextJSON(followupContext{
			DispatchID:              dispatchID,
			TaskID:                  task.ID,
			Repo:                    task.Repo,
			PRNumber:                task.PRNumber,
			PRURL:                   task.PRURL,
			CommentPermalinks:       task.CommentPermalinks,
			RequiredActionChecklist: task.RequiredActionChecklist,
			ClosureGate:             "pending",
		}),
	}
	cmd := s.invoker.RenderHook(fields, true)
	started := time.Now()
	result := s.invoker.Dispatch(ctx, cmd)
	s.metrics.DispatchDuration.WithLabelValues("pr-followup").Observe(time.Since(started).Seconds())
	ok := dispatch.DispatchOK(result.ExitCode, result.Marker)
	s.metrics.DispatchOutcomes.WithLabelValues("pr-followup", outcomeLabel(ok)).Inc()
	s.log.Info("dispatched pr-followup", zap.String("dispatch_id", dispatchID), zap.String("task_id", task.ID), zap.Bool("ok", ok))

	if !ok {
		// PR-feedback path: dispatch failure returns 502 and does NOT mark
		// the delivery processed, so the forge may redeliver (spec.md §5).
		respondJSON(w, http.StatusBadGateway, webhookResponse{
			OK:       false,
			Error:    "dispatch failed",
			Role:     task.Role,
			Command:  result.Command,
			Exit:     intPtr(result.ExitCode),
			Stdout:   tail(result.Stdout, 1000),
			Stderr:   tail(result.Stderr, 1000),
			Followup: task,
		})
		return
	}

	key := state.Key(task.Repo, task.PRNumber)
	closed, reason, err := s.followups.AttemptCloseFollowup(ctx, key)
	if err != nil {
		s.log.Error("failed to evaluate closure gate", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, webhookResponse{OK: false, Error: "closure gate evaluation failed"})
		return
	}
	s.metrics.ClosureGateResults.WithLabelValues(strconv.FormatBool(closed)).Inc()

	s.postCommentBestEffort(ctx, task.Repo, task.PRNumber, feedbackStatusComment(task, closed, reason))

	if err := s.store.MarkProcessed(deliveryID, p.fingerprint); err != nil {
		s.log.Error("failed to persist processed state", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, webhookResponse{OK: false, Error: "persistence failure"})
		return
	}
	s.metrics.WebhookDeliveries.WithLabelValues(eventType, p.feedback.Action, "handled").Inc()

	refreshed := s.store.GetFollowup(key)

	respondJSON(w, http.StatusOK, webhookResponse{
		OK:           true,
		Role:         task.Role,
		AutoExecuted: boolPtr(true),
		Command:      result.Command,
		Exit:         intPtr(result.ExitCode),
		Stdout:       tail(result.Stdout, 1000),
		Stderr:       tail(result.Stderr, 1000),
		Followup:     refreshed,
		Closure:      &closureView{Closed: closed, Reason: reason},
	})
}

func feedbackStatusComment(task *state.FollowupTask, closed bool, reason string) string {
	if closed {
		return fmt.Sprintf("Follow-up for **%s** closed: %s.", task.Role, reason)
	}
	return fmt.Sprintf("Follow-up for **%s** remains open: %s.", task.Role, reason)
}

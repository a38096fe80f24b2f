package receiver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclaw/issue-dispatcher/internal/dispatch"
	"github.com/openclaw/issue-dispatcher/internal/routing"
)

// issueContext is the context_json payload for an issue-triage dispatch.
// DispatchID correlates this invocation across the bridge's own logs and
// ours, the way the teacher stamps a fresh uuid on every HITL workflow
// record it creates.
type issueContext struct {
	DispatchID  string `json:"dispatch_id"`
	IssueNumber int    `json:"issue_number"`
	IssueTitle  string `json:"issue_title"`
	IssueURL    string `json:"issue_url"`
}

// handleIssuePath implements spec.md §4.8's issue path.
func (s *Server) handleIssuePath(ctx context.Context, w http.ResponseWriter, deliveryID, eventType string, p *parsedEvent) {
	issue := routing.Issue{Labels: p.issueLabels, Title: p.issueTitle, Body: p.issueBody}
	role, confident, reason := routing.RouteIssue(issue, s.routingCfg)

	if hasLabelFold(p.issueLabels, s.cfg.TriageForceLabel) {
		role = routing.NormalizeRole(s.routingCfg.DefaultRole, s.routingCfg, false)
		confident = false
		reason = "triage-force label present"
	}

	autoExecute := s.cfg.AutoExecuteEnabled && confident &&
		(!s.cfg.AutoExecuteOnlyOnOpened || p.issueAction == "opened")

	resp := webhookResponse{OK: true, Role: role, RoutingReason: reason, AutoExecuted: boolPtr(autoExecute)}

	var result *dispatch.Result
	if autoExecute {
		dispatchID := uuid.New().String()
		fields := dispatch.TaskFields{
			Role:       role,
			Repo:       p.repo,
			TaskKind:   "issue-triage",
			TaskNumber: itoa(p.issueNumber),
			TaskTitle:  p.issueTitle,
			TaskURL:    p.issueURL,
			ContextJSON: contextJSON(issueContext{
				DispatchID:  dispatchID,
				IssueNumber: p.issueNumber,
				IssueTitle:  p.issueTitle,
				IssueURL:    p.issueURL,
			}),
		}
		cmd := s.invoker.RenderHook(fields, false)
		started := time.Now()
		r := s.invoker.Dispatch(ctx, cmd)
		s.metrics.DispatchDuration.WithLabelValues("issue-triage").Observe(time.Since(started).Seconds())
		result = &r

		ok := dispatch.DispatchOK(r.ExitCode, r.Marker)
		s.metrics.DispatchOutcomes.WithLabelValues("issue-triage", outcomeLabel(ok)).Inc()
		s.log.Info("dispatched issue-triage", zap.String("dispatch_id", dispatchID), zap.String("role", role), zap.Bool("ok", ok))

		resp.Command = r.Command
		resp.Exit = intPtr(r.ExitCode)
		resp.Stdout = tail(r.Stdout, 1000)
		resp.Stderr = tail(r.Stderr, 1000)
	}

	s.postCommentBestEffort(ctx, p.repo, p.issueNumber, issueStatusComment(role, reason, autoExecute, result))

	if err := s.store.MarkProcessed(deliveryID, p.fingerprint); err != nil {
		s.log.Error("failed to persist processed state", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, webhookResponse{OK: false, Error: "persistence failure"})
		return
	}

	s.metrics.WebhookDeliveries.WithLabelValues(eventType, p.issueAction, "handled").Inc()
	respondJSON(w, http.StatusOK, resp)
}

func issueStatusComment(role, reason string, autoExecuted bool, result *dispatch.Result) string {
	switch {
	case !autoExecuted:
		return fmt.Sprintf("Routed to **%s** (%s). Auto-execution skipped.", role, reason)
	case result == nil:
		return fmt.Sprintf("Routed to **%s** (%s).", role, reason)
	case dispatch.DispatchOK(result.ExitCode, result.Marker):
		return fmt.Sprintf("Routed to **%s** (%s). Dispatched successfully.", role, reason)
	default:
		return fmt.Sprintf("Routed to **%s** (%s). Dispatch failed (exit %d).", role, reason, result.ExitCode)
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

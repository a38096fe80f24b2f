// Package receiver implements the HTTP receiver of spec.md §4.8: the
// /healthz and /github/webhook endpoints, orchestrating signature
// verification, deduplication, routing, dispatch, and follow-up closure.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openclaw/issue-dispatcher/internal/dispatch"
	"github.com/openclaw/issue-dispatcher/internal/fingerprint"
	"github.com/openclaw/issue-dispatcher/internal/followup"
	"github.com/openclaw/issue-dispatcher/internal/forge"
	"github.com/openclaw/issue-dispatcher/internal/ghevents"
	"github.com/openclaw/issue-dispatcher/internal/metrics"
	"github.com/openclaw/issue-dispatcher/internal/routing"
	"github.com/openclaw/issue-dispatcher/internal/signing"
	"github.com/openclaw/issue-dispatcher/internal/state"
)

const (
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"

	maxWebhookBodySize = 5 << 20 // 5 MiB
)

var allowedEvents = map[string]bool{
	"issues":                       true,
	"pull_request_review":         true,
	"pull_request_review_comment": true,
	"issue_comment":                true,
}

var allowedIssueActions = map[string]bool{
	"opened": true, "edited": true, "labeled": true, "reopened": true,
}

var allowedFeedbackActions = map[string]bool{
	"created": true, "edited": true, "submitted": true,
}

// Config configures a Server.
type Config struct {
	WebhookSecret           string
	TriageForceLabel        string
	AutoExecuteEnabled      bool
	AutoExecuteOnlyOnOpened bool
	CommentPostTimeout      time.Duration
}

// Server wires the dispatch service's components behind the HTTP surface.
type Server struct {
	cfg        Config
	store      *state.Store
	routingCfg *routing.Config
	forge      forge.Ops
	followups  *followup.Manager
	invoker    *dispatch.Invoker
	metrics    *metrics.Registry
	log        *zap.Logger
	limiter    *rateLimiter
}

// New builds a Server.
func New(cfg Config, store *state.Store, routingCfg *routing.Config, ops forge.Ops, followups *followup.Manager, invoker *dispatch.Invoker, reg *metrics.Registry, log *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		routingCfg: routingCfg,
		forge:      ops,
		followups:  followups,
		invoker:    invoker,
		metrics:    reg,
		log:        log,
		limiter:    newRateLimiter(rateLimitMaxRequests, rateLimitWindow, nil),
	}
}

// Router builds the mux.Router exposing the service's HTTP surface.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/github/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	return s.limiter.middleware(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusNotFound, webhookResponse{OK: false, Error: "not found"})
}

// handleWebhook implements the reception protocol of spec.md §4.8.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readExactBody(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, webhookResponse{OK: false, Error: "failed to read request body"})
		return
	}

	eventType := r.Header.Get(headerEvent)
	deliveryID := r.Header.Get(headerDelivery)
	signature := r.Header.Get(headerSignature)

	if !allowedEvents[eventType] {
		respondJSON(w, http.StatusOK, webhookResponse{OK: true, Ignored: "event " + eventType})
		return
	}

	if !signing.VerifySignature([]byte(s.cfg.WebhookSecret), signature, body) {
		s.log.Warn("webhook signature verification failed", zap.String("event", eventType), zap.String("delivery", deliveryID))
		respondJSON(w, http.StatusUnauthorized, webhookResponse{OK: false, Error: "invalid signature"})
		return
	}

	var actionProbe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &actionProbe); err != nil {
		respondJSON(w, http.StatusBadRequest, webhookResponse{OK: false, Error: "invalid payload"})
		return
	}

	parsed, err := s.parseEvent(eventType, actionProbe.Action, deliveryID, body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, webhookResponse{OK: false, Error: err.Error()})
		return
	}
	if parsed.ignored != "" {
		respondJSON(w, http.StatusOK, webhookResponse{OK: true, Ignored: parsed.ignored})
		return
	}

	if deliveryID != "" && s.store.HasDelivery(deliveryID) {
		respondJSON(w, http.StatusOK, webhookResponse{OK: true, Ignored: "duplicate delivery"})
		return
	}
	if s.store.HasFingerprint(parsed.fingerprint) {
		respondJSON(w, http.StatusOK, webhookResponse{OK: true, Ignored: "duplicate payload"})
		return
	}

	ctx := r.Context()
	if parsed.isIssue {
		s.handleIssuePath(ctx, w, deliveryID, eventType, parsed)
		return
	}
	s.handleFeedbackPath(ctx, w, deliveryID, eventType, parsed)
}

// readExactBody reads the request body under a hard cap, per spec.md §4.8
// step 1. The allocation itself is bounded by maxWebhookBodySize rather than
// the untrusted Content-Length header -- a request can claim an arbitrarily
// large Content-Length while sending a tiny body, and http.MaxBytesReader
// only caps bytes read, not bytes allocated up front.
func readExactBody(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBodySize)
	return io.ReadAll(r.Body)
}

// parsedEvent is the outcome of decoding and filtering a webhook payload.
type parsedEvent struct {
	isIssue     bool
	ignored     string
	fingerprint string

	repo           string
	issueNumber    int
	issueTitle     string
	issueBody      string
	issueURL       string
	issueAction    string
	issueLabels    []string

	feedback *followup.Event
}

// errMissingIssueRepo is returned by the parse functions when the payload
// lacks a repository full_name or the issue/PR number, matching the
// original dispatcher's "missing issue/repo" 400 (spec.md §6, §7:
// malformed requests are never persisted).
var errMissingIssueRepo = fmt.Errorf("missing issue/repo")

func (s *Server) parseEvent(eventType, action, deliveryID string, body []byte) (*parsedEvent, error) {
	switch eventType {
	case "issues":
		return s.parseIssuesEvent(action, deliveryID, body)
	case "pull_request_review":
		return s.parseReviewEvent(action, deliveryID, body)
	case "pull_request_review_comment":
		return s.parseReviewCommentEvent(action, deliveryID, body)
	case "issue_comment":
		return s.parseIssueCommentEvent(action, deliveryID, body)
	default:
		return nil, fmt.Errorf("unhandled event type %q", eventType)
	}
}

func (s *Server) parseIssuesEvent(action, _ string, body []byte) (*parsedEvent, error) {
	var ev ghevents.IssuesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decoding issues event: %w", err)
	}
	if !allowedIssueActions[action] {
		return &parsedEvent{ignored: "action " + action}, nil
	}
	repo := ev.Repository.FullName
	if repo == "" || ev.Issue.Number == 0 {
		return nil, errMissingIssueRepo
	}
	return &parsedEvent{
		isIssue:     true,
		fingerprint: fingerprint.Issue(repo, ev.Issue.Number, action, ev.Issue.UpdatedAt),
		repo:        repo,
		issueNumber: ev.Issue.Number,
		issueTitle:  ev.Issue.Title,
		issueBody:   ev.Issue.Body,
		issueURL:    ev.Issue.HTMLURL,
		issueAction: action,
		issueLabels: ghevents.LabelNames(ev.Issue.Labels),
	}, nil
}

func (s *Server) parseReviewEvent(action, deliveryID string, body []byte) (*parsedEvent, error) {
	var ev ghevents.PullRequestReviewEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decoding pull_request_review event: %w", err)
	}
	if !allowedFeedbackActions[action] {
		return &parsedEvent{ignored: "action " + action}, nil
	}
	repo := ev.Repository.FullName
	if repo == "" || ev.PullRequest.Number == 0 {
		return nil, errMissingIssueRepo
	}
	fp := fingerprint.Review("pull_request_review", repo, ev.PullRequest.Number, action, ev.Review.SubmittedAt, ev.Review.HTMLURL)
	return &parsedEvent{
		fingerprint: fp,
		feedback: &followup.Event{
			EventType:    "pull_request_review",
			Action:       action,
			Repo:         repo,
			PRNumber:     ev.PullRequest.Number,
			PRTitle:      ev.PullRequest.Title,
			PRURL:        ev.PullRequest.HTMLURL,
			Labels:       ghevents.LabelNames(ev.PullRequest.Labels),
			Body:         ev.PullRequest.Body,
			FeedbackBody: ev.Review.Body,
			Permalink:    ev.Review.HTMLURL,
			Source:       "pull_request_review",
			Sender:       ev.Sender.Login,
			DeliveryID:   deliveryID,
		},
	}, nil
}

func (s *Server) parseReviewCommentEvent(action, deliveryID string, body []byte) (*parsedEvent, error) {
	var ev ghevents.PullRequestReviewCommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decoding pull_request_review_comment event: %w", err)
	}
	if !allowedFeedbackActions[action] {
		return &parsedEvent{ignored: "action " + action}, nil
	}
	repo := ev.Repository.FullName
	if repo == "" || ev.PullRequest.Number == 0 {
		return nil, errMissingIssueRepo
	}
	ts := ev.Comment.UpdatedAt
	if ts == "" {
		ts = ev.Comment.CreatedAt
	}
	fp := fingerprint.Comment("pull_request_review_comment", repo, ev.PullRequest.Number, action, ts, ev.Comment.HTMLURL)
	return &parsedEvent{
		fingerprint: fp,
		feedback: &followup.Event{
			EventType:    "pull_request_review_comment",
			Action:       action,
			Repo:         repo,
			PRNumber:     ev.PullRequest.Number,
			PRTitle:      ev.PullRequest.Title,
			PRURL:        ev.PullRequest.HTMLURL,
			Labels:       ghevents.LabelNames(ev.PullRequest.Labels),
			Body:         ev.PullRequest.Body,
			FeedbackBody: ev.Comment.Body,
			Permalink:    ev.Comment.HTMLURL,
			Source:       "pull_request_review_comment",
			Sender:       ev.Sender.Login,
			DeliveryID:   deliveryID,
			CommentID:    ev.Comment.ID,
		},
	}, nil
}

func (s *Server) parseIssueCommentEvent(action, deliveryID string, body []byte) (*parsedEvent, error) {
	var ev ghevents.IssueCommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decoding issue_comment event: %w", err)
	}
	if ev.Issue.PullRequest == nil {
		return &parsedEvent{ignored: "not a pull request comment"}, nil
	}
	if !allowedFeedbackActions[action] {
		return &parsedEvent{ignored: "action " + action}, nil
	}
	repo := ev.Repository.FullName
	if repo == "" || ev.Issue.Number == 0 {
		return nil, errMissingIssueRepo
	}
	ts := ev.Comment.UpdatedAt
	if ts == "" {
		ts = ev.Comment.CreatedAt
	}
	fp := fingerprint.Comment("issue_comment", repo, ev.Issue.Number, action, ts, ev.Comment.HTMLURL)
	return &parsedEvent{
		fingerprint: fp,
		feedback: &followup.Event{
			EventType:    "issue_comment",
			Action:       action,
			Repo:         repo,
			PRNumber:     ev.Issue.Number,
			PRTitle:      ev.Issue.Title,
			PRURL:        ev.Issue.PullRequest.HTMLURL,
			Labels:       ghevents.LabelNames(ev.Issue.Labels),
			Body:         ev.Issue.Body,
			FeedbackBody: ev.Comment.Body,
			Permalink:    ev.Comment.HTMLURL,
			Source:       "issue_comment",
			Sender:       ev.Sender.Login,
			DeliveryID:   deliveryID,
			CommentID:    ev.Comment.ID,
		},
	}, nil
}

func (s *Server) postCommentBestEffort(ctx context.Context, repo string, number int, body string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommentPostTimeout)
	defer cancel()
	if err := s.forge.PostComment(ctx, repo, number, body); err != nil {
		s.log.Warn("failed to post status comment, continuing", zap.String("repo", repo), zap.Int("number", number), zap.Error(err))
	}
}

func hasLabelFold(labels []string, target string) bool {
	if target == "" {
		return false
	}
	for _, l := range labels {
		if strings.EqualFold(l, target) {
			return true
		}
	}
	return false
}

func contextJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func itoa(n int) string { return strconv.Itoa(n) }

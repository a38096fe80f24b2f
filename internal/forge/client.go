// Package forge wraps the two forge read paths (REST JSON and GraphQL) and
// the one write path (post issue/PR comment) needed by the dispatch service,
// per spec.md §4.5.
//
// Ops is the capability-injection seam described in spec.md §9: the HTTP
// receiver and follow-up manager depend on this interface, not on *Client,
// so tests can substitute a fake forge without monkey-patching.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shurcooL/githubv4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Ops is the subset of forge operations the rest of the service depends on.
type Ops interface {
	// ReadJSON performs gh_api_json: GET REST JSON with bearer auth. Returns
	// nil on any failure rather than raising (spec.md §4.5).
	ReadJSON(ctx context.Context, path string) json.RawMessage

	// GraphQL performs gh_graphql: POST a GraphQL document, decoding into
	// query. Returns false on any failure rather than raising.
	GraphQL(ctx context.Context, query any, variables map[string]any) bool

	// PostComment posts a comment on an issue/PR. Failures are the caller's
	// to log and ignore (spec.md §4.5: "warn and continue").
	PostComment(ctx context.Context, repo string, number int, body string) error

	// AllThreadsResolved returns true only if every review thread on the PR
	// is resolved; nil on query failure.
	AllThreadsResolved(ctx context.Context, repo string, prNumber int) *bool

	// ChecksGreen returns true only on a SUCCESS/success rollup/combined
	// status; nil on query failure.
	ChecksGreen(ctx context.Context, repo string, prNumber int) *bool

	// LatestSecurityReviewState returns the most recent PR review state by
	// reviewerLogin, or nil if none exists or the query failed.
	LatestSecurityReviewState(ctx context.Context, repo string, prNumber int, reviewerLogin string) *string

	// ChangedPaths returns the PR's changed file paths, used by the routing
	// engine's any_paths predicate (spec.md §4.3). On failure, only the
	// paths fetched before the failure (possibly none).
	ChangedPaths(ctx context.Context, repo string, prNumber int) []string
}

// Config configures a Client.
type Config struct {
	Token               string
	APIBaseURL          string
	GraphQLURL          string
	ReadTimeout         time.Duration
	GraphQLTimeout      time.Duration
	CircuitBreakerName  string
	MaxConsecutiveTrips uint32
}

// Client implements Ops against the real forge.
type Client struct {
	rest           *github.Client
	gql            *githubv4.Client
	raw            *retryablehttp.Client
	apiBaseURL     string
	token          string
	readTimeout    time.Duration
	graphqlTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
	log            *zap.Logger
}

// NewClient builds a Client. Returns an error only for malformed base URLs;
// a missing token is allowed (requests will simply fail at call time, which
// Ops methods treat as an unavailable result, never a panic).
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)

	rest := github.NewClient(httpClient)
	if cfg.APIBaseURL != "" && cfg.APIBaseURL != "https://api.github.com" {
		var err error
		rest, err = rest.WithEnterpriseURLs(cfg.APIBaseURL, cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring forge REST base URL: %w", err)
		}
	}

	graphqlURL := cfg.GraphQLURL
	if graphqlURL == "" {
		graphqlURL = "https://api.github.com/graphql"
	}
	gql := githubv4.NewEnterpriseClient(graphqlURL, httpClient)

	raw := retryablehttp.NewClient()
	raw.HTTPClient = httpClient
	raw.Logger = nil
	raw.RetryMax = 2

	breakerSettings := gobreaker.Settings{
		Name: cfg.CircuitBreakerName,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trips := cfg.MaxConsecutiveTrips
			if trips == 0 {
				trips = 5
			}
			return counts.ConsecutiveFailures >= trips
		},
	}

	return &Client{
		rest:           rest,
		gql:            gql,
		raw:            raw,
		apiBaseURL:     strings.TrimSuffix(cfg.APIBaseURL, "/"),
		token:          cfg.Token,
		readTimeout:    cfg.ReadTimeout,
		graphqlTimeout: cfg.GraphQLTimeout,
		breaker:        gobreaker.NewCircuitBreaker(breakerSettings),
		log:            log,
	}, nil
}

func (c *Client) ReadJSON(ctx context.Context, path string) json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	base := c.apiBaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	url := base + "/" + strings.TrimPrefix(path, "/")

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := c.raw.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("forge REST GET %s returned HTTP %d", path, resp.StatusCode)
		}
		return json.RawMessage(body), nil
	})
	if err != nil {
		c.logFailure("read_json", err, zap.String("path", path))
		return nil
	}
	return result.(json.RawMessage)
}

func (c *Client) GraphQL(ctx context.Context, query any, variables map[string]any) bool {
	ctx, cancel := context.WithTimeout(ctx, c.graphqlTimeout)
	defer cancel()

	ghv4vars := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		ghv4vars[k] = v
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.gql.Query(ctx, query, ghv4vars)
	})
	if err != nil {
		c.logFailure("graphql", err)
		return false
	}
	return true
}

func (c *Client) PostComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	_, _, err = c.rest.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("posting comment on %s#%d: %w", repo, number, err)
	}
	return nil
}

func (c *Client) logFailure(op string, err error, fields ...zap.Field) {
	if c.log == nil {
		return
	}
	c.log.Warn("forge call failed, treating as unavailable", append(fields, zap.String("op", op), zap.Error(err))...)
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed repo %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

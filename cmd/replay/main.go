package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/oauth2"

	"github.com/openclaw/issue-dispatcher/internal/replay"
)

// env holds the replay tool's environment inputs (spec.md §6: "forge token,
// forge API base URL ... lookback-window and max-replay caps").
type env struct {
	ForgeToken       string        `env:"GITHUB_TOKEN,required"`
	ForgeAPIBase     string        `env:"GITHUB_API_BASE_URL,default=https://api.github.com"`
	ReplayLookback   time.Duration `env:"REPLAY_LOOKBACK_WINDOW,default=24h"`
	ReplayMaxResults int           `env:"REPLAY_MAX_RESULTS,default=25"`
}

var defaultAllowedEvents = map[string]bool{
	"issues":                       true,
	"pull_request_review":         true,
	"pull_request_review_comment": true,
	"issue_comment":                true,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run implements the operator entry point from spec.md §4.9. Exit codes:
//
//	0 = all eligible deliveries redelivered successfully (including none eligible)
//	1 = at least one redelivery attempt failed
//	2 = usage or configuration error, or the delivery listing failed
func run(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		repo       string
		hookID     int64
		jsonOutput bool
	)
	cmd.StringVar(&repo, "repo", "", "owner/repo of the webhook's target repository (required)")
	cmd.Int64Var(&hookID, "hook-id", 0, "numeric ID of the repository webhook to replay deliveries for (required)")
	cmd.BoolVar(&jsonOutput, "json", false, "emit the result as a single JSON object")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	owner, name, ok := splitRepo(repo)
	if !ok {
		fmt.Fprintln(stderr, "Error: --repo is required and must be owner/repo")
		return 2
	}
	if hookID <= 0 {
		fmt.Fprintln(stderr, "Error: --hook-id is required")
		return 2
	}

	var cfg env
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		fmt.Fprintf(stderr, "Error: loading environment: %v\n", err)
		return 2
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.ForgeToken})
	httpClient := oauth2.NewClient(context.Background(), ts)
	rest := github.NewClient(httpClient)
	if cfg.ForgeAPIBase != "" && cfg.ForgeAPIBase != "https://api.github.com" {
		var err error
		rest, err = rest.WithEnterpriseURLs(cfg.ForgeAPIBase, cfg.ForgeAPIBase)
		if err != nil {
			fmt.Fprintf(stderr, "Error: configuring forge API base URL: %v\n", err)
			return 2
		}
	}

	deliveries := replay.NewGitHubDeliveries(rest)
	runCfg := replay.Config{
		LookbackWindow: cfg.ReplayLookback,
		MaxResults:     cfg.ReplayMaxResults,
		AllowedEvents:  defaultAllowedEvents,
	}

	outcomes, err := replay.Run(context.Background(), deliveries, runCfg, owner, name, hookID, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	printResult(stdout, repo, hookID, outcomes, jsonOutput)
	if !outcomes.OK() {
		return 1
	}
	return 0
}

func printResult(w io.Writer, repo string, hookID int64, outcomes replay.Outcomes, jsonOutput bool) {
	if jsonOutput {
		type item struct {
			DeliveryID int64  `json:"delivery_id"`
			GUID       string `json:"guid"`
			Event      string `json:"event"`
			StatusCode int    `json:"status_code"`
			Error      string `json:"error,omitempty"`
		}
		items := make([]item, 0, len(outcomes))
		for _, o := range outcomes {
			it := item{DeliveryID: o.Delivery.ID, GUID: o.Delivery.GUID, Event: o.Delivery.Event, StatusCode: o.Delivery.StatusCode}
			if o.Err != nil {
				it.Error = o.Err.Error()
			}
			items = append(items, it)
		}
		data, _ := json.MarshalIndent(map[string]any{
			"repo":    repo,
			"hook_id": hookID,
			"ok":      outcomes.OK(),
			"count":   len(outcomes),
			"results": items,
		}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	fmt.Fprintf(w, "Replayed %d delivery(ies) for %s (hook %d):\n", len(outcomes), repo, hookID)
	for _, o := range outcomes {
		status := "ok"
		if o.Err != nil {
			status = "FAILED: " + o.Err.Error()
		}
		fmt.Fprintf(w, "  - delivery %d (%s, was HTTP %d): %s\n", o.Delivery.ID, o.Delivery.Event, o.Delivery.StatusCode, status)
	}
}

func splitRepo(repo string) (owner, name string, ok bool) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

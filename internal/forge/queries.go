package forge

import (
	"context"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/shurcooL/githubv4"
)

// threadsQuery fetches up to 100 review threads' resolution state. PRs with
// more than 100 threads are vanishingly rare in practice; this is a
// deliberate bound, not a silent truncation of correctness (a PR with more
// threads than this simply never reports fully resolved).
type threadsQuery struct {
	Repository struct {
		PullRequest struct {
			ReviewThreads struct {
				TotalCount int
				Nodes      []struct {
					IsResolved bool
				}
			} `graphql:"reviewThreads(first: 100)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $repo)"`
}

func (c *Client) AllThreadsResolved(ctx context.Context, repo string, prNumber int) *bool {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil
	}

	var q threadsQuery
	ok := c.GraphQL(ctx, &q, map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(name),
		"number": githubv4.Int(prNumber),
	})
	if !ok {
		return nil
	}

	threads := q.Repository.PullRequest.ReviewThreads
	resolved := threads.TotalCount <= len(threads.Nodes)
	for _, n := range threads.Nodes {
		if !n.IsResolved {
			resolved = false
			break
		}
	}
	return &resolved
}

type checksRollupQuery struct {
	Repository struct {
		PullRequest struct {
			Commits struct {
				Nodes []struct {
					Commit struct {
						StatusCheckRollup struct {
							State string
						}
					}
				}
			} `graphql:"commits(last: 1)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $repo)"`
}

// ChecksGreen evaluates the last commit's statusCheckRollup.state via
// GraphQL, falling back to the REST combined-status endpoint on query
// failure (spec.md §4.5).
func (c *Client) ChecksGreen(ctx context.Context, repo string, prNumber int) *bool {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil
	}

	var q checksRollupQuery
	if c.GraphQL(ctx, &q, map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(name),
		"number": githubv4.Int(prNumber),
	}) {
		nodes := q.Repository.PullRequest.Commits.Nodes
		if len(nodes) == 1 {
			green := strings.EqualFold(nodes[0].Commit.StatusCheckRollup.State, "SUCCESS")
			return &green
		}
	}

	return c.checksGreenREST(ctx, owner, name, prNumber)
}

func (c *Client) checksGreenREST(ctx context.Context, owner, name string, prNumber int) *bool {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	pr, _, err := c.rest.PullRequests.Get(ctx, owner, name, prNumber)
	if err != nil || pr.GetHead().GetSHA() == "" {
		c.logFailure("checks_green_rest_get_pr", err)
		return nil
	}

	status, _, err := c.rest.Repositories.GetCombinedStatus(ctx, owner, name, pr.GetHead().GetSHA(), nil)
	if err != nil {
		c.logFailure("checks_green_rest_combined_status", err)
		return nil
	}
	green := strings.EqualFold(status.GetState(), "success")
	return &green
}

// LatestSecurityReviewState returns the most recent review state submitted
// by reviewerLogin, or nil if none exists or the query failed.
func (c *Client) LatestSecurityReviewState(ctx context.Context, repo string, prNumber int, reviewerLogin string) *string {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	reviews, err := listAllReviews(ctx, c.rest, owner, name, prNumber)
	if err != nil {
		c.logFailure("latest_security_review_state", err)
		return nil
	}

	var latest *github.PullRequestReview
	for _, r := range reviews {
		if !strings.EqualFold(r.GetUser().GetLogin(), reviewerLogin) {
			continue
		}
		if latest == nil || r.GetSubmittedAt().After(latest.GetSubmittedAt().Time) {
			latest = r
		}
	}
	if latest == nil {
		return nil
	}
	state := latest.GetState()
	return &state
}

// ChangedPaths returns the PR's changed file paths. On a failure it returns
// the paths collected from the pages fetched before it (none if the first
// page fails).
func (c *Client) ChangedPaths(ctx context.Context, repo string, prNumber int) []string {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	var paths []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.rest.PullRequests.ListFiles(ctx, owner, name, prNumber, &github.ListOptions{Page: opts.Page, PerPage: opts.PerPage})
		if err != nil {
			c.logFailure("changed_paths", err)
			return paths
		}
		for _, f := range files {
			paths = append(paths, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return paths
}

func listAllReviews(ctx context.Context, rest *github.Client, owner, name string, prNumber int) ([]*github.PullRequestReview, error) {
	var all []*github.PullRequestReview
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := rest.PullRequests.ListReviews(ctx, owner, name, prNumber, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

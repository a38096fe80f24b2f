// Package ghevents holds the minimal webhook payload shapes the receiver
// decodes, following the forge's event schema (spec.md §4.8).
package ghevents

// Repository is the minimal repo fields carried on every event.
type Repository struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// User is a forge account reference.
type User struct {
	Login string `json:"login"`
}

// Label is an issue/PR label.
type Label struct {
	Name string `json:"name"`
}

// Issue is the minimal issue fields needed for routing and fingerprinting.
// GitHub represents a pull request as an issue with a non-null PullRequest
// field, used to distinguish issue_comment events on PRs from plain issues.
type Issue struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	HTMLURL     string  `json:"html_url"`
	UpdatedAt   string  `json:"updated_at"`
	Labels      []Label `json:"labels"`
	User        User    `json:"user"`
	PullRequest *struct {
		HTMLURL string `json:"html_url"`
	} `json:"pull_request"`
}

// PullRequest is the minimal PR fields needed for follow-up tracking.
type PullRequest struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	Labels  []Label `json:"labels"`
	User    User    `json:"user"`
}

// Review is a pull_request_review event's review object.
type Review struct {
	State       string `json:"state"`
	Body        string `json:"body"`
	HTMLURL     string `json:"html_url"`
	SubmittedAt string `json:"submitted_at"`
	User        User   `json:"user"`
}

// Comment is a review-comment or issue-comment object.
type Comment struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	HTMLURL   string `json:"html_url"`
	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at"`
	User      User   `json:"user"`
}

// IssuesEvent is the issues webhook payload.
type IssuesEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

// PullRequestReviewEvent is the pull_request_review webhook payload.
type PullRequestReviewEvent struct {
	Action      string      `json:"action"`
	Review      Review      `json:"review"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// PullRequestReviewCommentEvent is the pull_request_review_comment webhook
// payload.
type PullRequestReviewCommentEvent struct {
	Action      string      `json:"action"`
	Comment     Comment     `json:"comment"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      User        `json:"sender"`
}

// IssueCommentEvent is the issue_comment webhook payload; Issue.PullRequest
// distinguishes a PR-feedback comment from a plain issue comment.
type IssueCommentEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Comment    Comment    `json:"comment"`
	Repository Repository `json:"repository"`
	Sender     User       `json:"sender"`
}

// LabelNames extracts plain label names.
func LabelNames(labels []Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	return names
}

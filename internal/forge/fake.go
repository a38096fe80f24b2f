package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Fake is an in-memory Ops implementation for tests exercising the
// follow-up manager and HTTP receiver without a live forge, per the
// capability-injection seam of spec.md §9.
type Fake struct {
	mu sync.Mutex

	JSONResponses map[string]json.RawMessage
	GraphQLResult bool
	GraphQLFill   func(query any)

	ThreadsResolved  map[string]*bool
	Checks           map[string]*bool
	SecurityReviews  map[string]*string
	Paths            map[string][]string

	Comments []FakeComment

	PostCommentErr error
}

// FakeComment records a single PostComment call.
type FakeComment struct {
	Repo   string
	Number int
	Body   string
}

// NewFake returns a Fake with all maps initialized and GraphQL defaulting
// to success.
func NewFake() *Fake {
	return &Fake{
		JSONResponses:   map[string]json.RawMessage{},
		GraphQLResult:   true,
		ThreadsResolved: map[string]*bool{},
		Checks:          map[string]*bool{},
		SecurityReviews: map[string]*string{},
		Paths:           map[string][]string{},
	}
}

func (f *Fake) ReadJSON(_ context.Context, path string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.JSONResponses[path]
}

func (f *Fake) GraphQL(_ context.Context, query any, _ map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GraphQLFill != nil {
		f.GraphQLFill(query)
	}
	return f.GraphQLResult
}

func (f *Fake) PostComment(_ context.Context, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PostCommentErr != nil {
		return f.PostCommentErr
	}
	f.Comments = append(f.Comments, FakeComment{Repo: repo, Number: number, Body: body})
	return nil
}

func key(repo string, prNumber int) string {
	return fmt.Sprintf("%s#%d", repo, prNumber)
}

func (f *Fake) AllThreadsResolved(_ context.Context, repo string, prNumber int) *bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ThreadsResolved[key(repo, prNumber)]
}

func (f *Fake) ChecksGreen(_ context.Context, repo string, prNumber int) *bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Checks[key(repo, prNumber)]
}

func (f *Fake) LatestSecurityReviewState(_ context.Context, repo string, prNumber int, _ string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SecurityReviews[key(repo, prNumber)]
}

func (f *Fake) ChangedPaths(_ context.Context, repo string, prNumber int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Paths[key(repo, prNumber)]
}

var _ Ops = (*Fake)(nil)

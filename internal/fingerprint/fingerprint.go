// Package fingerprint computes content fingerprints for duplicate
// suppression per spec.md §4.4.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func digest(stable string) string {
	sum := sha256.Sum256([]byte(stable))
	return hex.EncodeToString(sum[:])
}

// Issue fingerprints an `issues` webhook event.
func Issue(repo string, issueNumber int, action, updatedAt string) string {
	return digest(fmt.Sprintf("issues:%s:%d:%s:%s", repo, issueNumber, action, updatedAt))
}

// Review fingerprints a `pull_request_review` webhook event.
func Review(event, repo string, prNumber int, action, submittedAt, reviewURL string) string {
	return digest(fmt.Sprintf("%s:%s:%d:%s:%s:%s", event, repo, prNumber, action, submittedAt, reviewURL))
}

// Comment fingerprints a `pull_request_review_comment` or `issue_comment`
// webhook event, using the comment's own timestamp and permalink.
func Comment(event, repo string, prNumber int, action, timestamp, commentURL string) string {
	return digest(fmt.Sprintf("%s:%s:%d:%s:%s:%s", event, repo, prNumber, action, timestamp, commentURL))
}

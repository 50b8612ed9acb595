// Package forge talks to the VCS host holding the pull request under
// review. All operations here are best-effort from the orchestrator's
// point of view: failures are logged by the caller, never fatal.
package forge

import (
	"context"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"
)

// ReviewAction is the review event submitted to the host.
type ReviewAction string

const (
	ReviewApprove        ReviewAction = "APPROVE"
	ReviewRequestChanges ReviewAction = "REQUEST_CHANGES"
	ReviewComment        ReviewAction = "COMMENT"
)

// PullRequest is the subset of PR metadata the rally needs.
type PullRequest struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	HeadSHA    string `json:"head_sha"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
}

// Comment is a review or discussion comment on the PR.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Path      string    `json:"path,omitempty"`
	Line      int       `json:"line,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is the host contract consumed by the orchestrator.
type Client interface {
	FetchPR(ctx context.Context, repo string, pr int) (*PullRequest, error)
	FetchPRDiff(ctx context.Context, repo string, pr int) (string, error)
	SubmitReview(ctx context.Context, repo string, pr int, action ReviewAction, body string) error
	CreateReviewComment(ctx context.Context, repo string, pr int, commitSHA, path string, line int, body string) error
	FetchReviewComments(ctx context.Context, repo string, pr int) ([]Comment, error)
	FetchDiscussionComments(ctx context.Context, repo string, pr int) ([]Comment, error)
}

// BotFilter identifies comments left by automation so the reviewee can
// take external bot feedback into account. The suffix and exact-match
// lists are supplied at construction, not hardcoded.
type BotFilter struct {
	Suffixes []string // e.g. "[bot]"
	Exact    []string // e.g. "github-actions"
}

// IsBot reports whether the author name matches the filter.
func (f BotFilter) IsBot(author string) bool {
	for _, s := range f.Suffixes {
		if s != "" && strings.HasSuffix(author, s) {
			return true
		}
	}
	for _, e := range f.Exact {
		if e != "" && author == e {
			return true
		}
	}
	return false
}

// FilterBotComments returns the comments written by automation, capped
// at limit (0 = no cap).
func (f BotFilter) FilterBotComments(comments []Comment, limit int) []Comment {
	var out []Comment
	for _, c := range comments {
		if !f.IsBot(c.Author) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ValidateCommentPosition reports whether (path, line) falls on a line
// present on the new side of the unified diff. Inline comments posted
// outside the diff are rejected by the host, so the caller skips them.
func ValidateCommentPosition(unifiedDiff, path string, line int) bool {
	if path == "" || line <= 0 {
		return false
	}
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(unifiedDiff))
	if err != nil {
		return false
	}
	for _, fd := range fileDiffs {
		if stripDiffPrefix(fd.NewName) != path {
			continue
		}
		for _, hunk := range fd.Hunks {
			start := int(hunk.NewStartLine)
			end := start + int(hunk.NewLines) - 1
			if line >= start && line <= end {
				return true
			}
		}
	}
	return false
}

func stripDiffPrefix(name string) string {
	name = strings.TrimPrefix(name, "b/")
	return strings.TrimPrefix(name, "a/")
}

// Package prompt builds the reviewer and reviewee prompts for each
// rally turn. Built-in templates can be overridden per deployment by
// dropping files into the configured prompt directory.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/revrally/revrally/internal/forge"
)

// MaxDiffBytes caps how much diff text is embedded in a prompt. Larger
// diffs are truncated with a marker so the agent knows context is
// missing.
const MaxDiffBytes = 200 * 1024

// reviewerInstructions is the base instruction for a first review pass.
const reviewerInstructions = `You are reviewing a pull request. Examine the diff below for:

1. **Bugs**: logic errors, off-by-one errors, nil/undefined issues, race conditions
2. **Security**: injection vulnerabilities, auth issues, data exposure
3. **Testing gaps**: missing unit tests, uncovered edge cases
4. **Regressions**: changes that might break existing functionality
5. **Code quality**: duplication, overly complex logic, unclear naming

Respond with your structured verdict. Use "approve" only when you would
merge the change as-is. List blocking issues explicitly.`

// rereviewInstructions is the base instruction for later iterations.
const rereviewInstructions = `You are re-reviewing a pull request you previously requested changes on.
The author has attempted fixes since your last review. Verify that your
earlier feedback was addressed and check the updated diff for new
issues. Use "approve" only when everything blocking is resolved.`

// revieweeInstructions is the base instruction for the fix turn.
const revieweeInstructions = `You are addressing code review feedback on a pull request. Apply the
requested changes in the working directory. If the feedback is ambiguous,
report status "needs_clarification" with your question instead of
guessing. If a requested change needs an action you are unsure you
should take, report "needs_permission" with the action and reason.
Report "completed" with the list of modified files once done.`

// Override file names recognized in the prompt directory.
const (
	reviewerOverrideFile = "reviewer.md"
	revieweeOverrideFile = "reviewee.md"
	rereviewOverrideFile = "rereview.md"
)

// Builder assembles prompts from templates and rally context.
type Builder struct {
	PromptDir string // optional override directory
}

// NewBuilder creates a Builder. dir may be empty.
func NewBuilder(dir string) *Builder {
	return &Builder{PromptDir: dir}
}

// instructions returns the override file contents if present, else the
// built-in template.
func (b *Builder) instructions(file, builtin string) string {
	if b.PromptDir == "" {
		return builtin
	}
	data, err := os.ReadFile(filepath.Join(b.PromptDir, file))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return builtin
	}
	return strings.TrimSpace(string(data))
}

// PRContext describes the pull request fields embedded in prompts.
type PRContext struct {
	Repo             string
	PRNumber         int
	Title            string
	Body             string
	HeadSHA          string
	BaseBranch       string
	Diff             string
	ExternalComments []forge.Comment
}

// BuildReviewerPrompt builds the initial review prompt (iteration 1).
func (b *Builder) BuildReviewerPrompt(pc *PRContext, iteration int) string {
	var sb strings.Builder
	sb.WriteString(b.instructions(reviewerOverrideFile, reviewerInstructions))
	sb.WriteString("\n\n")
	writePRHeader(&sb, pc, iteration)
	writeDiff(&sb, pc.Diff)
	return sb.String()
}

// BuildRereviewPrompt builds the review prompt for iterations > 1,
// carrying the reviewee's fix summary and a freshly fetched diff.
func (b *Builder) BuildRereviewPrompt(pc *PRContext, iteration int, changesSummary, freshDiff string) string {
	var sb strings.Builder
	sb.WriteString(b.instructions(rereviewOverrideFile, rereviewInstructions))
	sb.WriteString("\n\n")
	writePRHeader(&sb, pc, iteration)
	if changesSummary != "" {
		sb.WriteString("## Changes Since Your Last Review\n\n")
		sb.WriteString(changesSummary)
		sb.WriteString("\n\n")
	}
	diff := freshDiff
	if diff == "" {
		diff = pc.Diff
	}
	writeDiff(&sb, diff)
	return sb.String()
}

// ReviewFeedback is the reviewer output rendered into the fix prompt.
type ReviewFeedback struct {
	Summary        string
	BlockingIssues []string
	Comments       []ReviewFeedbackComment
}

// ReviewFeedbackComment is one inline finding carried to the reviewee.
type ReviewFeedbackComment struct {
	Path     string
	Line     uint32
	Severity string
	Body     string
}

// BuildRevieweePrompt builds the fix prompt from the review feedback.
func (b *Builder) BuildRevieweePrompt(pc *PRContext, review *ReviewFeedback, iteration int) string {
	var sb strings.Builder
	sb.WriteString(b.instructions(revieweeOverrideFile, revieweeInstructions))
	sb.WriteString("\n\n")
	writePRHeader(&sb, pc, iteration)

	sb.WriteString("## Review Feedback\n\n")
	sb.WriteString(review.Summary)
	sb.WriteString("\n\n")
	if len(review.BlockingIssues) > 0 {
		sb.WriteString("### Blocking Issues\n\n")
		for _, issue := range review.BlockingIssues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
		sb.WriteString("\n")
	}
	if len(review.Comments) > 0 {
		sb.WriteString("### Inline Comments\n\n")
		for _, c := range review.Comments {
			fmt.Fprintf(&sb, "- `%s:%d` [%s] %s\n", c.Path, c.Line, c.Severity, c.Body)
		}
		sb.WriteString("\n")
	}
	if len(pc.ExternalComments) > 0 {
		sb.WriteString("## External Bot Comments\n\n")
		sb.WriteString("Automated tooling left the following comments on the PR. Address them where relevant.\n\n")
		for _, c := range pc.ExternalComments {
			loc := ""
			if c.Path != "" {
				loc = fmt.Sprintf(" (`%s:%d`)", c.Path, c.Line)
			}
			fmt.Fprintf(&sb, "- **%s**%s: %s\n", c.Author, loc, c.Body)
		}
		sb.WriteString("\n")
	}
	writeDiff(&sb, pc.Diff)
	return sb.String()
}

// ClarificationFollowup wraps the operator's answer for a continuation.
func ClarificationFollowup(answer string) string {
	return fmt.Sprintf("The human operator answered your question:\n\n%s\n\nContinue addressing the review feedback and report your structured status when done.", answer)
}

// PermissionGranted tells the reviewee its requested action is approved.
func PermissionGranted(action string) string {
	return fmt.Sprintf("Permission granted for: %s\n\nProceed, then continue addressing the review feedback and report your structured status when done.", action)
}

// ReviewerClarificationNote informs the reviewer of the exchange; the
// response is logged only.
func ReviewerClarificationNote(question, answer string) string {
	return fmt.Sprintf("For your awareness: the fix agent asked %q and the operator answered %q. No verdict needed yet; acknowledge briefly.", question, answer)
}

func writePRHeader(sb *strings.Builder, pc *PRContext, iteration int) {
	fmt.Fprintf(sb, "## Pull Request\n\nRepo: %s\nPR: #%d\nTitle: %s\nHead: %s\nBase: %s\nIteration: %d\n\n",
		pc.Repo, pc.PRNumber, pc.Title, pc.HeadSHA, pc.BaseBranch, iteration)
	if pc.Body != "" {
		fmt.Fprintf(sb, "### Description\n\n%s\n\n", pc.Body)
	}
}

func writeDiff(sb *strings.Builder, diff string) {
	if diff == "" {
		return
	}
	truncated := false
	if len(diff) > MaxDiffBytes {
		diff = diff[:MaxDiffBytes]
		truncated = true
	}
	sb.WriteString("## Diff\n\n```diff\n")
	sb.WriteString(diff)
	if !strings.HasSuffix(diff, "\n") {
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString("... [diff truncated]\n")
	}
	sb.WriteString("```\n")
}

// Package agent runs the reviewer and reviewee CLI subprocesses and
// translates their streaming JSON output into rally events and
// structured results.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Errors shared by both adapter variants.
var (
	// ErrUnsupportedAgent is returned by New for an unknown selector string.
	ErrUnsupportedAgent = errors.New("unsupported agent")

	// ErrNoActiveSession is returned when a continuation is requested
	// before any run has recorded a session ID.
	ErrNoActiveSession = errors.New("no active session")

	// ErrMissingResult is returned when the agent's stdout closed without
	// ever emitting a structured result event.
	ErrMissingResult = errors.New("no result received from agent")

	// ErrUnknownEnumValue is returned when the structured result carries
	// an action or status outside the known set.
	ErrUnknownEnumValue = errors.New("unknown enum value")
)

// ExitError reports a subprocess that exited non-zero. Stderr holds the
// accumulated (bounded) stderr text.
type ExitError struct {
	Agent  string
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v\nstderr: %s", e.Agent, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Agent, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// AuthError reports an authentication failure detected from agent stderr.
type AuthError struct {
	Agent  string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Agent, e.Detail)
}

// RunContext carries the per-call execution environment for an adapter.
type RunContext struct {
	WorkingDir string // repository checkout the agent operates on ("" = inherit)
}

// Adapter is the capability contract both agent variants satisfy. An
// adapter owns one subprocess lifecycle per call and the session/thread
// ID recorded from the most recent run of each role.
type Adapter interface {
	// Name returns the agent identifier (e.g. "claude-code", "codex").
	Name() string

	// SetEventSender installs the channel streaming events are forwarded
	// to. Delivery is best-effort: a full or nil channel is not an error.
	SetEventSender(ch chan<- Event)

	// RunReviewer runs a fresh review turn and returns the structured verdict.
	RunReviewer(ctx context.Context, prompt string, rc *RunContext) (*ReviewerOutput, error)

	// RunReviewee runs a fresh fix turn and returns the structured fix report.
	RunReviewee(ctx context.Context, prompt string, rc *RunContext) (*RevieweeOutput, error)

	// ContinueReviewer resumes the reviewer session with a follow-up message.
	ContinueReviewer(ctx context.Context, message string) (*ReviewerOutput, error)

	// ContinueReviewee resumes the reviewee session with a follow-up message.
	ContinueReviewee(ctx context.Context, message string) (*RevieweeOutput, error)

	// AddRevieweeAllowedTool appends a tool to the reviewee allowlist.
	// Idempotent; a no-op for variants with coarse-grained sandboxing.
	AddRevieweeAllowedTool(tool string)
}

// Options configures adapter construction.
type Options struct {
	ClaudeCmd  string // claude executable (default "claude")
	CodexCmd   string // codex executable (default "codex")
	WorkingDir string // default working directory for agent subprocesses

	// Additional allowed tools appended to the Variant A base sets.
	ReviewerAdditionalTools []string
	RevieweeAdditionalTools []string
}

// aliases maps short selector names to canonical agent names.
var aliases = map[string]string{
	"claude": "claude-code",
}

// CanonicalName resolves a selector alias to the canonical agent name.
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// New constructs the adapter for a selector string. Unknown selectors
// return ErrUnsupportedAgent.
func New(selector string, opts Options) (Adapter, error) {
	switch CanonicalName(selector) {
	case "claude-code":
		return NewClaudeAdapter(opts), nil
	case "codex":
		return NewCodexAdapter(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAgent, selector)
	}
}

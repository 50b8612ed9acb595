package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Base tool allowlists for the Claude Code CLI. The reviewer set is
// strictly read-only; the reviewee set adds file edits, local git
// operations that cannot discard or publish work, and common
// build/test/package-manager subcommands. Push, force-reset, clean,
// checkout and restore are deliberately absent.
var claudeReviewerBaseTools = []string{
	"Read", "Grep", "Glob", "LS",
	"Bash(git diff:*)",
	"Bash(git log:*)",
	"Bash(git show:*)",
	"Bash(git status:*)",
	"Bash(gh pr view:*)",
	"Bash(gh pr diff:*)",
}

var claudeRevieweeBaseTools = []string{
	"Read", "Grep", "Glob", "LS",
	"Edit", "Write", "MultiEdit",
	"Bash(git diff:*)",
	"Bash(git log:*)",
	"Bash(git show:*)",
	"Bash(git status:*)",
	"Bash(git add:*)",
	"Bash(git commit:*)",
	"Bash(gh pr view:*)",
	"Bash(gh pr diff:*)",
	"Bash(go build:*)",
	"Bash(go test:*)",
	"Bash(go vet:*)",
	"Bash(gofmt:*)",
	"Bash(make:*)",
	"Bash(npm install:*)",
	"Bash(npm run build:*)",
	"Bash(npm run lint:*)",
	"Bash(npm test:*)",
	"Bash(cargo build:*)",
	"Bash(cargo test:*)",
	"Bash(cargo check:*)",
	"Bash(cargo fmt:*)",
	"Bash(pytest:*)",
	"Bash(pip install:*)",
}

// ClaudeAdapter drives the Claude Code CLI (Variant A: fine-grained
// per-tool allowlists, stream-json output, inline JSON schema).
type ClaudeAdapter struct {
	Command    string
	WorkingDir string

	mu              sync.Mutex
	events          chan<- Event
	reviewerTools   string // comma-joined, built once at construction
	revieweeTools   string
	reviewerSession string
	revieweeSession string
}

// NewClaudeAdapter builds the adapter and its tool allowlists. Extra
// tools from opts are appended once, skipping duplicates.
func NewClaudeAdapter(opts Options) *ClaudeAdapter {
	cmd := opts.ClaudeCmd
	if cmd == "" {
		cmd = "claude"
	}
	a := &ClaudeAdapter{
		Command:       cmd,
		WorkingDir:    opts.WorkingDir,
		reviewerTools: joinTools(claudeReviewerBaseTools, opts.ReviewerAdditionalTools),
		revieweeTools: joinTools(claudeRevieweeBaseTools, opts.RevieweeAdditionalTools),
	}
	return a
}

func joinTools(base, extra []string) string {
	tools := append([]string(nil), base...)
	for _, t := range extra {
		tools = appendTool(tools, t)
	}
	return strings.Join(tools, ",")
}

func appendTool(tools []string, tool string) []string {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return tools
	}
	for _, existing := range tools {
		if existing == tool {
			return tools
		}
	}
	return append(tools, tool)
}

func (a *ClaudeAdapter) Name() string { return "claude-code" }

func (a *ClaudeAdapter) SetEventSender(ch chan<- Event) {
	a.mu.Lock()
	a.events = ch
	a.mu.Unlock()
}

// AddRevieweeAllowedTool appends a tool to the reviewee allowlist.
// Adding the same tool twice leaves the allowlist unchanged.
func (a *ClaudeAdapter) AddRevieweeAllowedTool(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tools := strings.Split(a.revieweeTools, ",")
	tools = appendTool(tools, tool)
	a.revieweeTools = strings.Join(tools, ",")
}

// RevieweeAllowedTools returns the current comma-joined reviewee allowlist.
func (a *ClaudeAdapter) RevieweeAllowedTools() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revieweeTools
}

func (a *ClaudeAdapter) buildArgs(tools, schema, resumeSession string) []string {
	args := []string{
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--allowedTools", tools,
		"--json-schema", schema,
	}
	if resumeSession != "" {
		args = append(args, "--resume", resumeSession)
	}
	return args
}

func (a *ClaudeAdapter) RunReviewer(ctx context.Context, prompt string, rc *RunContext) (*ReviewerOutput, error) {
	a.mu.Lock()
	tools := a.reviewerTools
	a.mu.Unlock()
	payload, session, err := a.run(ctx, prompt, tools, reviewerSchema, "", rc, "reviewer")
	if err != nil {
		return nil, err
	}
	a.setSession("reviewer", session)
	out, err := decodeReviewerOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = session
	return out, nil
}

func (a *ClaudeAdapter) RunReviewee(ctx context.Context, prompt string, rc *RunContext) (*RevieweeOutput, error) {
	a.mu.Lock()
	tools := a.revieweeTools
	a.mu.Unlock()
	payload, session, err := a.run(ctx, prompt, tools, revieweeSchema, "", rc, "reviewee")
	if err != nil {
		return nil, err
	}
	a.setSession("reviewee", session)
	out, err := decodeRevieweeOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = session
	return out, nil
}

func (a *ClaudeAdapter) ContinueReviewer(ctx context.Context, message string) (*ReviewerOutput, error) {
	a.mu.Lock()
	session := a.reviewerSession
	tools := a.reviewerTools
	a.mu.Unlock()
	if session == "" {
		return nil, fmt.Errorf("%w: reviewer", ErrNoActiveSession)
	}
	payload, newSession, err := a.run(ctx, message, tools, reviewerSchema, session, nil, "reviewer")
	if err != nil {
		return nil, err
	}
	a.setSession("reviewer", newSession)
	out, err := decodeReviewerOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = newSession
	return out, nil
}

func (a *ClaudeAdapter) ContinueReviewee(ctx context.Context, message string) (*RevieweeOutput, error) {
	a.mu.Lock()
	session := a.revieweeSession
	tools := a.revieweeTools
	a.mu.Unlock()
	if session == "" {
		return nil, fmt.Errorf("%w: reviewee", ErrNoActiveSession)
	}
	payload, newSession, err := a.run(ctx, message, tools, revieweeSchema, session, nil, "reviewee")
	if err != nil {
		return nil, err
	}
	a.setSession("reviewee", newSession)
	out, err := decodeRevieweeOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = newSession
	return out, nil
}

func (a *ClaudeAdapter) setSession(role, session string) {
	if session == "" {
		return
	}
	a.mu.Lock()
	if role == "reviewer" {
		a.reviewerSession = session
	} else {
		a.revieweeSession = session
	}
	a.mu.Unlock()
}

// claudeStreamEvent is one line of the Claude Code stream-json output.
type claudeStreamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   struct {
		Content []claudeContentBlock `json:"content"`
	} `json:"message"`
	Result           string          `json:"result,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
}

type claudeContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// run spawns the CLI, pipes the prompt over stdin, drains both output
// streams and returns the structured result payload plus the session ID
// observed on the stream.
func (a *ClaudeAdapter) run(ctx context.Context, prompt, tools, schema, resumeSession string, rc *RunContext, role string) (json.RawMessage, string, error) {
	args := a.buildArgs(tools, schema, resumeSession)
	cmd := exec.CommandContext(ctx, a.Command, args...)
	if rc != nil && rc.WorkingDir != "" {
		cmd.Dir = rc.WorkingDir
	} else if a.WorkingDir != "" {
		cmd.Dir = a.WorkingDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start %s: %w", a.Command, err)
	}

	// Prompt goes over stdin, never argv: large diffs blow past OS
	// argument length limits.
	go func() {
		defer stdin.Close()
		io.WriteString(stdin, prompt)
	}()

	a.mu.Lock()
	events := a.events
	a.mu.Unlock()

	var (
		payload   json.RawMessage
		sessionID string
		errBuf    stderrBuffer
	)

	tail := fanInStreams(stdout, stderr, func(ln streamLine) {
		if ln.fromErr {
			errBuf.Append(ln.text)
			return
		}
		if strings.TrimSpace(ln.text) == "" {
			return
		}
		var ev claudeStreamEvent
		if err := json.Unmarshal([]byte(ln.text), &ev); err != nil {
			// Malformed lines are skipped, never fatal.
			return
		}
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		switch ev.Type {
		case "assistant":
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "thinking":
					Emit(events, Event{Type: EventThinking, Agent: a.Name(), Role: role, Text: block.Thinking})
				case "text":
					Emit(events, Event{Type: EventText, Agent: a.Name(), Role: role, Text: block.Text})
				case "tool_use":
					Emit(events, Event{Type: EventToolUse, Agent: a.Name(), Role: role, Tool: block.Name, Text: compactJSON(block.Input)})
				}
			}
		case "user":
			for _, block := range ev.Message.Content {
				if block.Type == "tool_result" {
					Emit(events, Event{Type: EventToolResult, Agent: a.Name(), Role: role, Text: compactJSON(block.Content)})
				}
			}
		case "result":
			// Prefer the schema-validated structured_output field over
			// the free-form result string.
			if len(ev.StructuredOutput) > 0 {
				payload = ev.StructuredOutput
			} else if ev.Result != "" {
				payload = json.RawMessage(ev.Result)
			}
		}
	})

	// Always reap the process, even after a stream error.
	waitErr := cmd.Wait()
	if waitErr != nil {
		// Let the stderr tail land in the buffer before reading it.
		select {
		case <-tail.StderrDone:
		case <-time.After(stderrGraceWait):
		}
		if authErr := detectClaudeAuthFailure(errBuf.String()); authErr != nil {
			return nil, "", authErr
		}
		return nil, "", &ExitError{Agent: a.Name(), Err: waitErr, Stderr: errBuf.String()}
	}
	if tail.Err != nil {
		return nil, "", fmt.Errorf("read %s output: %w", a.Name(), tail.Err)
	}
	if payload == nil {
		return nil, "", fmt.Errorf("%w (%s %s)", ErrMissingResult, a.Name(), role)
	}
	return payload, sessionID, nil
}

// detectClaudeAuthFailure recognizes Claude CLI authentication errors
// from stderr content.
func detectClaudeAuthFailure(stderr string) error {
	lower := strings.ToLower(stderr)
	for _, pattern := range []string{
		"invalid api key",
		"please run /login",
		"not logged in",
		"oauth token has expired",
	} {
		if strings.Contains(lower, pattern) {
			return &AuthError{Agent: "claude-code", Detail: firstLine(stderr)}
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	s := string(raw)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

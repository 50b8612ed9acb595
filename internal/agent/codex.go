package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// CodexAdapter drives the Codex CLI (Variant B: coarse sandbox modes
// instead of per-tool allowlists, resume-by-session-id continuation).
type CodexAdapter struct {
	Command    string
	WorkingDir string

	mu              sync.Mutex
	events          chan<- Event
	reviewerSession string
	revieweeSession string
}

// NewCodexAdapter creates the Codex adapter.
func NewCodexAdapter(opts Options) *CodexAdapter {
	cmd := opts.CodexCmd
	if cmd == "" {
		cmd = "codex"
	}
	return &CodexAdapter{Command: cmd, WorkingDir: opts.WorkingDir}
}

func (a *CodexAdapter) Name() string { return "codex" }

func (a *CodexAdapter) SetEventSender(ch chan<- Event) {
	a.mu.Lock()
	a.events = ch
	a.mu.Unlock()
}

// AddRevieweeAllowedTool is a no-op: codex scopes capabilities through
// its sandbox mode, not a per-tool allowlist.
func (a *CodexAdapter) AddRevieweeAllowedTool(tool string) {}

// buildArgs assembles the codex invocation. The reviewer runs in the
// default read-only sandbox; the reviewee gets workspace-write. The
// trailing "-" reads the prompt from stdin and must come after all
// flags.
func (a *CodexAdapter) buildArgs(resumeSession, schemaPath, workDir string, writable bool) []string {
	args := []string{"exec"}
	if resumeSession != "" {
		args = append(args, "resume", resumeSession)
	}
	args = append(args, "--json", "--output-schema", schemaPath)
	if workDir != "" {
		args = append(args, "-C", workDir)
	}
	if writable {
		args = append(args, "--sandbox", "workspace-write")
	}
	args = append(args, "-")
	return args
}

func (a *CodexAdapter) RunReviewer(ctx context.Context, prompt string, rc *RunContext) (*ReviewerOutput, error) {
	payload, session, err := a.run(ctx, prompt, reviewerSchema, "", rc, false, "reviewer")
	if err != nil {
		return nil, err
	}
	session = a.retainSession("reviewer", session)
	out, err := decodeReviewerOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = session
	return out, nil
}

func (a *CodexAdapter) RunReviewee(ctx context.Context, prompt string, rc *RunContext) (*RevieweeOutput, error) {
	payload, session, err := a.run(ctx, prompt, revieweeSchema, "", rc, true, "reviewee")
	if err != nil {
		return nil, err
	}
	session = a.retainSession("reviewee", session)
	out, err := decodeRevieweeOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = session
	return out, nil
}

func (a *CodexAdapter) ContinueReviewer(ctx context.Context, message string) (*ReviewerOutput, error) {
	a.mu.Lock()
	session := a.reviewerSession
	a.mu.Unlock()
	if session == "" {
		return nil, fmt.Errorf("%w: reviewer", ErrNoActiveSession)
	}
	payload, newSession, err := a.run(ctx, message, reviewerSchema, session, nil, false, "reviewer")
	if err != nil {
		return nil, err
	}
	newSession = a.retainSession("reviewer", newSession)
	out, err := decodeReviewerOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = newSession
	return out, nil
}

func (a *CodexAdapter) ContinueReviewee(ctx context.Context, message string) (*RevieweeOutput, error) {
	a.mu.Lock()
	session := a.revieweeSession
	a.mu.Unlock()
	if session == "" {
		return nil, fmt.Errorf("%w: reviewee", ErrNoActiveSession)
	}
	payload, newSession, err := a.run(ctx, message, revieweeSchema, session, nil, true, "reviewee")
	if err != nil {
		return nil, err
	}
	newSession = a.retainSession("reviewee", newSession)
	out, err := decodeRevieweeOutput(payload)
	if err != nil {
		return nil, err
	}
	out.SessionID = newSession
	return out, nil
}

// retainSession records the session ID for a role. A resumed run that
// never re-emits a thread ID keeps the previously known one rather than
// treating it as absent.
func (a *CodexAdapter) retainSession(role, session string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	current := &a.reviewerSession
	if role == "reviewee" {
		current = &a.revieweeSession
	}
	if session != "" {
		*current = session
	}
	return *current
}

// codexStreamEvent is one line of codex --json output.
type codexStreamEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Item     struct {
		Type             string `json:"type"`
		Text             string `json:"text,omitempty"`
		Command          string `json:"command,omitempty"`
		AggregatedOutput string `json:"aggregated_output,omitempty"`
	} `json:"item"`
}

func (a *CodexAdapter) run(ctx context.Context, prompt, schema, resumeSession string, rc *RunContext, writable bool, role string) (json.RawMessage, string, error) {
	// Codex takes the output schema as a file path, not inline text.
	schemaFile, err := os.CreateTemp("", "revrally-schema-*.json")
	if err != nil {
		return nil, "", fmt.Errorf("create schema file: %w", err)
	}
	schemaPath := schemaFile.Name()
	defer os.Remove(schemaPath)
	if _, err := schemaFile.WriteString(schema); err != nil {
		schemaFile.Close()
		return nil, "", fmt.Errorf("write schema file: %w", err)
	}
	if err := schemaFile.Close(); err != nil {
		return nil, "", fmt.Errorf("close schema file: %w", err)
	}

	workDir := a.WorkingDir
	if rc != nil && rc.WorkingDir != "" {
		workDir = rc.WorkingDir
	}

	args := a.buildArgs(resumeSession, schemaPath, workDir, writable)
	cmd := exec.CommandContext(ctx, a.Command, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Stdin = strings.NewReader(prompt)

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

	a.mu.Lock()
	events := a.events
	a.mu.Unlock()

	var (
		lastAgentMessage string
		threadID         string
		errBuf           stderrBuffer
	)

	tail := fanInStreams(stdout, stderr, func(ln streamLine) {
		if ln.fromErr {
			errBuf.Append(ln.text)
			Emit(events, Event{Type: EventLog, Agent: a.Name(), Role: role, Text: ln.text})
			return
		}
		if strings.TrimSpace(ln.text) == "" {
			return
		}
		var ev codexStreamEvent
		if err := json.Unmarshal([]byte(ln.text), &ev); err != nil {
			return
		}
		switch ev.Type {
		case "thread.started":
			if ev.ThreadID != "" {
				threadID = ev.ThreadID
			}
		case "item.started":
			if ev.Item.Type == "command_execution" {
				Emit(events, Event{Type: EventToolUse, Agent: a.Name(), Role: role, Tool: "command", Text: ev.Item.Command})
			}
		case "item.completed":
			switch ev.Item.Type {
			case "reasoning":
				Emit(events, Event{Type: EventThinking, Agent: a.Name(), Role: role, Text: ev.Item.Text})
			case "agent_message":
				Emit(events, Event{Type: EventText, Agent: a.Name(), Role: role, Text: ev.Item.Text})
				lastAgentMessage = ev.Item.Text
			case "command_execution":
				Emit(events, Event{Type: EventToolResult, Agent: a.Name(), Role: role, Text: ev.Item.AggregatedOutput})
			}
		case "error":
			Emit(events, Event{Type: EventLog, Agent: a.Name(), Role: role, Text: ev.Message})
		}
	})

	waitErr := cmd.Wait()
	if waitErr != nil {
		// Let the stderr tail land in the buffer before reading it.
		select {
		case <-tail.StderrDone:
		case <-time.After(stderrGraceWait):
		}
		if authErr := detectCodexAuthFailure(errBuf.String()); authErr != nil {
			return nil, "", authErr
		}
		return nil, "", &ExitError{Agent: a.Name(), Err: waitErr, Stderr: errBuf.String()}
	}
	if tail.Err != nil {
		return nil, "", fmt.Errorf("read %s output: %w", a.Name(), tail.Err)
	}
	// The final agent message is the schema-constrained result payload.
	if strings.TrimSpace(lastAgentMessage) == "" {
		return nil, "", fmt.Errorf("%w (%s %s)", ErrMissingResult, a.Name(), role)
	}
	return json.RawMessage(lastAgentMessage), threadID, nil
}

// detectCodexAuthFailure recognizes Codex CLI authentication errors
// from stderr content.
func detectCodexAuthFailure(stderr string) error {
	lower := strings.ToLower(stderr)
	for _, pattern := range []string{
		"401 unauthorized",
		"not logged in",
		"run codex login",
		"token expired",
	} {
		if strings.Contains(lower, pattern) {
			return &AuthError{Agent: "codex", Detail: firstLine(stderr)}
		}
	}
	return nil
}

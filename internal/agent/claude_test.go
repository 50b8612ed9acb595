package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestClaudeBuildArgs(t *testing.T) {
	a := NewClaudeAdapter(Options{})

	args := a.buildArgs(a.reviewerTools, reviewerSchema, "")
	for _, req := range []string{"-p", "--verbose", "--output-format", "stream-json", "--allowedTools", "--json-schema"} {
		if !containsArg(args, req) {
			t.Errorf("expected %q in args %v", req, args)
		}
	}
	if containsArg(args, "--resume") {
		t.Error("fresh run must not carry --resume")
	}

	args = a.buildArgs(a.revieweeTools, revieweeSchema, "sess-42")
	if !containsArg(args, "--resume") || !containsArg(args, "sess-42") {
		t.Errorf("continuation must carry --resume and session, got %v", args)
	}
}

func TestClaudeReviewerToolsReadOnly(t *testing.T) {
	a := NewClaudeAdapter(Options{})
	tools := strings.Split(a.reviewerTools, ",")
	for _, forbidden := range []string{"Edit", "Write", "MultiEdit"} {
		for _, tool := range tools {
			if tool == forbidden {
				t.Errorf("reviewer allowlist must not contain %q", forbidden)
			}
		}
	}
}

func TestClaudeRevieweeToolsNeverPushCapable(t *testing.T) {
	a := NewClaudeAdapter(Options{
		RevieweeAdditionalTools: []string{"Bash(golangci-lint run:*)"},
	})
	tools := a.RevieweeAllowedTools()
	for _, forbidden := range []string{"git push", "git clean", "git checkout", "git restore", "git reset --hard", "publish"} {
		if strings.Contains(tools, forbidden) {
			t.Errorf("reviewee allowlist must not contain %q, got %q", forbidden, tools)
		}
	}
	if !strings.Contains(tools, "Bash(golangci-lint run:*)") {
		t.Errorf("additional tool missing from allowlist %q", tools)
	}
}

func TestAddRevieweeAllowedToolIdempotent(t *testing.T) {
	a := NewClaudeAdapter(Options{})
	a.AddRevieweeAllowedTool("Bash(buf lint:*)")
	first := a.RevieweeAllowedTools()
	a.AddRevieweeAllowedTool("Bash(buf lint:*)")
	if got := a.RevieweeAllowedTools(); got != first {
		t.Errorf("second add changed allowlist:\n first: %q\nsecond: %q", first, got)
	}
	if strings.Count(first, "Bash(buf lint:*)") != 1 {
		t.Errorf("tool duplicated in allowlist %q", first)
	}
}

func TestClaudeRunReviewerApproval(t *testing.T) {
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`{"type":"system","subtype":"init","session_id":"sess-abc"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Looks clean."}]}}`,
		`{"type":"result","structured_output":{"action":"approve","summary":"LGTM","comments":[],"blocking_issues":[]}}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	out, err := a.RunReviewer(context.Background(), "review this", &RunContext{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != ActionApprove {
		t.Errorf("expected approve, got %q", out.Action)
	}
	if out.Summary != "LGTM" {
		t.Errorf("expected summary LGTM, got %q", out.Summary)
	}
	if out.SessionID != "sess-abc" {
		t.Errorf("expected session sess-abc, got %q", out.SessionID)
	}
}

func TestClaudeRunRevieweeStructuredResult(t *testing.T) {
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`{"type":"system","subtype":"init","session_id":"sess-fix"}`,
		`{"type":"result","structured_output":{"status":"completed","summary":"done","files_modified":[]}}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	out, err := a.RunReviewee(context.Background(), "fix this", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusCompleted || out.Summary != "done" {
		t.Errorf("unexpected output %+v", out)
	}
	if len(out.FilesModified) != 0 {
		t.Errorf("expected empty files_modified, got %v", out.FilesModified)
	}
	if out.SessionID != "sess-fix" {
		t.Errorf("expected session sess-fix, got %q", out.SessionID)
	}
}

func TestClaudeMalformedLinesSkipped(t *testing.T) {
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`not json at all`,
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{broken`,
		`{"type":"result","structured_output":{"action":"comment","summary":"ok","comments":[],"blocking_issues":[]}}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	out, err := a.RunReviewer(context.Background(), "prompt", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != ActionComment {
		t.Errorf("expected comment, got %q", out.Action)
	}
}

func TestClaudeResultFieldFallback(t *testing.T) {
	// No structured_output: the generic result string holds the payload.
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`{"type":"result","result":"{\"action\":\"request_changes\",\"summary\":\"fix the test\",\"comments\":[],\"blocking_issues\":[\"broken test\"]}"}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	out, err := a.RunReviewer(context.Background(), "prompt", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != ActionRequestChanges {
		t.Errorf("expected request_changes, got %q", out.Action)
	}
	if len(out.BlockingIssues) != 1 || out.BlockingIssues[0] != "broken test" {
		t.Errorf("unexpected blocking issues %v", out.BlockingIssues)
	}
}

func TestClaudeMissingResult(t *testing.T) {
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"thinking..."}]}}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	_, err := a.RunReviewer(context.Background(), "prompt", nil)
	if !errors.Is(err, ErrMissingResult) {
		t.Fatalf("expected ErrMissingResult, got %v", err)
	}
}

func TestClaudeProcessFailureCarriesStderr(t *testing.T) {
	cmdPath := writeTempCommand(t, "#!/bin/sh\ncat > /dev/null\necho 'rate limited' >&2\nexit 1\n")
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	_, err := a.RunReviewer(context.Background(), "prompt", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected stderr in error, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("expected ExitError, got %T", err)
	}
}

func TestClaudeAuthFailureDetected(t *testing.T) {
	cmdPath := writeTempCommand(t, "#!/bin/sh\ncat > /dev/null\necho 'Invalid API key. Please run /login' >&2\nexit 1\n")
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	_, err := a.RunReviewer(context.Background(), "prompt", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestClaudeUnknownActionFatal(t *testing.T) {
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`{"type":"result","structured_output":{"action":"maybe","summary":"","comments":[],"blocking_issues":[]}}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	_, err := a.RunReviewer(context.Background(), "prompt", nil)
	if !errors.Is(err, ErrUnknownEnumValue) {
		t.Fatalf("expected ErrUnknownEnumValue, got %v", err)
	}
}

func TestClaudeContinueWithoutSession(t *testing.T) {
	a := NewClaudeAdapter(Options{ClaudeCmd: "claude"})
	if _, err := a.ContinueReviewer(context.Background(), "more"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := a.ContinueReviewee(context.Background(), "more"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestClaudePromptDeliveredOverStdin(t *testing.T) {
	// The fake echoes stdin length into the summary to prove delivery.
	script := `#!/bin/sh
n=$(wc -c)
echo "{\"type\":\"result\",\"structured_output\":{\"action\":\"comment\",\"summary\":\"read $n bytes\",\"comments\":[],\"blocking_issues\":[]}}"
`
	cmdPath := writeTempCommand(t, script)
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})

	out, err := a.RunReviewer(context.Background(), strings.Repeat("x", 1000), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.Summary, "1000") {
		t.Errorf("expected prompt bytes to reach stdin, got summary %q", out.Summary)
	}
}

func TestClaudeEventsForwarded(t *testing.T) {
	cmdPath := writeTempCommand(t, fakeStreamScript(
		`{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"hello"},{"type":"tool_use","name":"Read","input":{"path":"main.go"}}]}}`,
		`{"type":"result","structured_output":{"action":"comment","summary":"ok","comments":[],"blocking_issues":[]}}`,
	))
	a := NewClaudeAdapter(Options{ClaudeCmd: cmdPath})
	events := make(chan Event, 16)
	a.SetEventSender(events)

	if _, err := a.RunReviewer(context.Background(), "prompt", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(events)

	seen := map[EventType]bool{}
	for ev := range events {
		seen[ev.Type] = true
	}
	for _, want := range []EventType{EventThinking, EventText, EventToolUse} {
		if !seen[want] {
			t.Errorf("expected %s event to be forwarded", want)
		}
	}
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

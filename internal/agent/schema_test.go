package agent

import (
	"errors"
	"testing"
)

func TestDecodeReviewerOutput(t *testing.T) {
	out, err := decodeReviewerOutput([]byte(`{
		"action": "request_changes",
		"summary": "needs work",
		"comments": [
			{"path": "main.go", "line": 10, "body": "nil check", "severity": "major"},
			{"path": "main.go", "line": 20, "body": "typo", "severity": "cosmic"}
		],
		"blocking_issues": ["missing nil check"]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Action != ActionRequestChanges {
		t.Errorf("unexpected action %q", out.Action)
	}
	if out.Comments[0].Severity != SeverityMajor {
		t.Errorf("unexpected severity %q", out.Comments[0].Severity)
	}
	// Unknown severity degrades instead of failing the whole result.
	if out.Comments[1].Severity != SeverityMinor {
		t.Errorf("unknown severity should degrade to minor, got %q", out.Comments[1].Severity)
	}
}

func TestDecodeReviewerOutputNilSlices(t *testing.T) {
	out, err := decodeReviewerOutput([]byte(`{"action":"approve","summary":"ok"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Comments == nil || out.BlockingIssues == nil {
		t.Error("absent arrays must decode to empty slices")
	}
}

func TestDecodeReviewerOutputUnknownAction(t *testing.T) {
	_, err := decodeReviewerOutput([]byte(`{"action":"shrug","summary":""}`))
	if !errors.Is(err, ErrUnknownEnumValue) {
		t.Fatalf("expected ErrUnknownEnumValue, got %v", err)
	}
}

func TestDecodeRevieweeOutput(t *testing.T) {
	out, err := decodeRevieweeOutput([]byte(`{
		"status": "needs_permission",
		"summary": "want to bump a dependency",
		"files_modified": [],
		"permission_request": {"action": "go get example.com/lib@v2", "reason": "fix requires v2 API"}
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusNeedsPermission {
		t.Errorf("unexpected status %q", out.Status)
	}
	if out.PermissionRequest == nil || out.PermissionRequest.Action == "" {
		t.Error("permission request not decoded")
	}
}

func TestDecodeRevieweeOutputUnknownStatus(t *testing.T) {
	_, err := decodeRevieweeOutput([]byte(`{"status":"partial","summary":"","files_modified":[]}`))
	if !errors.Is(err, ErrUnknownEnumValue) {
		t.Fatalf("expected ErrUnknownEnumValue, got %v", err)
	}
}

func TestDecodeRevieweeOutputMalformed(t *testing.T) {
	if _, err := decodeRevieweeOutput([]byte(`{broken`)); err == nil {
		t.Fatal("expected decode error")
	}
}

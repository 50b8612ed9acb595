package agent

import (
	"encoding/json"
	"fmt"
)

// ReviewAction is the reviewer's verdict over the changes.
type ReviewAction string

const (
	ActionApprove        ReviewAction = "approve"
	ActionRequestChanges ReviewAction = "request_changes"
	ActionComment        ReviewAction = "comment"
)

// Severity classifies a single review comment.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// ReviewComment is one inline finding from the reviewer.
type ReviewComment struct {
	Path     string   `json:"path"`
	Line     uint32   `json:"line"`
	Body     string   `json:"body"`
	Severity Severity `json:"severity"`
}

// ReviewerOutput is the reviewer's structured result payload.
type ReviewerOutput struct {
	Action         ReviewAction    `json:"action"`
	Summary        string          `json:"summary"`
	Comments       []ReviewComment `json:"comments"`
	BlockingIssues []string        `json:"blocking_issues"`

	// SessionID is the agent session/thread the result came from. Not
	// part of the wire schema; filled in by the adapter.
	SessionID string `json:"-"`
}

// FixStatus is the reviewee's reported outcome.
type FixStatus string

const (
	StatusCompleted          FixStatus = "completed"
	StatusNeedsClarification FixStatus = "needs_clarification"
	StatusNeedsPermission    FixStatus = "needs_permission"
	StatusError              FixStatus = "error"
)

// PermissionRequest describes an action the reviewee wants approval for.
type PermissionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// RevieweeOutput is the reviewee's structured result payload.
type RevieweeOutput struct {
	Status            FixStatus          `json:"status"`
	Summary           string             `json:"summary"`
	FilesModified     []string           `json:"files_modified"`
	Question          string             `json:"question,omitempty"`
	PermissionRequest *PermissionRequest `json:"permission_request,omitempty"`
	ErrorDetails      string             `json:"error_details,omitempty"`

	SessionID string `json:"-"`
}

// decodeReviewerOutput parses and validates a reviewer result payload.
// An unknown action is fatal; an unknown comment severity degrades to
// minor rather than failing the call.
func decodeReviewerOutput(data []byte) (*ReviewerOutput, error) {
	var out ReviewerOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode reviewer output: %w", err)
	}
	switch out.Action {
	case ActionApprove, ActionRequestChanges, ActionComment:
	default:
		return nil, fmt.Errorf("%w: reviewer action %q", ErrUnknownEnumValue, out.Action)
	}
	if out.Comments == nil {
		out.Comments = []ReviewComment{}
	}
	if out.BlockingIssues == nil {
		out.BlockingIssues = []string{}
	}
	for i := range out.Comments {
		switch out.Comments[i].Severity {
		case SeverityCritical, SeverityMajor, SeverityMinor, SeveritySuggestion:
		default:
			out.Comments[i].Severity = SeverityMinor
		}
	}
	return &out, nil
}

// decodeRevieweeOutput parses and validates a reviewee result payload.
// An unknown status is fatal for the call.
func decodeRevieweeOutput(data []byte) (*RevieweeOutput, error) {
	var out RevieweeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode reviewee output: %w", err)
	}
	switch out.Status {
	case StatusCompleted, StatusNeedsClarification, StatusNeedsPermission, StatusError:
	default:
		return nil, fmt.Errorf("%w: reviewee status %q", ErrUnknownEnumValue, out.Status)
	}
	if out.FilesModified == nil {
		out.FilesModified = []string{}
	}
	return &out, nil
}

// reviewerSchema is the JSON Schema handed to the agent CLIs to
// constrain the reviewer's structured output.
const reviewerSchema = `{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["approve", "request_changes", "comment"]},
    "summary": {"type": "string"},
    "comments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string"},
          "line": {"type": "integer"},
          "body": {"type": "string"},
          "severity": {"type": "string", "enum": ["critical", "major", "minor", "suggestion"]}
        },
        "required": ["path", "line", "body", "severity"]
      }
    },
    "blocking_issues": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["action", "summary", "comments", "blocking_issues"]
}`

// revieweeSchema constrains the reviewee's structured output.
const revieweeSchema = `{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["completed", "needs_clarification", "needs_permission", "error"]},
    "summary": {"type": "string"},
    "files_modified": {"type": "array", "items": {"type": "string"}},
    "question": {"type": "string"},
    "permission_request": {
      "type": "object",
      "properties": {
        "action": {"type": "string"},
        "reason": {"type": "string"}
      },
      "required": ["action", "reason"]
    },
    "error_details": {"type": "string"}
  },
  "required": ["status", "summary", "files_modified"]
}`

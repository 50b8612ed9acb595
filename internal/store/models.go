// Package store persists rally sessions and the append-only per-iteration
// history of review and fix outputs as plain JSON files.
package store

import (
	"time"

	"github.com/revrally/revrally/internal/agent"
)

// RallyState is the orchestrator's current position in the rally loop.
type RallyState string

const (
	StateInitializing            RallyState = "initializing"
	StateReviewerReviewing       RallyState = "reviewer_reviewing"
	StateRevieweeFix             RallyState = "reviewee_fix"
	StateWaitingForClarification RallyState = "waiting_for_clarification"
	StateWaitingForPermission    RallyState = "waiting_for_permission"
	StateCompleted               RallyState = "completed"
	StateAborted                 RallyState = "aborted"
	StateError                   RallyState = "error"
)

// IsFinished reports whether the state is terminal.
func (s RallyState) IsFinished() bool {
	switch s {
	case StateCompleted, StateAborted, StateError:
		return true
	}
	return false
}

// IsActive reports whether the rally is still in progress. Every state
// is exactly one of active or finished.
func (s RallyState) IsActive() bool { return !s.IsFinished() }

// Session is the durable record of one rally. It is owned and mutated
// exclusively by the orchestrator and persisted after every mutation.
type Session struct {
	RunID     string     `json:"run_id"`
	Repo      string     `json:"repo"`
	PRNumber  int        `json:"pr_number"`
	Iteration int        `json:"iteration"`
	State     RallyState `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EntryKind distinguishes review and fix history entries.
type EntryKind string

const (
	EntryReview EntryKind = "review"
	EntryFix    EntryKind = "fix"
)

// HistoryEntry is one immutable per-iteration record. Exactly one of
// Review/Fix is set, matching Kind.
type HistoryEntry struct {
	Iteration int                   `json:"iteration"`
	Kind      EntryKind             `json:"kind"`
	Timestamp time.Time             `json:"timestamp"`
	Review    *agent.ReviewerOutput `json:"review,omitempty"`
	Fix       *agent.RevieweeOutput `json:"fix,omitempty"`
}

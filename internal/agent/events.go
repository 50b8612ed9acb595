package agent

import "time"

// EventType identifies the kind of rally event.
type EventType string

const (
	EventStateChanged       EventType = "state.changed"
	EventIterationStarted   EventType = "iteration.started"
	EventThinking           EventType = "agent.thinking"
	EventText               EventType = "agent.text"
	EventToolUse            EventType = "agent.tool_use"
	EventToolResult         EventType = "agent.tool_result"
	EventReviewCompleted    EventType = "review.completed"
	EventFixCompleted       EventType = "fix.completed"
	EventClarificationAsked EventType = "clarification.needed"
	EventPermissionAsked    EventType = "permission.needed"
	EventOutcome            EventType = "rally.outcome"
	EventLog                EventType = "log"
)

// Event is the transient notification fanned out to the UI. Events are
// never persisted; delivery over the bounded channel is best-effort.
type Event struct {
	Type      EventType `json:"type"`
	TS        time.Time `json:"ts"`
	Iteration int       `json:"iteration,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Role      string    `json:"role,omitempty"` // "reviewer" or "reviewee"
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Action    string    `json:"action,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Emit sends an event without blocking. A nil or full channel drops the
// event; a slow consumer must never stall the producer.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	select {
	case ch <- ev:
	default:
	}
}

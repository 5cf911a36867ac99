package domain

import "time"

// EventType identifies the type of a session event pushed to subscribers.
type EventType string

const (
	// EventTypeSessionStarted announces a new active session.
	EventTypeSessionStarted EventType = "session-started"
	// EventTypeVoteCountChanged carries only the distinct voter count while
	// votes are collected blind.
	EventTypeVoteCountChanged EventType = "vote-count-changed"
	// EventTypeVotesRevealed carries the full (participant, value) set.
	EventTypeVotesRevealed EventType = "votes-revealed"
	// EventTypeTaskFinalized records the consensus estimate for a task.
	EventTypeTaskFinalized EventType = "task-finalized"
	// EventTypeRoundStarted announces voting has moved to the next task.
	EventTypeRoundStarted EventType = "round-started"
	// EventTypeSessionEnded announces the session is over.
	EventTypeSessionEnded EventType = "session-ended"
)

// IsValid reports whether the event type is supported.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeSessionStarted,
		EventTypeVoteCountChanged,
		EventTypeVotesRevealed,
		EventTypeTaskFinalized,
		EventTypeRoundStarted,
		EventTypeSessionEnded:
		return true
	default:
		return false
	}
}

// Event is one session-scoped state change fanned out to subscribers.
// Seq is assigned by the broadcast registry in publish order, so two events
// for the same session always carry increasing sequence numbers.
type Event struct {
	SessionID   string
	Seq         int64
	Type        EventType
	Timestamp   time.Time
	PayloadJSON []byte
}

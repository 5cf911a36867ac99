package app

import (
	"encoding/json"
	"log"
	"time"

	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// SessionStartedPayload announces a new active session.
type SessionStartedPayload struct {
	SessionID     string   `json:"session_id"`
	ProjectID     string   `json:"project_id"`
	TaskQueue     []string `json:"task_queue"`
	CurrentTaskID string   `json:"current_task_id"`
}

// VoteCountPayload carries only the distinct voter count while a round is
// collecting, so individual votes stay hidden.
type VoteCountPayload struct {
	TaskID    string `json:"task_id"`
	VoteCount int    `json:"vote_count"`
}

// VotePair is one revealed (participant, value) entry.
type VotePair struct {
	ParticipantID string `json:"participant_id"`
	Value         string `json:"value"`
}

// VotesRevealedPayload carries the full revealed vote set with aggregates.
type VotesRevealedPayload struct {
	TaskID      string     `json:"task_id"`
	Votes       []VotePair `json:"votes"`
	VoterCount  int        `json:"voter_count"`
	UnsureCount int        `json:"unsure_count"`
	Mode        int        `json:"mode,omitempty"`
	Average     float64    `json:"average,omitempty"`
}

// TaskFinalizedPayload records the consensus estimate for a task.
type TaskFinalizedPayload struct {
	TaskID   string `json:"task_id"`
	Estimate int    `json:"estimate"`
}

// RoundStartedPayload announces voting has moved to the next task.
type RoundStartedPayload struct {
	TaskID string `json:"task_id"`
}

// SessionEndedPayload announces the session is over.
type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	EndedAt   int64  `json:"ended_at"`
}

// publish marshals the payload and hands the event to the broadcaster. The
// registry assigns sequence numbers; a marshal failure is a programming error
// and is logged rather than surfaced to the caller mid-mutation.
func (s *Service) publish(sessionID string, eventType domain.EventType, payload any) {
	if s.events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("poker: marshal %s payload for session %s: %v", eventType, sessionID, err)
		return
	}
	s.events.Publish(sessionID, domain.Event{
		Type:        eventType,
		Timestamp:   s.clock().UTC(),
		PayloadJSON: raw,
	})
}

func votePairs(votes []domain.Vote) []VotePair {
	pairs := make([]VotePair, 0, len(votes))
	for _, vote := range votes {
		pairs = append(pairs, VotePair{
			ParticipantID: vote.ParticipantID,
			Value:         vote.Value.String(),
		})
	}
	return pairs
}

func revealedPayload(taskID string, votes []domain.Vote) VotesRevealedPayload {
	stats := domain.ComputeVoteStats(votes)
	return VotesRevealedPayload{
		TaskID:      taskID,
		Votes:       votePairs(votes),
		VoterCount:  stats.VoterCount,
		UnsureCount: stats.UnsureCount,
		Mode:        int(stats.Mode),
		Average:     stats.Average,
	}
}

func millis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

package app

import (
	"context"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// CastVote records or overwrites a participant's vote on the current task and
// returns the distinct voter count. Any authenticated participant may vote;
// votes land blind and only the count is broadcast while collecting.
func (s *Service) CastVote(ctx context.Context, sessionID, taskID, participantID, value string) (int, error) {
	parsed, err := domain.ParseVoteValue(value)
	if err != nil {
		return 0, err
	}

	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	_, round, err := s.activeSessionAndRound(ctx, sessionID, taskID)
	if err != nil {
		return 0, err
	}
	if !round.CanAcceptVotes() {
		return 0, apperrors.WithMetadata(apperrors.CodeVoteAfterReveal,
			"votes are closed for this task",
			map[string]string{"task_id": taskID, "phase": round.Phase.String()})
	}

	vote, err := domain.NewVote(sessionID, taskID, participantID, parsed, s.clock)
	if err != nil {
		return 0, err
	}
	if err := s.stores.Vote.UpsertVote(ctx, vote); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "persist vote", err)
	}

	count, err := s.stores.Vote.CountVotes(ctx, sessionID, taskID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "count votes", err)
	}

	s.publish(sessionID, domain.EventTypeVoteCountChanged, VoteCountPayload{
		TaskID:    taskID,
		VoteCount: count,
	})
	return count, nil
}

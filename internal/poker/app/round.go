package app

import (
	"context"
	"log"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// Reveal flips the current task's votes from hidden to visible and broadcasts
// the full vote set with aggregates. Revealing twice fails; revealing with
// zero votes is allowed.
func (s *Service) Reveal(ctx context.Context, sessionID, taskID, actorID string) (domain.Round, []domain.Vote, error) {
	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	session, round, err := s.activeSessionAndRound(ctx, sessionID, taskID)
	if err != nil {
		return domain.Round{}, nil, err
	}
	if err := s.authorizer.CanModerate(ctx, actorID, session.ProjectID); err != nil {
		return domain.Round{}, nil, err
	}

	revealed, err := round.Reveal(s.clock)
	if err != nil {
		return domain.Round{}, nil, err
	}
	if err := s.stores.Session.UpdateRound(ctx, revealed); err != nil {
		return domain.Round{}, nil, apperrors.Wrap(apperrors.CodeUnknown, "persist reveal", err)
	}

	votes, err := s.stores.Vote.ListVotes(ctx, sessionID, taskID)
	if err != nil {
		return domain.Round{}, nil, apperrors.Wrap(apperrors.CodeUnknown, "list votes", err)
	}

	s.publish(sessionID, domain.EventTypeVotesRevealed, revealedPayload(taskID, votes))
	return revealed, votes, nil
}

// FinalizeRequest carries the inputs to finalize the current task.
type FinalizeRequest struct {
	SessionID string
	TaskID    string
	ActorID   string
	// Estimate is the consensus story point value. When nil, the service's
	// finalize policy decides (the default rejects and demands a value).
	Estimate *int
}

// Finalize records the consensus estimate for the current task, writes the
// story points back to the task catalog, and advances the session to the next
// queued task. Finalizing the last queued task ends the session.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (domain.Session, domain.Round, error) {
	unlock := s.sessionLocks.lock(req.SessionID)
	defer unlock()

	session, round, err := s.activeSessionAndRound(ctx, req.SessionID, req.TaskID)
	if err != nil {
		return domain.Session{}, domain.Round{}, err
	}
	if err := s.authorizer.CanModerate(ctx, req.ActorID, session.ProjectID); err != nil {
		return domain.Session{}, domain.Round{}, err
	}

	var estimate domain.Point
	if req.Estimate != nil {
		estimate, err = domain.ParsePoint(*req.Estimate)
		if err != nil {
			return domain.Session{}, domain.Round{}, err
		}
	} else {
		votes, err := s.stores.Vote.ListVotes(ctx, req.SessionID, req.TaskID)
		if err != nil {
			return domain.Session{}, domain.Round{}, apperrors.Wrap(apperrors.CodeUnknown, "list votes", err)
		}
		estimate, err = s.policy.DefaultEstimate(votes)
		if err != nil {
			return domain.Session{}, domain.Round{}, err
		}
	}

	finalized, err := round.Finalize(estimate, s.clock)
	if err != nil {
		return domain.Session{}, domain.Round{}, err
	}

	// Write the estimate back to the catalog before the state transition so
	// a failed advance can be retried without losing the writeback.
	if s.stores.Tasks != nil {
		if err := s.stores.Tasks.SetFinalEstimate(ctx, session.ProjectID, req.TaskID, estimate); err != nil {
			return domain.Session{}, domain.Round{}, apperrors.Wrap(apperrors.CodeUnknown, "record story points", err)
		}
	}

	nextTaskID, hasNext := session.NextTask(req.TaskID)
	session.CurrentTaskID = nextTaskID
	session.UpdatedAt = s.clock().UTC()

	var nextRound *domain.Round
	if hasNext {
		opened := domain.NewRound(session.ID, nextTaskID, s.clock)
		nextRound = &opened
	} else {
		// Finalizing the last queued task ends the session.
		session, _ = session.End(s.clock)
	}
	if err := s.stores.Session.AdvanceSession(ctx, session, finalized, nextRound); err != nil {
		return domain.Session{}, domain.Round{}, apperrors.Wrap(apperrors.CodeUnknown, "advance session", err)
	}

	log.Printf("poker: task finalized session_id=%s task_id=%s estimate=%d",
		session.ID, req.TaskID, estimate)
	s.publish(session.ID, domain.EventTypeTaskFinalized, TaskFinalizedPayload{
		TaskID:   req.TaskID,
		Estimate: int(estimate),
	})
	if hasNext {
		s.publish(session.ID, domain.EventTypeRoundStarted, RoundStartedPayload{
			TaskID: nextTaskID,
		})
	} else {
		s.publish(session.ID, domain.EventTypeSessionEnded, SessionEndedPayload{
			SessionID: session.ID,
			EndedAt:   millis(*session.EndedAt),
		})
		if s.events != nil {
			s.events.CloseSession(session.ID)
		}
	}
	return session, finalized, nil
}

package app

import (
	"context"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// VotesView is the phase-gated view of a task's votes. While the round is
// collecting only the count is populated; the full pairs and aggregates
// appear once votes are revealed.
type VotesView struct {
	TaskID    string
	Phase     domain.RoundPhase
	VoteCount int
	Votes     []VotePair
	Stats     *domain.VoteStats
}

// TaskView is one task's state inside a session snapshot.
type TaskView struct {
	TaskID        string
	Phase         domain.RoundPhase
	VoteCount     int
	Votes         []VotePair
	FinalEstimate *domain.Point
}

// SessionSnapshot is the full catch-up state a client needs on join or
// reconnect: the session, every round in queue order, and each round's
// phase-gated votes.
type SessionSnapshot struct {
	Session domain.Session
	Tasks   []TaskView
}

// Votes returns the votes for a task, gated by the round's phase so hidden
// votes never leak while collecting.
func (s *Service) Votes(ctx context.Context, sessionID, taskID string) (VotesView, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return VotesView{}, err
	}
	if !session.HasTask(taskID) {
		return VotesView{}, apperrors.WithMetadata(apperrors.CodeTaskNotFound,
			"task is not in the session queue",
			map[string]string{"session_id": sessionID, "task_id": taskID})
	}

	round, err := s.stores.Session.GetRound(ctx, sessionID, taskID)
	if err != nil {
		return VotesView{}, apperrors.WithMetadata(apperrors.CodeRoundNotFound,
			"no round for task",
			map[string]string{"session_id": sessionID, "task_id": taskID})
	}

	view := VotesView{TaskID: taskID, Phase: round.Phase}
	if round.Phase == domain.RoundPhaseCollecting {
		count, err := s.stores.Vote.CountVotes(ctx, sessionID, taskID)
		if err != nil {
			return VotesView{}, apperrors.Wrap(apperrors.CodeUnknown, "count votes", err)
		}
		view.VoteCount = count
		return view, nil
	}

	votes, err := s.stores.Vote.ListVotes(ctx, sessionID, taskID)
	if err != nil {
		return VotesView{}, apperrors.Wrap(apperrors.CodeUnknown, "list votes", err)
	}
	stats := domain.ComputeVoteStats(votes)
	view.VoteCount = stats.VoterCount
	view.Votes = votePairs(votes)
	view.Stats = &stats
	return view, nil
}

// VoteStats returns aggregate statistics for a revealed task.
func (s *Service) VoteStats(ctx context.Context, sessionID, taskID string) (domain.VoteStats, error) {
	view, err := s.Votes(ctx, sessionID, taskID)
	if err != nil {
		return domain.VoteStats{}, err
	}
	if view.Stats == nil {
		return domain.VoteStats{}, apperrors.WithMetadata(apperrors.CodeRoundNotRevealed,
			"votes are not revealed yet",
			map[string]string{"task_id": taskID})
	}
	return *view.Stats, nil
}

// Snapshot assembles the catch-up state for a session. Ended sessions still
// snapshot so late joiners can render the final estimates.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (SessionSnapshot, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return SessionSnapshot{}, err
	}

	rounds, err := s.stores.Session.ListRounds(ctx, sessionID)
	if err != nil {
		return SessionSnapshot{}, apperrors.Wrap(apperrors.CodeUnknown, "list rounds", err)
	}

	snapshot := SessionSnapshot{Session: session}
	for _, round := range rounds {
		task := TaskView{
			TaskID:        round.TaskID,
			Phase:         round.Phase,
			FinalEstimate: round.FinalEstimate,
		}
		if round.Phase == domain.RoundPhaseCollecting {
			count, err := s.stores.Vote.CountVotes(ctx, sessionID, round.TaskID)
			if err != nil {
				return SessionSnapshot{}, apperrors.Wrap(apperrors.CodeUnknown, "count votes", err)
			}
			task.VoteCount = count
		} else {
			votes, err := s.stores.Vote.ListVotes(ctx, sessionID, round.TaskID)
			if err != nil {
				return SessionSnapshot{}, apperrors.Wrap(apperrors.CodeUnknown, "list votes", err)
			}
			task.VoteCount = len(votes)
			task.Votes = votePairs(votes)
		}
		snapshot.Tasks = append(snapshot.Tasks, task)
	}
	return snapshot, nil
}

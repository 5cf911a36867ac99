package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// Vote methods

// UpsertVote writes a participant's vote, overwriting any prior value for the
// same (session, task, participant) identity. No history is retained.
func (s *Store) UpsertVote(ctx context.Context, vote domain.Vote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(vote.ParticipantID) == "" {
		return fmt.Errorf("participant id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO votes (session_id, task_id, participant_id, value, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, task_id, participant_id)
DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		vote.SessionID,
		vote.TaskID,
		vote.ParticipantID,
		vote.Value.String(),
		toMillis(vote.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

// CountVotes returns the number of distinct participants who voted on a task.
func (s *Store) CountVotes(ctx context.Context, sessionID, taskID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM votes WHERE session_id = ? AND task_id = ?",
		sessionID, taskID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return count, nil
}

// ListVotes returns all votes for a task ordered by participant id so
// revealed sets are deterministic.
func (s *Store) ListVotes(ctx context.Context, sessionID, taskID string) ([]domain.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT session_id, task_id, participant_id, value, updated_at
FROM votes WHERE session_id = ? AND task_id = ? ORDER BY participant_id`,
		sessionID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var (
			vote      domain.Vote
			rawValue  string
			updatedAt int64
		)
		if err := rows.Scan(&vote.SessionID, &vote.TaskID, &vote.ParticipantID, &rawValue, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		vote.Value, err = domain.ParseVoteValue(rawValue)
		if err != nil {
			return nil, fmt.Errorf("decode vote value: %w", err)
		}
		vote.UpdatedAt = fromMillis(updatedAt)
		votes = append(votes, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read votes: %w", err)
	}
	return votes, nil
}

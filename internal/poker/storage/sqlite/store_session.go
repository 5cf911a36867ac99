package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/pointing.space/internal/poker/domain"
	"github.com/louisbranch/pointing.space/internal/poker/storage"
)

// Session methods

// PutSession atomically stores a session and its opening round. The partial
// unique index on active sessions backs the explicit check, so two
// concurrent starts for one project cannot both commit.
func (s *Store) PutSession(ctx context.Context, session domain.Session, round domain.Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.ProjectID) == "" {
		return fmt.Errorf("project id is required")
	}

	queueJSON, err := json.Marshal(session.TaskQueue)
	if err != nil {
		return fmt.Errorf("encode task queue: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if session.Status == domain.SessionStatusActive {
		var active int
		row := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sessions WHERE project_id = ? AND status = 'ACTIVE'",
			session.ProjectID)
		if err := row.Scan(&active); err != nil {
			return fmt.Errorf("check active session: %w", err)
		}
		if active != 0 {
			return storage.ErrActiveSessionExists
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, project_id, status, task_queue, current_task_id, created_at, updated_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.ProjectID,
		session.Status.String(),
		string(queueJSON),
		session.CurrentTaskID,
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
		toNullMillis(session.EndedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrActiveSessionExists
		}
		return fmt.Errorf("put session: %w", err)
	}

	if err := insertRoundTx(ctx, tx, session, round); err != nil {
		return err
	}

	return tx.Commit()
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, project_id, status, task_queue, current_task_id, created_at, updated_at, ended_at
FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// GetActiveSession returns the single active session for a project.
func (s *Store) GetActiveSession(ctx context.Context, projectID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(projectID) == "" {
		return domain.Session{}, fmt.Errorf("project id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, project_id, status, task_queue, current_task_id, created_at, updated_at, ended_at
FROM sessions WHERE project_id = ? AND status = 'ACTIVE'`, projectID)
	return scanSession(row)
}

// GetRound returns the round for a (session, task) pair.
func (s *Store) GetRound(ctx context.Context, sessionID, taskID string) (domain.Round, error) {
	if err := ctx.Err(); err != nil {
		return domain.Round{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Round{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, task_id, phase, final_estimate, started_at, revealed_at, finalized_at
FROM rounds WHERE session_id = ? AND task_id = ?`, sessionID, taskID)
	return scanRound(row)
}

// ListRounds returns all rounds for a session in task queue order.
func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]domain.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT session_id, task_id, phase, final_estimate, started_at, revealed_at, finalized_at
FROM rounds WHERE session_id = ? ORDER BY queue_position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rounds: %w", err)
	}
	return rounds, nil
}

// UpdateRound persists a phase transition for an existing round.
func (s *Store) UpdateRound(ctx context.Context, round domain.Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE rounds SET phase = ?, final_estimate = ?, revealed_at = ?, finalized_at = ?
WHERE session_id = ? AND task_id = ?`,
		round.Phase.String(),
		estimateToNull(round.FinalEstimate),
		toNullMillis(round.RevealedAt),
		toNullMillis(round.FinalizedAt),
		round.SessionID,
		round.TaskID,
	)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update round result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AdvanceSession atomically records a finalized round, writes the session's
// advanced state (including ENDED when the queue is exhausted), and opens the
// next round when one is queued.
func (s *Store) AdvanceSession(ctx context.Context, session domain.Session, finalized domain.Round, next *domain.Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
UPDATE rounds SET phase = ?, final_estimate = ?, revealed_at = ?, finalized_at = ?
WHERE session_id = ? AND task_id = ?`,
		finalized.Phase.String(),
		estimateToNull(finalized.FinalEstimate),
		toNullMillis(finalized.RevealedAt),
		toNullMillis(finalized.FinalizedAt),
		finalized.SessionID,
		finalized.TaskID,
	); err != nil {
		return fmt.Errorf("finalize round: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE sessions SET status = ?, current_task_id = ?, updated_at = ?, ended_at = ?
WHERE id = ?`,
		session.Status.String(),
		session.CurrentTaskID,
		toMillis(session.UpdatedAt),
		toNullMillis(session.EndedAt),
		session.ID,
	); err != nil {
		return fmt.Errorf("advance session: %w", err)
	}

	if next != nil {
		if err := insertRoundTx(ctx, tx, session, *next); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// EndSession persists the ended session state.
func (s *Store) EndSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET status = ?, current_task_id = ?, updated_at = ?, ended_at = ?
WHERE id = ?`,
		session.Status.String(),
		session.CurrentTaskID,
		toMillis(session.UpdatedAt),
		toNullMillis(session.EndedAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func insertRoundTx(ctx context.Context, tx *sql.Tx, session domain.Session, round domain.Round) error {
	position := -1
	for i, taskID := range session.TaskQueue {
		if taskID == round.TaskID {
			position = i
			break
		}
	}
	if position < 0 {
		return fmt.Errorf("round task %q is not in the session queue", round.TaskID)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO rounds (session_id, task_id, queue_position, phase, final_estimate, started_at, revealed_at, finalized_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		round.SessionID,
		round.TaskID,
		position,
		round.Phase.String(),
		estimateToNull(round.FinalEstimate),
		toMillis(round.StartedAt),
		toNullMillis(round.RevealedAt),
		toNullMillis(round.FinalizedAt),
	); err != nil {
		return fmt.Errorf("put round: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session   domain.Session
		status    string
		queueJSON string
		createdAt int64
		updatedAt int64
		endedAt   sql.NullInt64
	)
	err := row.Scan(&session.ID, &session.ProjectID, &status, &queueJSON,
		&session.CurrentTaskID, &createdAt, &updatedAt, &endedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}

	session.Status, err = domain.ParseSessionStatus(status)
	if err != nil {
		return domain.Session{}, fmt.Errorf("decode session status: %w", err)
	}
	if err := json.Unmarshal([]byte(queueJSON), &session.TaskQueue); err != nil {
		return domain.Session{}, fmt.Errorf("decode task queue: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	session.EndedAt = fromNullMillis(endedAt)
	return session, nil
}

func scanRound(row rowScanner) (domain.Round, error) {
	var (
		round       domain.Round
		phase       string
		estimate    sql.NullInt64
		startedAt   int64
		revealedAt  sql.NullInt64
		finalizedAt sql.NullInt64
	)
	err := row.Scan(&round.SessionID, &round.TaskID, &phase, &estimate,
		&startedAt, &revealedAt, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Round{}, storage.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("scan round: %w", err)
	}

	round.Phase, err = domain.ParseRoundPhase(phase)
	if err != nil {
		return domain.Round{}, fmt.Errorf("decode round phase: %w", err)
	}
	if estimate.Valid {
		point := domain.Point(estimate.Int64)
		round.FinalEstimate = &point
	}
	round.StartedAt = fromMillis(startedAt)
	round.RevealedAt = fromNullMillis(revealedAt)
	round.FinalizedAt = fromNullMillis(finalizedAt)
	return round, nil
}

func estimateToNull(estimate *domain.Point) sql.NullInt64 {
	if estimate == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*estimate), Valid: true}
}

// isUniqueViolation reports whether the error came from the partial unique
// index guarding one active session per project.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

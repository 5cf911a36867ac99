package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
	"github.com/louisbranch/pointing.space/internal/poker/storage"
)

// Task catalog methods

// PutTask registers a task in the catalog. The engine only reads the catalog;
// this writer exists for the surrounding application and for tests.
func (s *Store) PutTask(ctx context.Context, projectID, taskID, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("project id is required")
	}
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("task id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO tasks (id, project_id, title, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(project_id, id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		taskID, projectID, title, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

// ValidateTasks fails when any of the task ids is unknown to the project.
func (s *Store) ValidateTasks(ctx context.Context, projectID string, taskIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	for _, taskID := range taskIDs {
		var found int
		row := s.sqlDB.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM tasks WHERE project_id = ? AND id = ?",
			projectID, taskID)
		if err := row.Scan(&found); err != nil {
			return fmt.Errorf("check task %s: %w", taskID, err)
		}
		if found == 0 {
			return apperrors.WithMetadata(apperrors.CodeTaskNotFound,
				"task is not in the project",
				map[string]string{"task_id": taskID})
		}
	}
	return nil
}

// SetFinalEstimate writes the agreed story points back onto the task record.
func (s *Store) SetFinalEstimate(ctx context.Context, projectID, taskID string, estimate domain.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE tasks SET story_points = ?, updated_at = ? WHERE project_id = ? AND id = ?",
		int64(estimate), toMillis(time.Now()), projectID, taskID)
	if err != nil {
		return fmt.Errorf("set final estimate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set final estimate result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetStoryPoints returns the persisted estimate for a task, or ErrNotFound.
func (s *Store) GetStoryPoints(ctx context.Context, projectID, taskID string) (domain.Point, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, false, fmt.Errorf("storage is not configured")
	}

	var points sql.NullInt64
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT story_points FROM tasks WHERE project_id = ? AND id = ?",
		projectID, taskID)
	if err := row.Scan(&points); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, storage.ErrNotFound
		}
		return 0, false, fmt.Errorf("get story points: %w", err)
	}
	if !points.Valid {
		return 0, false, nil
	}
	return domain.Point(points.Int64), true, nil
}

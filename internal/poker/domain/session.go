package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/id"
)

// SessionStatus describes the lifecycle state of an estimation session.
type SessionStatus int

const (
	// SessionStatusUnspecified represents an invalid session status value.
	SessionStatusUnspecified SessionStatus = iota
	// SessionStatusActive indicates the session is currently running.
	SessionStatusActive
	// SessionStatusEnded indicates the session has ended.
	SessionStatusEnded
)

// String returns the storage representation of the status.
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusActive:
		return "ACTIVE"
	case SessionStatusEnded:
		return "ENDED"
	default:
		return "UNSPECIFIED"
	}
}

// ParseSessionStatus reverses SessionStatus.String.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	switch raw {
	case "ACTIVE":
		return SessionStatusActive, nil
	case "ENDED":
		return SessionStatusEnded, nil
	default:
		return SessionStatusUnspecified, fmt.Errorf("unknown session status %q", raw)
	}
}

// Session is one planning poker meeting over an ordered queue of tasks
// within a project.
type Session struct {
	ID        string
	ProjectID string
	Status    SessionStatus
	// TaskQueue is fixed at creation and never reordered or extended.
	TaskQueue []string
	// CurrentTaskID names the task being voted on. It is empty before
	// voting starts on a task and after the queue is exhausted.
	CurrentTaskID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EndedAt       *time.Time // nil while the session is active
}

// StartSessionInput describes the metadata needed to start a session.
type StartSessionInput struct {
	ProjectID string
	TaskIDs   []string
}

// StartSession creates a new active session with the first queued task as the
// current task. The task queue must be non-empty and free of duplicates.
func StartSession(input StartSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeStartSessionInput(input)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:            sessionID,
		ProjectID:     normalized.ProjectID,
		Status:        SessionStatusActive,
		TaskQueue:     normalized.TaskIDs,
		CurrentTaskID: normalized.TaskIDs[0],
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
		EndedAt:       nil,
	}, nil
}

// NormalizeStartSessionInput trims and validates session input metadata.
func NormalizeStartSessionInput(input StartSessionInput) (StartSessionInput, error) {
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	if input.ProjectID == "" {
		return StartSessionInput{}, apperrors.New(apperrors.CodeSessionEmptyProjectID, "project id is required")
	}

	taskIDs := make([]string, 0, len(input.TaskIDs))
	seen := make(map[string]struct{}, len(input.TaskIDs))
	for _, taskID := range input.TaskIDs {
		taskID = strings.TrimSpace(taskID)
		if taskID == "" {
			return StartSessionInput{}, apperrors.New(apperrors.CodeSessionInvalidTaskQueue, "task id must not be empty")
		}
		if _, dup := seen[taskID]; dup {
			return StartSessionInput{}, apperrors.WithMetadata(apperrors.CodeSessionDuplicateTask,
				"task queued more than once",
				map[string]string{"task_id": taskID})
		}
		seen[taskID] = struct{}{}
		taskIDs = append(taskIDs, taskID)
	}
	if len(taskIDs) == 0 {
		return StartSessionInput{}, apperrors.New(apperrors.CodeSessionEmptyTaskQueue, "task queue must not be empty")
	}
	input.TaskIDs = taskIDs
	return input, nil
}

// IsActive reports whether the session accepts mutations.
func (s Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// NextTask returns the task queued after taskID, or false when taskID is the
// last entry (or absent).
func (s Session) NextTask(taskID string) (string, bool) {
	for i, queued := range s.TaskQueue {
		if queued == taskID && i+1 < len(s.TaskQueue) {
			return s.TaskQueue[i+1], true
		}
	}
	return "", false
}

// HasTask reports whether taskID was queued when the session started.
func (s Session) HasTask(taskID string) bool {
	for _, queued := range s.TaskQueue {
		if queued == taskID {
			return true
		}
	}
	return false
}

// End transitions the session to ENDED and clears the current task. Ending an
// already-ended session is a no-op so the operation stays idempotent.
func (s Session) End(now func() time.Time) (Session, bool) {
	if s.Status == SessionStatusEnded {
		return s, false
	}
	if now == nil {
		now = time.Now
	}
	endedAt := now().UTC()
	s.Status = SessionStatusEnded
	s.CurrentTaskID = ""
	s.UpdatedAt = endedAt
	s.EndedAt = &endedAt
	return s, true
}

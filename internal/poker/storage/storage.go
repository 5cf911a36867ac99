// Package storage defines the persistence interfaces for the poker engine.
//
// Stores are the only durable state in the system. All mutations flow through
// the session service, which is responsible for serializing writes per
// session; stores only guarantee that each individual method is atomic.
package storage

import (
	"context"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrActiveSessionExists indicates a command tried to start a second active
// session for the same project, which would violate the single-active-session
// domain rule.
var ErrActiveSessionExists = apperrors.New(apperrors.CodeActiveSessionExists, "active session already exists for project")

// SessionStore owns durable session and round lifecycle state.
type SessionStore interface {
	// PutSession atomically persists a new session together with its
	// opening round. It fails with ErrActiveSessionExists when the project
	// already has an active session.
	PutSession(ctx context.Context, session domain.Session, round domain.Round) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// GetActiveSession returns the single active session for a project,
	// or ErrNotFound when none exists.
	GetActiveSession(ctx context.Context, projectID string) (domain.Session, error)
	GetRound(ctx context.Context, sessionID, taskID string) (domain.Round, error)
	// ListRounds returns all rounds for a session in task queue order.
	ListRounds(ctx context.Context, sessionID string) ([]domain.Round, error)
	UpdateRound(ctx context.Context, round domain.Round) error
	// AdvanceSession atomically records a finalized round, writes the
	// session's advanced state (including ENDED when the queue is
	// exhausted), and opens the next round when one is queued.
	AdvanceSession(ctx context.Context, session domain.Session, finalized domain.Round, next *domain.Round) error
	// EndSession persists the ended session state.
	EndSession(ctx context.Context, session domain.Session) error
}

// VoteStore owns the per-(session, task, participant) vote records.
// Writes are upserts: the last value received by the server wins and no
// history of prior votes is retained.
type VoteStore interface {
	UpsertVote(ctx context.Context, vote domain.Vote) error
	// CountVotes returns the number of distinct participants who voted,
	// the only vote data exposed while a round is collecting.
	CountVotes(ctx context.Context, sessionID, taskID string) (int, error)
	ListVotes(ctx context.Context, sessionID, taskID string) ([]domain.Vote, error)
}

// TaskCatalog is the collaborator that owns task records. The engine checks
// queued identifiers against it at session start and writes the agreed
// estimate back when a round finalizes.
type TaskCatalog interface {
	// ValidateTasks fails with ErrNotFound when any task id is unknown to
	// the project.
	ValidateTasks(ctx context.Context, projectID string, taskIDs []string) error
	SetFinalEstimate(ctx context.Context, projectID, taskID string, estimate domain.Point) error
}

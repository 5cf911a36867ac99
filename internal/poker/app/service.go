// Package app is the poker engine's single mutating entry point. The service
// validates commands against the session state machine, persists through the
// storage interfaces, and fans state changes out through the broadcaster.
//
// All mutations for a session are serialized on a per-session lock (and
// per-project for session starts), so concurrent reveals or finalizes cannot
// double-transition a round.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/pointing.space/internal/auth"
	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/id"
	"github.com/louisbranch/pointing.space/internal/poker/broadcast"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
	"github.com/louisbranch/pointing.space/internal/poker/storage"
)

// Stores groups the storage interfaces the service depends on.
type Stores struct {
	Session storage.SessionStore
	Vote    storage.VoteStore
	Tasks   storage.TaskCatalog
}

// EventBroadcaster is the fan-out surface the service publishes through.
// *broadcast.Registry satisfies it.
type EventBroadcaster interface {
	Publish(sessionID string, event domain.Event)
	Subscribe(sessionID string, sub broadcast.Subscriber, snapshot broadcast.Snapshot) error
	Unsubscribe(sessionID string, sub broadcast.Subscriber)
	CloseSession(sessionID string)
}

// Service coordinates session mutations and read projections.
type Service struct {
	stores      Stores
	events      EventBroadcaster
	authorizer  auth.Authorizer
	policy      domain.FinalizePolicy
	clock       func() time.Time
	idGenerator func() (string, error)

	sessionLocks keyedMutex
	projectLocks keyedMutex
}

// NewService creates a Service with default clock, id generation, and the
// explicit-estimate finalize policy.
func NewService(stores Stores, events EventBroadcaster, authorizer auth.Authorizer) *Service {
	if authorizer == nil {
		authorizer = auth.AllowAll{}
	}
	return &Service{
		stores:      stores,
		events:      events,
		authorizer:  authorizer,
		policy:      domain.RequireExplicitPolicy{},
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// SetFinalizePolicy replaces the policy used when finalize omits an estimate.
func (s *Service) SetFinalizePolicy(policy domain.FinalizePolicy) {
	if policy != nil {
		s.policy = policy
	}
}

// activeSessionAndRound loads the session and the round for taskID, checking
// the session accepts mutations and the task is the one being voted on.
func (s *Service) activeSessionAndRound(ctx context.Context, sessionID, taskID string) (domain.Session, domain.Round, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.Round{}, err
	}
	if !session.IsActive() {
		return domain.Session{}, domain.Round{}, apperrors.WithMetadata(apperrors.CodeSessionEnded,
			"session has ended",
			map[string]string{"session_id": sessionID})
	}
	if session.CurrentTaskID != taskID {
		return domain.Session{}, domain.Round{}, apperrors.WithMetadata(apperrors.CodeSessionTaskNotCurrent,
			"task is not being voted on",
			map[string]string{"task_id": taskID, "current_task_id": session.CurrentTaskID})
	}

	round, err := s.stores.Session.GetRound(ctx, sessionID, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, domain.Round{}, apperrors.WithMetadata(apperrors.CodeRoundNotFound,
				"no round for task",
				map[string]string{"session_id": sessionID, "task_id": taskID})
		}
		return domain.Session{}, domain.Round{}, apperrors.Wrap(apperrors.CodeUnknown, "load round", err)
	}
	return session, round, nil
}

func (s *Service) getSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.stores.Session.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.WithMetadata(apperrors.CodeSessionNotFound,
				"session not found",
				map[string]string{"session_id": sessionID})
		}
		return domain.Session{}, apperrors.Wrap(apperrors.CodeUnknown, "load session", err)
	}
	return session, nil
}

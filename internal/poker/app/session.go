package app

import (
	"context"
	"errors"
	"log"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
	"github.com/louisbranch/pointing.space/internal/poker/storage"
)

// StartSessionRequest carries the inputs to start an estimation session.
type StartSessionRequest struct {
	ProjectID string
	TaskIDs   []string
	// ActorID is the authenticated user starting the session. Moderation
	// rights for the project are required.
	ActorID string
}

// StartSession creates an active session over the requested task queue and
// opens a collecting round for the first task. At most one active session may
// exist per project; a second start fails without touching the existing one.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (domain.Session, error) {
	input, err := domain.NormalizeStartSessionInput(domain.StartSessionInput{
		ProjectID: req.ProjectID,
		TaskIDs:   req.TaskIDs,
	})
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.authorizer.CanModerate(ctx, req.ActorID, input.ProjectID); err != nil {
		return domain.Session{}, err
	}

	// Serialize starts per project so two concurrent calls cannot both pass
	// the active-session check. The store's uniqueness constraint backs this
	// up across processes.
	unlock := s.projectLocks.lock(input.ProjectID)
	defer unlock()

	_, err = s.stores.Session.GetActiveSession(ctx, input.ProjectID)
	switch {
	case err == nil:
		return domain.Session{}, apperrors.WithMetadata(apperrors.CodeActiveSessionExists,
			"project already has an active session",
			map[string]string{"project_id": input.ProjectID})
	case errors.Is(err, storage.ErrNotFound):
	default:
		return domain.Session{}, apperrors.Wrap(apperrors.CodeUnknown, "check active session", err)
	}

	if s.stores.Tasks != nil {
		if err := s.stores.Tasks.ValidateTasks(ctx, input.ProjectID, input.TaskIDs); err != nil {
			return domain.Session{}, err
		}
	}

	session, err := domain.StartSession(input, s.clock, s.idGenerator)
	if err != nil {
		return domain.Session{}, err
	}
	round := domain.NewRound(session.ID, session.CurrentTaskID, s.clock)

	if err := s.stores.Session.PutSession(ctx, session, round); err != nil {
		if errors.Is(err, storage.ErrActiveSessionExists) {
			return domain.Session{}, apperrors.WithMetadata(apperrors.CodeActiveSessionExists,
				"project already has an active session",
				map[string]string{"project_id": input.ProjectID})
		}
		return domain.Session{}, apperrors.Wrap(apperrors.CodeUnknown, "persist session", err)
	}

	log.Printf("poker: session started session_id=%s project_id=%s tasks=%d",
		session.ID, session.ProjectID, len(session.TaskQueue))
	s.publish(session.ID, domain.EventTypeSessionStarted, SessionStartedPayload{
		SessionID:     session.ID,
		ProjectID:     session.ProjectID,
		TaskQueue:     session.TaskQueue,
		CurrentTaskID: session.CurrentTaskID,
	})
	return session, nil
}

// EndSession transitions the session to ENDED, drops its subscribers, and
// leaves recorded estimates intact. Ending an already-ended session succeeds
// without emitting another event.
func (s *Service) EndSession(ctx context.Context, sessionID, actorID string) (domain.Session, error) {
	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.authorizer.CanModerate(ctx, actorID, session.ProjectID); err != nil {
		return domain.Session{}, err
	}

	ended, changed := session.End(s.clock)
	if !changed {
		return ended, nil
	}

	if err := s.stores.Session.EndSession(ctx, ended); err != nil {
		return domain.Session{}, apperrors.Wrap(apperrors.CodeUnknown, "persist session end", err)
	}

	log.Printf("poker: session ended session_id=%s project_id=%s", ended.ID, ended.ProjectID)
	s.publish(sessionID, domain.EventTypeSessionEnded, SessionEndedPayload{
		SessionID: ended.ID,
		EndedAt:   millis(*ended.EndedAt),
	})
	if s.events != nil {
		s.events.CloseSession(sessionID)
	}
	return ended, nil
}

// ActiveSession returns the project's single active session, or a not-found
// error when no session is running.
func (s *Service) ActiveSession(ctx context.Context, projectID string) (domain.Session, error) {
	session, err := s.stores.Session.GetActiveSession(ctx, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.WithMetadata(apperrors.CodeSessionNotFound,
				"no active session for project",
				map[string]string{"project_id": projectID})
		}
		return domain.Session{}, apperrors.Wrap(apperrors.CodeUnknown, "load active session", err)
	}
	return session, nil
}

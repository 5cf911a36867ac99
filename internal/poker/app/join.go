package app

import (
	"context"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/broadcast"
)

// Join reads the session's catch-up snapshot and registers the subscriber in
// one step under the session's mutation lock. Mutations serialize on the same
// lock, so a concurrent transition is either already visible in the snapshot
// or delivered as an event after it — never lost in between.
//
// snapshotFor adapts the snapshot to the subscriber's delivery format; it is
// sent before any event reaches the subscriber.
func (s *Service) Join(ctx context.Context, sessionID string, sub broadcast.Subscriber, snapshotFor func(SessionSnapshot) broadcast.Snapshot) error {
	if sub == nil {
		return apperrors.New(apperrors.CodeUnknown, "subscriber is required")
	}
	if snapshotFor == nil {
		return apperrors.New(apperrors.CodeUnknown, "snapshot adapter is required")
	}
	if s.events == nil {
		return apperrors.New(apperrors.CodeUnknown, "broadcaster is not configured")
	}

	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	snapshot, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.events.Subscribe(sessionID, sub, snapshotFor(snapshot)); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "subscribe to session", err)
	}
	return nil
}

// Leave removes a subscriber registered through Join. Unknown subscribers are
// ignored.
func (s *Service) Leave(sessionID string, sub broadcast.Subscriber) {
	if s.events == nil || sub == nil {
		return
	}
	s.events.Unsubscribe(sessionID, sub)
}

// Package broadcast fans session events out to in-process subscribers.
//
// The registry is volatile: subscriptions live only as long as the process,
// and clients recover missed events through the snapshot they receive on
// subscribe.
package broadcast

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

// Subscriber receives session events. Send must not block indefinitely; a
// Send error causes the subscriber to be evicted from the session.
type Subscriber interface {
	Send(event domain.Event) error
	Close() error
}

// Snapshot is the catch-up state delivered to a subscriber when it joins.
type Snapshot interface {
	SendTo(sub Subscriber) error
}

// Registry tracks subscribers per session and delivers events in publish
// order. It has no package-level state; callers construct one and inject it.
//
// Session entries exist only while they have subscribers: the last
// unsubscribe, an eviction, or CloseSession removes the entry, so the map
// stays bounded by live connections. Sequence numbers restart when an entry
// is recreated; each subscriber's own stream is always increasing because it
// outlives at most one entry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu          sync.Mutex
	nextSeq     int64
	subscribers map[Subscriber]struct{}
	// removed marks an entry dropped from the registry map while another
	// goroutine still holds a reference to it.
	removed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

func (r *Registry) entry(sessionID string) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[sessionID]
	if ok {
		return entry
	}
	entry = &sessionEntry{subscribers: make(map[Subscriber]struct{})}
	r.sessions[sessionID] = entry
	return entry
}

// dropIfEmpty removes the entry from the registry when it has no subscribers
// left. The registry lock is taken before the entry lock everywhere, so the
// recheck under both locks is race-free.
func (r *Registry) dropIfEmpty(sessionID string, entry *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] != entry {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if len(entry.subscribers) == 0 {
		entry.removed = true
		delete(r.sessions, sessionID)
	}
}

// Subscribe registers sub for the session and synchronously delivers the
// catch-up snapshot before any later event. Events published while the
// snapshot is being sent wait on the session lock, so the subscriber never
// sees an event older than its snapshot.
func (r *Registry) Subscribe(sessionID string, sub Subscriber, snapshot Snapshot) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if sub == nil {
		return fmt.Errorf("subscriber is required")
	}

	for {
		entry := r.entry(sessionID)
		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			continue
		}
		if snapshot != nil {
			if err := snapshot.SendTo(sub); err != nil {
				entry.mu.Unlock()
				r.dropIfEmpty(sessionID, entry)
				return fmt.Errorf("send snapshot: %w", err)
			}
		}
		entry.subscribers[sub] = struct{}{}
		entry.mu.Unlock()
		return nil
	}
}

// Unsubscribe removes sub from the session. Unknown subscribers are ignored.
func (r *Registry) Unsubscribe(sessionID string, sub Subscriber) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	delete(entry.subscribers, sub)
	empty := len(entry.subscribers) == 0
	entry.mu.Unlock()

	if empty {
		r.dropIfEmpty(sessionID, entry)
	}
}

// Publish stamps the event with the next session sequence number and delivers
// it to every subscriber. Delivery happens under the session lock, so two
// publishes for the same session reach each subscriber in publish order. A
// subscriber whose Send fails is evicted and closed. Events for sessions
// without subscribers are dropped.
func (r *Registry) Publish(sessionID string, event domain.Event) {
	if !event.Type.IsValid() {
		log.Printf("poker: dropping event with unknown type %q for session %s", event.Type, sessionID)
		return
	}

	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.removed {
		entry.mu.Unlock()
		return
	}

	entry.nextSeq++
	event.SessionID = sessionID
	event.Seq = entry.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for sub := range entry.subscribers {
		if err := sub.Send(event); err != nil {
			log.Printf("poker: evicting subscriber from session %s: %v", sessionID, err)
			delete(entry.subscribers, sub)
			_ = sub.Close()
		}
	}
	empty := len(entry.subscribers) == 0
	entry.mu.Unlock()

	if empty {
		r.dropIfEmpty(sessionID, entry)
	}
}

// CloseSession drops all subscribers for the session, closes them, and
// removes the session's entry. A later subscribe starts the session's
// delivery state fresh.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.removed = true
	subscribers := entry.subscribers
	entry.subscribers = make(map[Subscriber]struct{})
	entry.mu.Unlock()

	for sub := range subscribers {
		_ = sub.Close()
	}
}

// SubscriberCount reports how many subscribers the session currently has.
func (r *Registry) SubscriberCount(sessionID string) int {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.subscribers)
}

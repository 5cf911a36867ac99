package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"google.golang.org/grpc/codes"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/app"
	"github.com/louisbranch/pointing.space/internal/poker/broadcast"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type wsJoinPayload struct {
	SessionID string `json:"session_id"`
}

type wsJoinedPayload struct {
	SessionID  string `json:"session_id"`
	ServerTime string `json:"server_time"`
}

type wsSnapshotPayload struct {
	Session sessionView        `json:"session"`
	Tasks   []taskSnapshotView `json:"tasks"`
}

type taskSnapshotView struct {
	TaskID        string         `json:"task_id"`
	Phase         string         `json:"phase"`
	VoteCount     int            `json:"vote_count"`
	Votes         []app.VotePair `json:"votes,omitempty"`
	FinalEstimate *int           `json:"final_estimate,omitempty"`
}

type wsEventPayload struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// wsPeer serializes frame writes to a single websocket connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsSubscriber adapts a websocket peer to the broadcast subscriber surface.
// A failed write evicts the subscriber and tears down the connection, which
// unblocks the read loop.
type wsSubscriber struct {
	peer *wsPeer
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(event domain.Event) error {
	return s.peer.writeFrame(wsFrame{
		Type: "poker.event",
		Payload: mustJSON(wsEventPayload{
			SessionID: event.SessionID,
			Seq:       event.Seq,
			Event:     string(event.Type),
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Data:      event.PayloadJSON,
		}),
	})
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

// wsSnapshot delivers the join ack and the catch-up state to the joining peer
// before the registry starts forwarding live events to it. Writing the ack
// here keeps it off the failure paths: a rejected join produces an error
// frame and nothing else.
type wsSnapshot struct {
	peer      *wsPeer
	sessionID string
	requestID string
	payload   wsSnapshotPayload
}

func (s wsSnapshot) SendTo(broadcast.Subscriber) error {
	if err := s.peer.writeFrame(wsFrame{
		Type:      "poker.joined",
		RequestID: s.requestID,
		Payload: mustJSON(wsJoinedPayload{
			SessionID:  s.sessionID,
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		}),
	}); err != nil {
		return err
	}
	return s.peer.writeFrame(wsFrame{
		Type:    "poker.snapshot",
		Payload: mustJSON(s.payload),
	})
}

type wsUserIDContextKey struct{}

func withWSUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, wsUserIDContextKey{}, userID)
}

func handleWSConn(conn *websocket.Conn, service *app.Service) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	userID := "participant"
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok && strings.TrimSpace(resolved) != "" {
			userID = strings.TrimSpace(resolved)
		}
	}

	subscriber := &wsSubscriber{peer: peer, conn: conn}
	var joinedSessionID string
	defer func() {
		if joinedSessionID != "" {
			service.Leave(joinedSessionID, subscriber)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", apperrors.New(apperrors.CodeUnknown, "invalid frame payload"), "INVALID_ARGUMENT")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, apperrors.New(apperrors.CodeUnknown, "payload too large"), "INVALID_ARGUMENT")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, apperrors.New(apperrors.CodeUnknown, "rate limit exceeded"), "RESOURCE_EXHAUSTED")
			return
		}

		switch frame.Type {
		case "poker.join":
			joinedSessionID = handleJoinFrame(conn.Request().Context(), peer, subscriber, service, frame, userID, joinedSessionID)
		default:
			_ = writeWSError(peer, frame.RequestID, apperrors.New(apperrors.CodeUnknown, "unsupported frame type"), "INVALID_ARGUMENT")
		}
	}
}

// handleJoinFrame subscribes the peer to a session and returns the session id
// it is now joined to (the previous one when the join fails).
func handleJoinFrame(ctx context.Context, peer *wsPeer, subscriber *wsSubscriber, service *app.Service, frame wsFrame, userID, previousSessionID string) string {
	var payload wsJoinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, apperrors.New(apperrors.CodeUnknown, "invalid join payload"), "INVALID_ARGUMENT")
		return previousSessionID
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		_ = writeWSError(peer, frame.RequestID, apperrors.New(apperrors.CodeUnknown, "session_id is required"), "INVALID_ARGUMENT")
		return previousSessionID
	}

	// Join reads the snapshot and registers the subscriber under the session's
	// mutation lock, so a transition racing the join lands in the snapshot or
	// in the event stream, never in neither.
	err := service.Join(ctx, sessionID, subscriber, func(snapshot app.SessionSnapshot) broadcast.Snapshot {
		return wsSnapshot{
			peer:      peer,
			sessionID: sessionID,
			requestID: frame.RequestID,
			payload:   toSnapshotPayload(snapshot),
		}
	})
	if err != nil {
		log.Printf("poker: join failed user=%q session=%q: %v", userID, sessionID, err)
		_ = writeWSError(peer, frame.RequestID, err, "")
		return previousSessionID
	}

	if previousSessionID != "" && previousSessionID != sessionID {
		service.Leave(previousSessionID, subscriber)
	}
	return sessionID
}

func toSnapshotPayload(snapshot app.SessionSnapshot) wsSnapshotPayload {
	payload := wsSnapshotPayload{Session: toSessionView(snapshot.Session)}
	for _, task := range snapshot.Tasks {
		view := taskSnapshotView{
			TaskID:    task.TaskID,
			Phase:     task.Phase.String(),
			VoteCount: task.VoteCount,
			Votes:     task.Votes,
		}
		if task.FinalEstimate != nil {
			estimate := int(*task.FinalEstimate)
			view.FinalEstimate = &estimate
		}
		payload.Tasks = append(payload.Tasks, view)
	}
	return payload
}

// writeWSError sends a poker.error frame. When codeOverride is empty the code
// is derived from the error's domain code.
func writeWSError(peer *wsPeer, requestID string, err error, codeOverride string) error {
	code := codeOverride
	if code == "" {
		code = wireCode(apperrors.CodeOf(err).GRPCCode())
	}
	body := wsError{
		Code:    code,
		Message: err.Error(),
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Details = appErr.Metadata
	}
	return peer.writeFrame(wsFrame{
		Type:      "poker.error",
		RequestID: requestID,
		Payload:   mustJSON(wsErrorEnvelope{Error: body}),
	})
}

func wireCode(code codes.Code) string {
	switch code {
	case codes.InvalidArgument:
		return "INVALID_ARGUMENT"
	case codes.FailedPrecondition:
		return "FAILED_PRECONDITION"
	case codes.NotFound:
		return "NOT_FOUND"
	case codes.PermissionDenied:
		return "FORBIDDEN"
	case codes.Unauthenticated:
		return "UNAUTHENTICATED"
	default:
		return "INTERNAL"
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("poker: marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

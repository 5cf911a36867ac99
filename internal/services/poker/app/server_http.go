package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"
	"google.golang.org/grpc/codes"

	"github.com/louisbranch/pointing.space/internal/auth"
	apperrors "github.com/louisbranch/pointing.space/internal/errors"
	"github.com/louisbranch/pointing.space/internal/poker/app"
	"github.com/louisbranch/pointing.space/internal/poker/domain"
)

type startSessionRequest struct {
	ProjectID string   `json:"project_id"`
	TaskIDs   []string `json:"task_ids"`
}

type castVoteRequest struct {
	TaskID string `json:"task_id"`
	Value  string `json:"value"`
}

type castVoteResponse struct {
	VoteCount int `json:"vote_count"`
}

type revealRequest struct {
	TaskID string `json:"task_id"`
}

type finalizeRequest struct {
	TaskID   string `json:"task_id"`
	Estimate *int   `json:"estimate,omitempty"`
}

type finalizeResponse struct {
	Session  sessionView `json:"session"`
	TaskID   string      `json:"task_id"`
	Estimate int         `json:"estimate"`
}

type sessionView struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	Status        string   `json:"status"`
	TaskQueue     []string `json:"task_queue"`
	CurrentTaskID string   `json:"current_task_id"`
	CreatedAt     int64    `json:"created_at"`
	EndedAt       *int64   `json:"ended_at,omitempty"`
}

type votesView struct {
	TaskID    string         `json:"task_id"`
	Phase     string         `json:"phase"`
	VoteCount int            `json:"vote_count"`
	Votes     []app.VotePair `json:"votes,omitempty"`
	Stats     *statsView     `json:"stats,omitempty"`
}

type statsView struct {
	VoterCount  int     `json:"voter_count"`
	UnsureCount int     `json:"unsure_count"`
	Mode        int     `json:"mode,omitempty"`
	Average     float64 `json:"average,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func newHandler(service *app.Service, verifier *auth.VerifierConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFromRequest(r, verifier)
		if err != nil {
			writeError(w, err)
			return
		}
		var req startSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		session, err := service.StartSession(r.Context(), app.StartSessionRequest{
			ProjectID: req.ProjectID,
			TaskIDs:   req.TaskIDs,
			ActorID:   userID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSessionView(session))
	})

	mux.HandleFunc("POST /v1/sessions/{sessionID}/votes", func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFromRequest(r, verifier)
		if err != nil {
			writeError(w, err)
			return
		}
		var req castVoteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		count, err := service.CastVote(r.Context(), r.PathValue("sessionID"), req.TaskID, userID, req.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, castVoteResponse{VoteCount: count})
	})

	mux.HandleFunc("POST /v1/sessions/{sessionID}/reveal", func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFromRequest(r, verifier)
		if err != nil {
			writeError(w, err)
			return
		}
		var req revealRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		_, votes, err := service.Reveal(r.Context(), r.PathValue("sessionID"), req.TaskID, userID)
		if err != nil {
			writeError(w, err)
			return
		}
		stats := domain.ComputeVoteStats(votes)
		writeJSON(w, http.StatusOK, votesView{
			TaskID:    req.TaskID,
			Phase:     domain.RoundPhaseRevealed.String(),
			VoteCount: stats.VoterCount,
			Votes:     toVotePairs(votes),
			Stats:     toStatsView(stats),
		})
	})

	mux.HandleFunc("POST /v1/sessions/{sessionID}/finalize", func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFromRequest(r, verifier)
		if err != nil {
			writeError(w, err)
			return
		}
		var req finalizeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		session, round, err := service.Finalize(r.Context(), app.FinalizeRequest{
			SessionID: r.PathValue("sessionID"),
			TaskID:    req.TaskID,
			ActorID:   userID,
			Estimate:  req.Estimate,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, finalizeResponse{
			Session:  toSessionView(session),
			TaskID:   round.TaskID,
			Estimate: int(*round.FinalEstimate),
		})
	})

	mux.HandleFunc("POST /v1/sessions/{sessionID}/end", func(w http.ResponseWriter, r *http.Request) {
		userID, err := userFromRequest(r, verifier)
		if err != nil {
			writeError(w, err)
			return
		}
		session, err := service.EndSession(r.Context(), r.PathValue("sessionID"), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionView(session))
	})

	mux.HandleFunc("GET /v1/projects/{projectID}/active-session", func(w http.ResponseWriter, r *http.Request) {
		session, err := service.ActiveSession(r.Context(), r.PathValue("projectID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionView(session))
	})

	mux.HandleFunc("GET /v1/sessions/{sessionID}/votes", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
		if taskID == "" {
			writeError(w, apperrors.New(apperrors.CodeTaskNotFound, "task_id query parameter is required"))
			return
		}
		view, err := service.Votes(r.Context(), r.PathValue("sessionID"), taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := votesView{
			TaskID:    view.TaskID,
			Phase:     view.Phase.String(),
			VoteCount: view.VoteCount,
			Votes:     view.Votes,
		}
		if view.Stats != nil {
			out.Stats = toStatsView(*view.Stats)
		}
		writeJSON(w, http.StatusOK, out)
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, service)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, err := userFromRequest(r, verifier)
		if err != nil {
			log.Printf("poker: websocket unauthorized for remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(withWSUserID(r.Context(), userID))
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// userFromRequest resolves the caller's identity. With a verifier configured
// the bearer token (header or cookie) is mandatory; without one the X-User-Id
// header is trusted.
func userFromRequest(r *http.Request, verifier *auth.VerifierConfig) (string, error) {
	if verifier == nil {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			return "", apperrors.New(apperrors.CodeAuthTokenInvalid, "caller identity is required")
		}
		return userID, nil
	}

	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(tokenCookieName); err == nil {
			token = strings.TrimSpace(cookie.Value)
		}
	}
	claims, err := auth.VerifyToken(token, *verifier)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeVoteInvalidPoint, "invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("poker: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := httpStatus(code.GRPCCode())
	body := errorBody{
		Code:    string(code),
		Message: err.Error(),
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body.Details = appErr.Metadata
	}
	if status >= http.StatusInternalServerError {
		log.Printf("poker: request failed: %v", err)
		body.Message = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func toSessionView(session domain.Session) sessionView {
	view := sessionView{
		ID:            session.ID,
		ProjectID:     session.ProjectID,
		Status:        session.Status.String(),
		TaskQueue:     session.TaskQueue,
		CurrentTaskID: session.CurrentTaskID,
		CreatedAt:     session.CreatedAt.UnixMilli(),
	}
	if session.EndedAt != nil {
		endedAt := session.EndedAt.UnixMilli()
		view.EndedAt = &endedAt
	}
	return view
}

func toVotePairs(votes []domain.Vote) []app.VotePair {
	pairs := make([]app.VotePair, 0, len(votes))
	for _, vote := range votes {
		pairs = append(pairs, app.VotePair{
			ParticipantID: vote.ParticipantID,
			Value:         vote.Value.String(),
		})
	}
	return pairs
}

func toStatsView(stats domain.VoteStats) *statsView {
	return &statsView{
		VoterCount:  stats.VoterCount,
		UnsureCount: stats.UnsureCount,
		Mode:        int(stats.Mode),
		Average:     stats.Average,
	}
}

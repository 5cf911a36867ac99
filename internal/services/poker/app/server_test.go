package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/pointing.space/internal/auth"
	"github.com/louisbranch/pointing.space/internal/poker/app"
	"github.com/louisbranch/pointing.space/internal/poker/broadcast"
	"github.com/louisbranch/pointing.space/internal/poker/storage/sqlite"
)

type testEnv struct {
	handler http.Handler
	store   *sqlite.Store
}

func newTestEnv(t *testing.T, verifier *auth.VerifierConfig) testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "poker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	service := app.NewService(app.Stores{
		Session: store,
		Vote:    store,
		Tasks:   store,
	}, broadcast.NewRegistry(), auth.AllowAll{})

	return testEnv{
		handler: newHandler(service, verifier),
		store:   store,
	}
}

func (env testEnv) seedTasks(t *testing.T, projectID string, taskIDs ...string) {
	t.Helper()
	for _, taskID := range taskIDs {
		if err := env.store.PutTask(context.Background(), projectID, taskID, "Task "+taskID); err != nil {
			t.Fatalf("seed task %s: %v", taskID, err)
		}
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(recorder.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func startSessionHTTP(t *testing.T, env testEnv, taskIDs ...string) sessionView {
	t.Helper()
	env.seedTasks(t, "p1", taskIDs...)
	recorder := doJSON(t, env.handler, http.MethodPost, "/v1/sessions", "mod", startSessionRequest{
		ProjectID: "p1",
		TaskIDs:   taskIDs,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("start session status %d: %s", recorder.Code, recorder.Body.String())
	}
	return decodeBody[sessionView](t, recorder)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	recorder := doJSON(t, env.handler, http.MethodGet, "/up", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestStartSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	session := startSessionHTTP(t, env, "t1", "t2")

	if session.Status != "ACTIVE" {
		t.Fatalf("expected ACTIVE, got %q", session.Status)
	}
	if session.CurrentTaskID != "t1" {
		t.Fatalf("expected current task t1, got %q", session.CurrentTaskID)
	}
	if len(session.TaskQueue) != 2 {
		t.Fatalf("expected 2 queued tasks, got %v", session.TaskQueue)
	}
}

func TestStartSessionRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	recorder := doJSON(t, env.handler, http.MethodPost, "/v1/sessions", "", startSessionRequest{
		ProjectID: "p1",
		TaskIDs:   []string{"t1"},
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestStartSessionConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	startSessionHTTP(t, env, "t1")

	recorder := doJSON(t, env.handler, http.MethodPost, "/v1/sessions", "mod", startSessionRequest{
		ProjectID: "p1",
		TaskIDs:   []string{"t1"},
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", recorder.Code, recorder.Body.String())
	}
	envelope := decodeBody[errorEnvelope](t, recorder)
	if envelope.Error.Code != "ACTIVE_SESSION_EXISTS" {
		t.Fatalf("expected ACTIVE_SESSION_EXISTS, got %q", envelope.Error.Code)
	}
}

func TestStartSessionEmptyQueueRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	recorder := doJSON(t, env.handler, http.MethodPost, "/v1/sessions", "mod", startSessionRequest{
		ProjectID: "p1",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestVoteRevealFinalizeFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	session := startSessionHTTP(t, env, "t1", "t2")
	base := "/v1/sessions/" + session.ID

	recorder := doJSON(t, env.handler, http.MethodPost, base+"/votes", "u1", castVoteRequest{TaskID: "t1", Value: "5"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("cast vote status %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := decodeBody[castVoteResponse](t, recorder).VoteCount; got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}

	recorder = doJSON(t, env.handler, http.MethodPost, base+"/votes", "u2", castVoteRequest{TaskID: "t1", Value: "8"})
	if got := decodeBody[castVoteResponse](t, recorder).VoteCount; got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}

	// Votes stay hidden while collecting.
	recorder = doJSON(t, env.handler, http.MethodGet, base+"/votes?task_id=t1", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get votes status %d", recorder.Code)
	}
	hidden := decodeBody[votesView](t, recorder)
	if hidden.Phase != "COLLECTING" || hidden.VoteCount != 2 || hidden.Votes != nil {
		t.Fatalf("expected count-only view, got %+v", hidden)
	}

	recorder = doJSON(t, env.handler, http.MethodPost, base+"/reveal", "mod", revealRequest{TaskID: "t1"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("reveal status %d: %s", recorder.Code, recorder.Body.String())
	}
	revealed := decodeBody[votesView](t, recorder)
	if len(revealed.Votes) != 2 {
		t.Fatalf("expected 2 revealed votes, got %+v", revealed)
	}
	if revealed.Stats == nil || revealed.Stats.Average != 6.5 {
		t.Fatalf("expected average 6.5, got %+v", revealed.Stats)
	}

	estimate := 8
	recorder = doJSON(t, env.handler, http.MethodPost, base+"/finalize", "mod", finalizeRequest{TaskID: "t1", Estimate: &estimate})
	if recorder.Code != http.StatusOK {
		t.Fatalf("finalize status %d: %s", recorder.Code, recorder.Body.String())
	}
	finalized := decodeBody[finalizeResponse](t, recorder)
	if finalized.Estimate != 8 {
		t.Fatalf("expected estimate 8, got %d", finalized.Estimate)
	}
	if finalized.Session.CurrentTaskID != "t2" {
		t.Fatalf("expected advance to t2, got %q", finalized.Session.CurrentTaskID)
	}
}

func TestFinalizeRejectsNonFibonacci(t *testing.T) {
	env := newTestEnv(t, nil)
	session := startSessionHTTP(t, env, "t1")
	base := "/v1/sessions/" + session.ID

	if recorder := doJSON(t, env.handler, http.MethodPost, base+"/reveal", "mod", revealRequest{TaskID: "t1"}); recorder.Code != http.StatusOK {
		t.Fatalf("reveal status %d", recorder.Code)
	}

	estimate := 4
	recorder := doJSON(t, env.handler, http.MethodPost, base+"/finalize", "mod", finalizeRequest{TaskID: "t1", Estimate: &estimate})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestEndSessionIdempotentHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	session := startSessionHTTP(t, env, "t1")
	base := "/v1/sessions/" + session.ID

	recorder := doJSON(t, env.handler, http.MethodPost, base+"/end", "mod", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("end status %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder = doJSON(t, env.handler, http.MethodPost, base+"/end", "mod", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("second end status %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := decodeBody[sessionView](t, recorder).Status; got != "ENDED" {
		t.Fatalf("expected ENDED, got %q", got)
	}
}

func TestActiveSessionEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	session := startSessionHTTP(t, env, "t1")

	recorder := doJSON(t, env.handler, http.MethodGet, "/v1/projects/p1/active-session", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("active session status %d", recorder.Code)
	}
	if got := decodeBody[sessionView](t, recorder).ID; got != session.ID {
		t.Fatalf("expected session %s, got %s", session.ID, got)
	}

	recorder = doJSON(t, env.handler, http.MethodGet, "/v1/projects/p2/active-session", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestVotesEndpointRequiresTaskID(t *testing.T) {
	env := newTestEnv(t, nil)
	session := startSessionHTTP(t, env, "t1")

	recorder := doJSON(t, env.handler, http.MethodGet, "/v1/sessions/"+session.ID+"/votes", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task_id, got %d", recorder.Code)
	}
}

func TestBearerTokenAuthentication(t *testing.T) {
	verifier := &auth.VerifierConfig{
		Secret: []byte("transport-secret"),
		Issuer: "pointing.space",
	}
	env := newTestEnv(t, verifier)
	env.seedTasks(t, "p1", "t1")

	token := signTestToken(t, verifier, "mod", time.Now().Add(time.Hour))

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(startSessionRequest{ProjectID: "p1", TaskIDs: []string{"t1"}}); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201 with valid token, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// X-User-Id is ignored once token verification is on.
	recorder = doJSON(t, env.handler, http.MethodPost, "/v1/sessions", "mod", startSessionRequest{
		ProjectID: "p1",
		TaskIDs:   []string{"t1"},
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
}

func signTestToken(t *testing.T, verifier *auth.VerifierConfig, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":     verifier.Issuer,
		"user_id": userID,
		"exp":     jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(verifier.Secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewServerValidatesConfig(t *testing.T) {
	if _, err := NewServer(Config{DBPath: "x.db"}); err == nil {
		t.Fatal("expected error for missing http address")
	}
	if _, err := NewServer(Config{HTTPAddr: ":0"}); err == nil {
		t.Fatal("expected error for missing db path")
	}
}

func TestServerRunServesAndShutsDown(t *testing.T) {
	dir := t.TempDir()
	server, err := NewServer(Config{
		HTTPAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(dir, "poker.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.ListenAndServe(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

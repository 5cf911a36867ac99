package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/pointing.space/internal/poker/domain"
	"github.com/louisbranch/pointing.space/internal/poker/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "poker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSession(id, projectID string, taskIDs ...string) (domain.Session, domain.Round) {
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := domain.Session{
		ID:            id,
		ProjectID:     projectID,
		Status:        domain.SessionStatusActive,
		TaskQueue:     taskIDs,
		CurrentTaskID: taskIDs[0],
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	round := domain.NewRound(id, taskIDs[0], func() time.Time { return createdAt })
	return session, round
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutAndGetSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1", "t2")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ProjectID != "p1" || got.CurrentTaskID != "t1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.TaskQueue) != 2 || got.TaskQueue[0] != "t1" || got.TaskQueue[1] != "t2" {
		t.Fatalf("unexpected task queue: %v", got.TaskQueue)
	}
	if got.Status != domain.SessionStatusActive {
		t.Fatalf("expected active status, got %v", got.Status)
	}

	active, err := store.GetActiveSession(ctx, "p1")
	if err != nil {
		t.Fatalf("get active session: %v", err)
	}
	if active.ID != "s1" {
		t.Fatalf("expected s1 active, got %q", active.ID)
	}

	gotRound, err := store.GetRound(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if gotRound.Phase != domain.RoundPhaseCollecting {
		t.Fatalf("expected collecting round, got %v", gotRound.Phase)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = store.GetActiveSession(context.Background(), "p-none")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for active lookup, got %v", err)
	}
}

func TestPutSessionEnforcesSingleActive(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, firstRound := testSession("s1", "p1", "t1")
	if err := store.PutSession(ctx, first, firstRound); err != nil {
		t.Fatalf("put first session: %v", err)
	}

	second, secondRound := testSession("s2", "p1", "t9")
	err := store.PutSession(ctx, second, secondRound)
	if !errors.Is(err, storage.ErrActiveSessionExists) {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}

	// A different project is unaffected.
	other, otherRound := testSession("s3", "p2", "t1")
	if err := store.PutSession(ctx, other, otherRound); err != nil {
		t.Fatalf("put session for other project: %v", err)
	}
}

func TestUpdateRoundTransitions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	revealed, err := round.Reveal(nil)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := store.UpdateRound(ctx, revealed); err != nil {
		t.Fatalf("update round: %v", err)
	}

	got, err := store.GetRound(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.Phase != domain.RoundPhaseRevealed {
		t.Fatalf("expected revealed phase, got %v", got.Phase)
	}
	if got.RevealedAt == nil {
		t.Fatal("expected revealed timestamp to persist")
	}
}

func TestUpdateRoundMissing(t *testing.T) {
	store := openTestStore(t)
	err := store.UpdateRound(context.Background(), domain.Round{
		SessionID: "s1", TaskID: "t1", Phase: domain.RoundPhaseRevealed,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceSessionOpensNextRound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1", "t2")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	revealed, err := round.Reveal(nil)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	finalized, err := revealed.Finalize(8, nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	session.CurrentTaskID = "t2"
	session.UpdatedAt = time.Now().UTC()
	next := domain.NewRound("s1", "t2", nil)
	if err := store.AdvanceSession(ctx, session, finalized, &next); err != nil {
		t.Fatalf("advance session: %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.CurrentTaskID != "t2" {
		t.Fatalf("expected current task t2, got %q", got.CurrentTaskID)
	}

	rounds, err := store.ListRounds(ctx, "s1")
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(rounds))
	}
	if rounds[0].Phase != domain.RoundPhaseFinalized || rounds[0].FinalEstimate == nil || *rounds[0].FinalEstimate != 8 {
		t.Fatalf("unexpected finalized round: %+v", rounds[0])
	}
	if rounds[1].TaskID != "t2" || rounds[1].Phase != domain.RoundPhaseCollecting {
		t.Fatalf("unexpected next round: %+v", rounds[1])
	}
}

func TestAdvanceSessionQueueExhausted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	revealed, _ := round.Reveal(nil)
	finalized, err := revealed.Finalize(5, nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	ended, _ := session.End(nil)
	if err := store.AdvanceSession(ctx, ended, finalized, nil); err != nil {
		t.Fatalf("advance session: %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.CurrentTaskID != "" {
		t.Fatalf("expected empty current task, got %q", got.CurrentTaskID)
	}
	if got.Status != domain.SessionStatusEnded {
		t.Fatalf("expected ended status, got %v", got.Status)
	}
	if got.EndedAt == nil {
		t.Fatal("expected ended timestamp to persist")
	}

	// The exhausted session no longer blocks a new one.
	if _, err := store.GetActiveSession(ctx, "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestEndSessionAllowsNewStart(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	ended, _ := session.End(nil)
	if err := store.EndSession(ctx, ended); err != nil {
		t.Fatalf("end session: %v", err)
	}

	if _, err := store.GetActiveSession(ctx, "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no active session, got %v", err)
	}

	// Ending released the active slot for the project.
	next, nextRound := testSession("s2", "p1", "t2")
	if err := store.PutSession(ctx, next, nextRound); err != nil {
		t.Fatalf("put next session: %v", err)
	}
}

func TestVoteUpsertOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	cast := func(participantID, value string, at time.Time) {
		t.Helper()
		parsed, err := domain.ParseVoteValue(value)
		if err != nil {
			t.Fatalf("parse vote value: %v", err)
		}
		vote := domain.Vote{
			SessionID: "s1", TaskID: "t1", ParticipantID: participantID,
			Value: parsed, UpdatedAt: at,
		}
		if err := store.UpsertVote(ctx, vote); err != nil {
			t.Fatalf("upsert vote: %v", err)
		}
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cast("u1", "5", base)
	cast("u2", "?", base.Add(time.Second))
	cast("u1", "8", base.Add(2*time.Second))

	count, err := store.CountVotes(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 distinct voters, got %d", count)
	}

	votes, err := store.ListVotes(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("list votes: %v", err)
	}
	if len(votes) != 2 {
		t.Fatalf("expected 2 votes, got %d", len(votes))
	}
	if votes[0].ParticipantID != "u1" || votes[0].Value.String() != "8" {
		t.Fatalf("expected overwritten u1 vote of 8, got %+v", votes[0])
	}
	if votes[1].ParticipantID != "u2" || !votes[1].Value.Unsure {
		t.Fatalf("expected unsure u2 vote, got %+v", votes[1])
	}
}

func TestVoteUpsertIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session, round := testSession("s1", "p1", "t1")
	if err := store.PutSession(ctx, session, round); err != nil {
		t.Fatalf("put session: %v", err)
	}

	vote := domain.Vote{
		SessionID: "s1", TaskID: "t1", ParticipantID: "u1",
		Value: domain.PointVote(5), UpdatedAt: time.Now().UTC(),
	}
	if err := store.UpsertVote(ctx, vote); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertVote(ctx, vote); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	count, err := store.CountVotes(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1 after repeat upsert, got %d", count)
	}
}

func TestTaskCatalog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutTask(ctx, "p1", "t1", "Wire login flow"); err != nil {
		t.Fatalf("put task: %v", err)
	}
	if err := store.PutTask(ctx, "p1", "t2", "Paginate board"); err != nil {
		t.Fatalf("put task: %v", err)
	}

	if err := store.ValidateTasks(ctx, "p1", []string{"t1", "t2"}); err != nil {
		t.Fatalf("validate tasks: %v", err)
	}
	if err := store.ValidateTasks(ctx, "p1", []string{"t1", "t9"}); err == nil {
		t.Fatal("expected error for unknown task")
	}

	if err := store.SetFinalEstimate(ctx, "p1", "t1", 8); err != nil {
		t.Fatalf("set final estimate: %v", err)
	}
	points, ok, err := store.GetStoryPoints(ctx, "p1", "t1")
	if err != nil {
		t.Fatalf("get story points: %v", err)
	}
	if !ok || points != 8 {
		t.Fatalf("expected 8 points, got %d ok=%v", points, ok)
	}

	_, ok, err = store.GetStoryPoints(ctx, "p1", "t2")
	if err != nil {
		t.Fatalf("get story points for unestimated task: %v", err)
	}
	if ok {
		t.Fatal("expected no estimate for t2")
	}

	if err := store.SetFinalEstimate(ctx, "p1", "missing", 5); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing task, got %v", err)
	}
}

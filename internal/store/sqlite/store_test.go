package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"wildfire_crew/internal/domain"
)

func TestEpisodeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	episodeID := uuid.NewString()
	if err := store.CreateEpisode(ctx, domain.Episode{
		ID:    episodeID,
		Level: "Scout_Fire_small",
		Mode:  "central",
		Seed:  3,
	}); err != nil {
		t.Fatalf("create episode: %v", err)
	}

	ep, err := store.GetEpisode(ctx, episodeID)
	if err != nil {
		t.Fatalf("get episode: %v", err)
	}
	if ep.Status != domain.EpisodeStatusRunning {
		t.Fatalf("expected running status, got %s", ep.Status)
	}

	if err := store.UpdateEpisodeProgress(ctx, episodeID, 4, 1); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := store.FinishEpisode(ctx, episodeID, domain.EpisodeStatusDone, ""); err != nil {
		t.Fatalf("finish episode: %v", err)
	}
	ep, err = store.GetEpisode(ctx, episodeID)
	if err != nil {
		t.Fatalf("get finished episode: %v", err)
	}
	if ep.Status != domain.EpisodeStatusDone || ep.Steps != 4 || ep.Score != 1 {
		t.Fatalf("unexpected episode after finish: %+v", ep)
	}

	episodes, err := store.ListEpisodes(ctx, 10)
	if err != nil {
		t.Fatalf("list episodes: %v", err)
	}
	if len(episodes) != 1 || episodes[0].ID != episodeID {
		t.Fatalf("expected one listed episode, got %+v", episodes)
	}
}

func TestUnknownEpisode(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if _, err := store.GetEpisode(ctx, "missing"); !errors.Is(err, ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
	if err := store.FinishEpisode(ctx, "missing", domain.EpisodeStatusFailed, "boom"); !errors.Is(err, ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound on finish, got %v", err)
	}
}

func TestTelemetryUpsertsPerTimestep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	episodeID := createEpisode(t, store)
	for step := 0; step < 3; step++ {
		if err := store.AppendTelemetry(ctx, domain.TelemetryRow{
			EpisodeID:    episodeID,
			Timestep:     step,
			Score:        step,
			APICalls:     int64(step * 4),
			InputTokens:  int64(step * 100),
			OutputTokens: int64(step * 10),
		}); err != nil {
			t.Fatalf("append telemetry %d: %v", step, err)
		}
	}
	if err := store.AppendTelemetry(ctx, domain.TelemetryRow{EpisodeID: episodeID, Timestep: 2, Score: 9, APICalls: 12}); err != nil {
		t.Fatalf("replace telemetry: %v", err)
	}

	rows, err := store.ListTelemetry(ctx, episodeID)
	if err != nil {
		t.Fatalf("list telemetry: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Timestep != i {
			t.Fatalf("rows out of order: %+v", rows)
		}
	}
	if rows[2].Score != 9 || rows[2].APICalls != 12 {
		t.Fatalf("expected replaced row, got %+v", rows[2])
	}
}

func TestMessagesAndDecisions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	episodeID := createEpisode(t, store)
	msgs := []domain.Message{
		{ID: "m1", From: "AGENT_1", To: 2, Content: "cover the north line", Timestep: 1, CreatedAt: time.Now().UTC()},
		{ID: "m2", From: "AGENT_2", To: 1, Content: "ack", Timestep: 1},
	}
	if err := store.SaveMessages(ctx, episodeID, msgs); err != nil {
		t.Fatalf("save messages: %v", err)
	}
	if err := store.SaveMessages(ctx, episodeID, msgs[:1]); err != nil {
		t.Fatalf("save duplicate message: %v", err)
	}
	got, err := store.ListMessages(ctx, episodeID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].To != 2 && got[1].To != 2 {
		t.Fatalf("recipient not restored: %+v", got)
	}

	if err := store.LogDecision(ctx, domain.DecisionLog{
		EpisodeID: episodeID,
		Timestep:  1,
		Actor:     "consensus",
		Action:    "fallback",
		Reason:    "commit_last",
	}); err != nil {
		t.Fatalf("log decision: %v", err)
	}
	decisions, err := store.ListDecisions(ctx, episodeID, 10)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if string(decisions[0].Payload) != "{}" {
		t.Fatalf("expected empty payload default, got %q", decisions[0].Payload)
	}
}

func createEpisode(t *testing.T, store *Store) string {
	t.Helper()
	id := uuid.NewString()
	if err := store.CreateEpisode(context.Background(), domain.Episode{ID: id, Level: "Cut_Trees_Sparse_small", Mode: "leader"}); err != nil {
		t.Fatalf("create episode: %v", err)
	}
	return id
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}

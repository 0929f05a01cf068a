package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/loqalabs/loqa-stream/internal/session"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "transcripts.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendTranscript(context.Background(), Record{SessionID: "x", Text: "ignored"}); err != nil {
		t.Fatalf("ephemeral writes should be no-ops: %v", err)
	}
	if _, err := es.Session(context.Background(), "x"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows, got %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.StartSession(ctx, "session-123"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	deltas := []Record{
		{Text: "hello how are yo", Utterance: 1, Sequence: 2},
		{Text: "u", Utterance: 1, Sequence: 3, IsFinal: true},
		{Text: "fine thanks", Utterance: 2, Sequence: 4, IsFinal: true},
	}
	for _, d := range deltas {
		d.SessionID = "session-123"
		if err := es.AppendTranscript(ctx, d); err != nil {
			t.Fatalf("append transcript: %v", err)
		}
	}
	if err := es.EndSession(ctx, "session-123"); err != nil {
		t.Fatalf("end session: %v", err)
	}

	records, err := es.Transcripts(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(records) != 3 || !records[1].IsFinal || records[2].Sequence != 4 {
		t.Fatalf("unexpected records %+v", records)
	}
	utterances, err := es.Utterances(ctx, "session-123")
	if err != nil {
		t.Fatalf("utterances: %v", err)
	}
	if len(utterances) != 2 || utterances[0] != "hello how are you" || utterances[1] != "fine thanks" {
		t.Fatalf("unexpected utterances %q", utterances)
	}
	info, err := es.Session(ctx, "session-123")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if info.EndedAt.IsZero() {
		t.Fatal("expected end time to be recorded")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "old-session"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.AppendTranscript(ctx, Record{SessionID: "old-session", Text: "note"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "new-session"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := es.Transcripts(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected old session pruned")
	}
	if _, err := es.Session(ctx, "new-session"); err != nil {
		t.Fatalf("new session should survive prune: %v", err)
	}
}

func TestRecorderPersistsSessionEvents(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	rec := NewRecorder(es, 16)

	now := time.Now().UTC()
	rec.Publish(session.Event{SessionID: "s1", Kind: session.KindStarted, Sequence: 1, Timestamp: now})
	rec.Publish(session.Event{SessionID: "s1", Kind: session.KindTranscript, Text: "turn on", Utterance: 1, Sequence: 2, Timestamp: now})
	rec.Publish(session.Event{SessionID: "s1", Kind: session.KindTranscript, Text: " the lights", IsFinal: true, Utterance: 1, Sequence: 3, Timestamp: now})
	rec.Publish(session.Event{SessionID: "s1", Kind: session.KindEnded, Sequence: 4, Timestamp: now})
	rec.Close()

	utterances, err := es.Utterances(context.Background(), "s1")
	if err != nil {
		t.Fatalf("utterances: %v", err)
	}
	if len(utterances) != 1 || utterances[0] != "turn on the lights" {
		t.Fatalf("unexpected utterances %q", utterances)
	}
	info, err := es.Session(context.Background(), "s1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if info.EndedAt.IsZero() {
		t.Fatal("expected session end to be recorded")
	}
}

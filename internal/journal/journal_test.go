package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/connectors"
)

func openTestDB(t *testing.T) *Repo {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewRepo(db)
}

func TestOpenMigratesToLatestVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	_ = db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = db.Close() }()

	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestCommandsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	base := time.UnixMilli(1_700_000_000_000)

	results := []connectors.CommandResult{
		{Instrument: "RIGOLPS/0000", Parameter: "ch1_volt", Input: "5", Timestamp: base},
		{Instrument: "TG2511A/0000", Parameter: "frequency", Input: "x", Kind: "validation", Err: "not a number", Timestamp: base.Add(time.Second)},
		{Instrument: "RIGOLPS/0000", Parameter: "ch1_enable", Input: "on", Timestamp: base.Add(2 * time.Second)},
	}
	for _, res := range results {
		if err := repo.InsertCommand(ctx, res); err != nil {
			t.Fatalf("insert command: %v", err)
		}
	}

	got, err := repo.RecentCommands(ctx, "RIGOLPS/0000", 10)
	if err != nil {
		t.Fatalf("recent commands: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(got))
	}
	if got[0].Parameter != "ch1_enable" || !got[0].Timestamp.Equal(base.Add(2*time.Second)) {
		t.Fatalf("expected newest command first, got %+v", got[0])
	}

	all, err := repo.RecentCommands(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent commands: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(all))
	}
	if all[1].OK() || all[1].Kind != "validation" {
		t.Fatalf("expected failed validation entry, got %+v", all[1])
	}
}

func TestLastConnection(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	if _, ok, err := repo.LastConnection(ctx); err != nil || ok {
		t.Fatalf("expected no connection events, got ok=%v err=%v", ok, err)
	}

	for _, state := range []connectors.ConnectionState{connectors.ConnectionStateConnecting, connectors.ConnectionStateConnected} {
		err := repo.InsertConnection(ctx, connectors.ConnectionStatus{State: state, Backend: "mqtt", Target: "tcp://localhost:1883", Timestamp: time.Now()})
		if err != nil {
			t.Fatalf("insert connection: %v", err)
		}
	}

	last, ok, err := repo.LastConnection(ctx)
	if err != nil || !ok {
		t.Fatalf("expected last connection, got ok=%v err=%v", ok, err)
	}
	if last.State != connectors.ConnectionStateConnected || last.Target != "tcp://localhost:1883" {
		t.Fatalf("unexpected last connection: %+v", last)
	}
}

func TestClearRemovesEntries(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	if err := repo.InsertCommand(ctx, connectors.CommandResult{Instrument: "a", Parameter: "b", Input: "1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("insert command: %v", err)
	}
	if err := Clear(ctx, repo.db); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got, err := repo.RecentCommands(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent commands: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(got))
	}
	if err := Clear(ctx, nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestProjectionWritesBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := openTestDB(t)
	events := bus.New(logger)
	defer events.Close()

	queue := NewWriterQueue(logger, 8)
	queue.Start(ctx)
	StartProjection(ctx, events, queue, repo)

	events.Publish(connectors.TopicCommandResult, connectors.CommandResult{Instrument: "shutter/0000", Parameter: "pulse", Input: "100", Timestamp: time.Now()})
	events.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, Backend: "local", Timestamp: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for {
		cmds, err := repo.RecentCommands(ctx, "", 10)
		if err != nil {
			t.Fatalf("recent commands: %v", err)
		}
		_, ok, err := repo.LastConnection(ctx)
		if err != nil {
			t.Fatalf("last connection: %v", err)
		}
		if len(cmds) == 1 && ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected projected events, got %d commands, connection=%v", len(cmds), ok)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWriterQueueRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := NewWriterQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	queue.Start(ctx)

	attempts := 0
	queue.Enqueue("flaky", func(context.Context) error {
		attempts++
		if attempts < 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	queue.Wait()

	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWriterQueueDropsWhenFull(t *testing.T) {
	queue := NewWriterQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)

	noop := func(context.Context) error { return nil }
	if !queue.Enqueue("first", noop) {
		t.Fatalf("expected first write to be accepted")
	}
	if queue.Enqueue("second", noop) {
		t.Fatalf("expected second write to be dropped")
	}
	if got := queue.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped write, got %d", got)
	}
}

func TestWriterQueueFlushesAfterCancel(t *testing.T) {
	queue := NewWriterQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), 4)
	var written atomic.Int32
	for i := 0; i < 3; i++ {
		queue.Enqueue("write", func(context.Context) error {
			written.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	queue.Start(ctx)

	select {
	case <-queue.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("queue did not stop")
	}
	if got := written.Load(); got != 3 {
		t.Fatalf("expected 3 flushed writes, got %d", got)
	}
}

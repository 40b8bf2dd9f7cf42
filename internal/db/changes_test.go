package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamavenir/threadline/internal/types"
)

func TestChangeWatcherDeliversInsertsAndUpdates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")
	post(t, store, channel.ID, "alice", "before watch", nil)

	var events []types.ChangeEvent
	watcher := NewChangeWatcher(store, func(event types.ChangeEvent) {
		events = append(events, event)
	}, WatcherOptions{})
	if err := watcher.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	msg := post(t, store, channel.ID, "alice", "hello", nil)
	if err := store.SoftDeleteMessage(ctx, msg.ID, testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	delivered, err := watcher.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if delivered != 2 || len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != types.ChangeInsert || events[1].Kind != types.ChangeUpdate {
		t.Fatalf("unexpected kinds: %s, %s", events[0].Kind, events[1].Kind)
	}
	if events[1].Row.ID != msg.ID || events[1].Row.DeletedAt == nil {
		t.Fatalf("expected update to carry deleted_at, got %+v", events[1].Row)
	}
	if events[0].Row.ChannelID != channel.ID {
		t.Fatalf("expected channel id on row, got %q", events[0].Row.ChannelID)
	}
	if events[0].Seq >= events[1].Seq {
		t.Fatalf("expected increasing sequence numbers")
	}

	again, err := watcher.Poll(ctx)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no redelivery, got %d", again)
	}
}

func TestChangeWatcherSeesWritesFromAnotherConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	reader := openTestStoreAt(t, path)
	writer := openTestStoreAt(t, path)
	ctx := context.Background()
	channel := seedChannel(t, writer, "ws", "general")

	var events []types.ChangeEvent
	watcher := NewChangeWatcher(reader, func(event types.ChangeEvent) {
		events = append(events, event)
	}, WatcherOptions{})
	if err := watcher.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	root := post(t, writer, channel.ID, "bob", "root", nil)
	post(t, writer, channel.ID, "bob", "reply", &root.ID)

	if _, err := watcher.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Row.ParentID == nil || *events[1].Row.ParentID != root.ID {
		t.Fatalf("expected reply row, got %+v", events[1].Row)
	}
}

func TestChangeWatcherRunStopsWithContext(t *testing.T) {
	store := openTestStore(t)
	channel := seedChannel(t, store, "ws", "general")

	received := make(chan types.ChangeEvent, 4)
	wake := make(chan struct{}, 1)
	watcher := NewChangeWatcher(store, func(event types.ChangeEvent) {
		received <- event
	}, WatcherOptions{Interval: time.Hour, Wake: wake})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	if err := watcher.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	watcher.fromZero = true
	go func() { done <- watcher.Run(ctx) }()

	post(t, store, channel.ID, "alice", "wake me", nil)
	wake <- struct{}{}

	select {
	case event := <-received:
		if event.Kind != types.ChangeInsert {
			t.Fatalf("unexpected kind %s", event.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestChangeWatcherDeliversLateLowerSequence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")

	var events []types.ChangeEvent
	watcher := NewChangeWatcher(store, func(event types.ChangeEvent) {
		events = append(events, event)
	}, WatcherOptions{Lookback: 16})
	if err := watcher.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	early := post(t, store, channel.ID, "alice", "committed late", nil)
	post(t, store, channel.ID, "bob", "committed first", nil)

	// Hide the first change as if its transaction had not committed yet.
	var seq int64
	if err := store.DB().QueryRowContext(ctx, "SELECT seq FROM changes WHERE row_id = ?", early.ID).Scan(&seq); err != nil {
		t.Fatalf("find change: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, "DELETE FROM changes WHERE seq = ?", seq); err != nil {
		t.Fatalf("hide change: %v", err)
	}
	if n, err := watcher.Poll(ctx); err != nil || n != 1 {
		t.Fatalf("expected the newer change alone, got %d (%v)", n, err)
	}

	if _, err := store.DB().ExecContext(ctx, "INSERT INTO changes (seq, op, channel_id, row_id) VALUES (?, 'INSERT', ?, ?)", seq, channel.ID, early.ID); err != nil {
		t.Fatalf("commit change: %v", err)
	}
	if n, err := watcher.Poll(ctx); err != nil || n != 1 {
		t.Fatalf("expected the late change, got %d (%v)", n, err)
	}
	if len(events) != 2 || events[1].Row.ID != early.ID {
		t.Fatalf("expected late change delivered second, got %+v", events)
	}

	if n, err := watcher.Poll(ctx); err != nil || n != 0 {
		t.Fatalf("expected no redelivery inside the window, got %d (%v)", n, err)
	}
}

func TestChangeWatcherLookbackDefaultsByDialect(t *testing.T) {
	store := openTestStore(t)
	watcher := NewChangeWatcher(store, func(types.ChangeEvent) {}, WatcherOptions{})
	if watcher.lookback != 0 {
		t.Fatalf("expected no lookback on sqlite, got %d", watcher.lookback)
	}
	pg := NewStore(store.DB(), DialectPostgres)
	if got := NewChangeWatcher(pg, func(types.ChangeEvent) {}, WatcherOptions{}).lookback; got != postgresLookback {
		t.Fatalf("expected postgres lookback %d, got %d", postgresLookback, got)
	}
}

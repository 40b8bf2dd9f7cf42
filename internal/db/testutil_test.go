package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adamavenir/threadline/internal/types"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStoreAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func openTestStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	stepClock(store, testEpoch, time.Second)
	return store
}

// stepClock makes every timestamp the store takes one step later than the last.
func stepClock(store *Store, start time.Time, step time.Duration) {
	next := start
	store.now = func() time.Time {
		current := next
		next = next.Add(step)
		return current
	}
}

func seedChannel(t *testing.T, store *Store, workspaceID, name string) types.Channel {
	t.Helper()
	channel, err := store.CreateChannel(context.Background(), types.Channel{WorkspaceID: workspaceID, Name: name})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return channel
}

func seedProfile(t *testing.T, store *Store, id, username string) {
	t.Helper()
	if err := store.UpsertProfile(context.Background(), types.Profile{ID: id, Username: username}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
}

func post(t *testing.T, store *Store, channelID, userID, content string, parentID *string) types.Message {
	t.Helper()
	msg, err := store.InsertMessage(context.Background(), types.NewMessage{
		ChannelID: channelID,
		UserID:    userID,
		Content:   strPtr(content),
		ParentID:  parentID,
	})
	if err != nil {
		t.Fatalf("insert message %q: %v", content, err)
	}
	return msg
}

func strPtr(value string) *string {
	return &value
}

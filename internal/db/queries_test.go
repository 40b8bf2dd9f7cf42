package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

func TestFetchRootMessagesPagesByCursor(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")
	seedProfile(t, store, "alice", "alice")

	for i := 0; i < 60; i++ {
		post(t, store, channel.ID, "alice", fmt.Sprintf("msg %d", i), nil)
	}

	page, err := store.FetchRootMessages(ctx, channel.ID, nil, 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(page))
	}
	if page[0].Text() != "msg 10" || page[49].Text() != "msg 59" {
		t.Fatalf("unexpected page bounds: %q .. %q", page[0].Text(), page[49].Text())
	}
	for i := 1; i < len(page); i++ {
		if !page[i-1].CreatedAt.Before(page[i].CreatedAt) {
			t.Fatalf("page not ascending at %d", i)
		}
	}
	if page[0].Author == nil || page[0].Author.Username != "alice" {
		t.Fatalf("expected hydrated author, got %+v", page[0].Author)
	}

	cursor := page[0].CreatedAt
	older, err := store.FetchRootMessages(ctx, channel.ID, &cursor, 50)
	if err != nil {
		t.Fatalf("fetch older: %v", err)
	}
	if len(older) != 10 {
		t.Fatalf("expected 10 older messages, got %d", len(older))
	}
	if older[0].Text() != "msg 0" || older[9].Text() != "msg 9" {
		t.Fatalf("unexpected older bounds: %q .. %q", older[0].Text(), older[9].Text())
	}
	for _, msg := range older {
		if !msg.CreatedAt.Before(cursor) {
			t.Fatalf("message %s not older than cursor", msg.ID)
		}
	}
}

func TestThreadSummaryMaintainedByTriggers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")
	seedProfile(t, store, "alice", "alice")
	seedProfile(t, store, "bob", "bob")

	root := post(t, store, channel.ID, "alice", "root", nil)
	first := post(t, store, channel.ID, "bob", "first", &root.ID)
	second := post(t, store, channel.ID, "alice", "second", &root.ID)

	page, err := store.FetchRootMessages(ctx, channel.ID, nil, 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("replies must not appear in root page, got %d", len(page))
	}
	thread := page[0].Thread
	if thread == nil || thread.ReplyCount != 2 || thread.ParticipantCount != 2 {
		t.Fatalf("unexpected thread summary: %+v", thread)
	}
	if thread.LastReplyAt == nil || !thread.LastReplyAt.Equal(second.CreatedAt) {
		t.Fatalf("expected last reply at %v, got %v", second.CreatedAt, thread.LastReplyAt)
	}
	if len(page[0].Replies) != 2 || page[0].Replies[0].ID != first.ID {
		t.Fatalf("unexpected reply previews: %+v", page[0].Replies)
	}

	if err := store.SoftDeleteMessage(ctx, first.ID, testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("delete reply: %v", err)
	}
	updated, err := store.GetMessage(ctx, root.ID)
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	if updated.Thread.ReplyCount != 1 || updated.Thread.ParticipantCount != 1 {
		t.Fatalf("expected counts to drop after delete, got %+v", updated.Thread)
	}

	replies, err := store.FetchReplies(ctx, root.ID, nil, 50)
	if err != nil {
		t.Fatalf("fetch replies: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != second.ID {
		t.Fatalf("unexpected replies: %+v", replies)
	}
}

func TestReplyPreviewsAreBounded(t *testing.T) {
	store := openTestStore(t)
	channel := seedChannel(t, store, "ws", "general")
	root := post(t, store, channel.ID, "alice", "root", nil)
	var last types.Message
	for i := 0; i < types.ReplyPreviewLimit+2; i++ {
		last = post(t, store, channel.ID, "bob", fmt.Sprintf("reply %d", i), &root.ID)
	}

	msg, err := store.GetMessage(context.Background(), root.ID)
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	if len(msg.Replies) != types.ReplyPreviewLimit {
		t.Fatalf("expected %d previews, got %d", types.ReplyPreviewLimit, len(msg.Replies))
	}
	if msg.Replies[len(msg.Replies)-1].ID != last.ID {
		t.Fatalf("expected newest reply last in preview")
	}
}

func TestInsertMessageRejectsNestedReply(t *testing.T) {
	store := openTestStore(t)
	channel := seedChannel(t, store, "ws", "general")
	root := post(t, store, channel.ID, "alice", "root", nil)
	reply := post(t, store, channel.ID, "bob", "reply", &root.ID)

	_, err := store.InsertMessage(context.Background(), types.NewMessage{
		ChannelID: channel.ID,
		UserID:    "alice",
		Content:   strPtr("nested"),
		ParentID:  &reply.ID,
	})
	if !errors.Is(err, core.ErrNestedReply) {
		t.Fatalf("expected ErrNestedReply, got %v", err)
	}
}

func TestUpdateAndSoftDeleteMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")
	msg := post(t, store, channel.ID, "alice", "foo", nil)

	editedAt := testEpoch.Add(time.Minute)
	if err := store.UpdateMessageContent(ctx, msg.ID, "bar", editedAt); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Text() != "bar" || !updated.IsEdited {
		t.Fatalf("expected edited content, got %q edited=%v", updated.Text(), updated.IsEdited)
	}
	if updated.UpdatedAt == nil || !updated.UpdatedAt.Equal(editedAt) {
		t.Fatalf("expected updated_at %v, got %v", editedAt, updated.UpdatedAt)
	}

	if err := store.SoftDeleteMessage(ctx, msg.ID, editedAt); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.SoftDeleteMessage(ctx, msg.ID, editedAt); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.UpdateMessageContent(ctx, msg.ID, "baz", editedAt); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound editing a deleted message, got %v", err)
	}

	deleted, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	if deleted.DeletedAt == nil {
		t.Fatal("expected deleted_at to be set")
	}
	page, err := store.FetchRootMessages(ctx, channel.ID, nil, 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("soft-deleted message should be hidden, got %d", len(page))
	}
}

func TestReactionsAndAttachmentsHydrate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")
	msg := post(t, store, channel.ID, "alice", "look", nil)

	for i := 0; i < 2; i++ {
		if _, err := store.InsertReaction(ctx, types.Reaction{MessageID: msg.ID, UserID: "alice", Emoji: "👍"}); err != nil {
			t.Fatalf("insert reaction: %v", err)
		}
	}
	attachment, err := store.InsertAttachment(ctx, types.Attachment{
		MessageID: msg.ID,
		UserID:    "alice",
		FileURL:   "file:///tmp/a.png",
		FileName:  "a.png",
		FileSize:  2048,
		MimeType:  "image/png",
	})
	if err != nil {
		t.Fatalf("insert attachment: %v", err)
	}

	fetched, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(fetched.Reactions) != 2 {
		t.Fatalf("expected duplicate reactions to be kept, got %d", len(fetched.Reactions))
	}
	if len(fetched.Attachments) != 1 || fetched.Attachments[0].ID != attachment.ID {
		t.Fatalf("unexpected attachments: %+v", fetched.Attachments)
	}
	if fetched.Attachments[0].FileSize != 2048 || fetched.Attachments[0].MimeType != "image/png" {
		t.Fatalf("attachment fields not preserved: %+v", fetched.Attachments[0])
	}
}

func TestChannelsMembershipAndVisibility(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedProfile(t, store, "alice", "alice")
	general := seedChannel(t, store, "ws", "general")
	secret, err := store.CreateChannel(ctx, types.Channel{WorkspaceID: "ws", Name: "secret", Type: types.ChannelTypePrivate})
	if err != nil {
		t.Fatalf("create private channel: %v", err)
	}
	seedChannel(t, store, "other", "elsewhere")

	channels, err := store.ListChannels(ctx, "ws", "alice")
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != general.ID {
		t.Fatalf("expected only the public channel, got %+v", channels)
	}

	if err := store.JoinChannel(ctx, secret.ID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := store.JoinChannel(ctx, secret.ID, "alice"); err != nil {
		t.Fatalf("second join should be a no-op: %v", err)
	}
	if err := store.JoinChannel(ctx, "missing", "alice"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound joining missing channel, got %v", err)
	}

	channels, err = store.ListChannels(ctx, "ws", "alice")
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "general" || channels[1].Name != "secret" {
		t.Fatalf("unexpected channels after join: %+v", channels)
	}

	members, err := store.ListMembers(ctx, secret.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].Profile == nil || members[0].Profile.Username != "alice" {
		t.Fatalf("unexpected members: %+v", members)
	}

	found, err := store.FindChannel(ctx, "ws", "#General")
	if err != nil {
		t.Fatalf("find channel: %v", err)
	}
	if found.ID != general.ID {
		t.Fatalf("expected %s, got %s", general.ID, found.ID)
	}
}

func TestSearchMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	general := seedChannel(t, store, "ws", "general")
	random := seedChannel(t, store, "ws", "random")
	other := seedChannel(t, store, "other", "general")

	post(t, store, general.ID, "alice", "Deploy finished", nil)
	root := post(t, store, random.ID, "bob", "deploy again?", nil)
	post(t, store, random.ID, "alice", "deploy reply", &root.ID)
	post(t, store, other.ID, "carol", "deploy elsewhere", nil)
	post(t, store, general.ID, "alice", "100% done_now", nil)
	gone := post(t, store, general.ID, "alice", "deploy gone", nil)
	if err := store.SoftDeleteMessage(ctx, gone.ID, testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	results, err := store.SearchMessages(ctx, "ws", "DEPLOY", 50)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text() != "deploy again?" || results[0].ChannelName != "random" {
		t.Fatalf("expected newest first with channel name, got %+v", results[0])
	}

	literal, err := store.SearchMessages(ctx, "ws", "0% done_", 50)
	if err != nil {
		t.Fatalf("search literal: %v", err)
	}
	if len(literal) != 1 {
		t.Fatalf("expected wildcard characters to match literally, got %d", len(literal))
	}

	empty, err := store.SearchMessages(ctx, "ws", "   ", 50)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty search to return nothing, got %d (%v)", len(empty), err)
	}
}

func TestListThreadsOrdersByLastReply(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	channel := seedChannel(t, store, "ws", "general")
	older := post(t, store, channel.ID, "alice", "older thread", nil)
	newer := post(t, store, channel.ID, "alice", "newer thread", nil)
	post(t, store, channel.ID, "alice", "no replies", nil)
	post(t, store, channel.ID, "bob", "r1", &newer.ID)
	post(t, store, channel.ID, "bob", "r2", &older.ID)

	threads, err := store.ListThreads(ctx, "ws", 10)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].ID != older.ID {
		t.Fatalf("expected most recently replied thread first")
	}
}

func TestRebindForPostgres(t *testing.T) {
	store := &Store{dialect: DialectPostgres}
	got := store.rebind("SELECT * FROM messages WHERE id = ? AND channel_id IN (?, ?)")
	want := "SELECT * FROM messages WHERE id = $1 AND channel_id IN ($2, $3)"
	if got != want {
		t.Fatalf("rebind mismatch:\n got %s\nwant %s", got, want)
	}

	sqlite := &Store{dialect: DialectSQLite}
	if sqlite.rebind("id = ?") != "id = ?" {
		t.Fatal("sqlite queries must not be rewritten")
	}
}

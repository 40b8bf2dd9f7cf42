package timeline

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

var testEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return testEpoch.Add(time.Duration(seconds) * time.Second)
}

func strPtr(value string) *string { return &value }

func makeMessage(id string, seconds int) types.Message {
	return types.Message{
		MessageRow: types.MessageRow{
			ID:        id,
			ChannelID: "c1",
			UserID:    "u2",
			Content:   strPtr("message " + id),
			CreatedAt: at(seconds),
		},
		Author:      &types.Profile{ID: "u2", Username: "bob"},
		Reactions:   []types.Reaction{},
		Attachments: []types.Attachment{},
	}
}

// series returns count messages m<from>..m<from+count-1>, one second apart.
func series(from, count int) []types.Message {
	out := make([]types.Message, 0, count)
	for i := from; i < from+count; i++ {
		out = append(out, makeMessage(fmt.Sprintf("m%02d", i), i))
	}
	return out
}

func readyState(t *testing.T, messages []types.Message) *State {
	t.Helper()
	s := NewState(Scope{ChannelID: "c1"}, "u1", "alice", 50)
	Reduce(s, OpenRequested{Generation: 1})
	Reduce(s, InitialLoaded{Generation: 1, Messages: messages})
	if s.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", s.Phase)
	}
	return s
}

func insertEvent(row types.MessageRow) ChangeReceived {
	return ChangeReceived{Event: types.ChangeEvent{Kind: types.ChangeInsert, Table: "messages", Row: row}, At: at(1000)}
}

func updateEvent(row types.MessageRow) ChangeReceived {
	return ChangeReceived{Event: types.ChangeEvent{Kind: types.ChangeUpdate, Table: "messages", Row: row}, At: at(1000)}
}

func assertSortedUnique(t *testing.T, messages []types.Message) {
	t.Helper()
	seen := map[string]bool{}
	for i, msg := range messages {
		if seen[msg.ID] {
			t.Fatalf("duplicate id %s", msg.ID)
		}
		seen[msg.ID] = true
		if i > 0 && msg.CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d: %s before %s", i, messages[i-1].ID, msg.ID)
		}
	}
}

func TestSixtyMessagesPaginateInTwoPages(t *testing.T) {
	all := series(0, 60)
	s := NewState(Scope{ChannelID: "c1"}, "u1", "alice", 50)

	effects := Reduce(s, OpenRequested{Generation: 1})
	fetch, ok := effects[0].(FetchInitial)
	if !ok || fetch.Limit != 50 || s.Phase != PhaseLoading {
		t.Fatalf("expected initial fetch of 50, got %+v (phase %s)", effects, s.Phase)
	}

	Reduce(s, InitialLoaded{Generation: 1, Messages: all[10:]})
	if len(s.Messages) != 50 || !s.HasMore {
		t.Fatalf("expected 50 messages with more, got %d (hasMore=%v)", len(s.Messages), s.HasMore)
	}
	if s.Cursor == nil || !s.Cursor.Equal(all[10].CreatedAt) {
		t.Fatalf("expected cursor at oldest loaded message, got %v", s.Cursor)
	}

	effects = Reduce(s, LoadOlderRequested{})
	older, ok := effects[0].(FetchOlder)
	if !ok || !older.Before.Equal(all[10].CreatedAt) || s.Phase != PhaseLoadingMore {
		t.Fatalf("expected older fetch before cursor, got %+v", effects)
	}
	if again := Reduce(s, LoadOlderRequested{}); len(again) != 0 {
		t.Fatalf("expected concurrent load older to coalesce, got %+v", again)
	}

	Reduce(s, OlderLoaded{Generation: 1, Messages: all[:10]})
	if len(s.Messages) != 60 || s.HasMore || s.Prepended != 10 {
		t.Fatalf("expected 60 messages, no more, 10 prepended; got %d, %v, %d", len(s.Messages), s.HasMore, s.Prepended)
	}
	for _, msg := range s.Messages[:10] {
		if !msg.CreatedAt.Before(all[10].CreatedAt) {
			t.Fatalf("older page message %s is not strictly older than cursor", msg.ID)
		}
	}
	assertSortedUnique(t, s.Messages)

	for i := 0; i < 3; i++ {
		if effects := Reduce(s, LoadOlderRequested{}); len(effects) != 0 {
			t.Fatalf("expected no fetch once exhausted, got %+v", effects)
		}
	}

	Reduce(s, NoticeDismissed{})
	if s.Prepended != 10 {
		t.Fatalf("expected prepend total to outlive later actions, got %d", s.Prepended)
	}
	Reduce(s, OpenRequested{Generation: 2})
	if s.Prepended != 0 {
		t.Fatalf("expected reopen to reset the prepend total, got %d", s.Prepended)
	}
}

func TestInitialLoadFailureSetsErrorPhase(t *testing.T) {
	s := NewState(Scope{ChannelID: "c1"}, "u1", "alice", 50)
	Reduce(s, OpenRequested{Generation: 1})
	Reduce(s, InitialLoaded{Generation: 1, Err: errors.New("offline")})
	if s.Phase != PhaseError || s.Err == nil || s.Notice == "" {
		t.Fatalf("expected error phase, got %+v", s)
	}
	if effects := Reduce(s, LoadOlderRequested{}); len(effects) != 0 {
		t.Fatal("expected no pagination from error phase")
	}
	effects := Reduce(s, OpenRequested{Generation: 2})
	if len(effects) != 1 || s.Phase != PhaseLoading || s.Err != nil {
		t.Fatalf("expected reopen to start a new load, got %+v", s)
	}
}

func TestStaleGenerationResultsAreIgnored(t *testing.T) {
	s := NewState(Scope{ChannelID: "c1"}, "u1", "alice", 50)
	Reduce(s, OpenRequested{Generation: 1})
	Reduce(s, OpenRequested{Generation: 2})
	Reduce(s, InitialLoaded{Generation: 1, Messages: series(0, 5)})
	if s.Phase != PhaseLoading || len(s.Messages) != 0 {
		t.Fatalf("expected stale page to be dropped, got %d messages", len(s.Messages))
	}
	Reduce(s, InitialLoaded{Generation: 2, Messages: series(0, 3)})
	if len(s.Messages) != 3 || s.HasMore {
		t.Fatalf("expected current page, got %d", len(s.Messages))
	}
}

func TestLiveInsertDeduplicatesAndStaysSorted(t *testing.T) {
	s := readyState(t, series(0, 5))

	dup := s.Messages[2].MessageRow
	if effects := Reduce(s, insertEvent(dup)); len(effects) != 0 || len(s.Messages) != 5 {
		t.Fatalf("expected duplicate insert to be a no-op, got %d messages", len(s.Messages))
	}

	fresh := makeMessage("new", 100).MessageRow
	effects := Reduce(s, insertEvent(fresh))
	if len(s.Messages) != 6 || s.Messages[5].ID != "new" {
		t.Fatalf("expected new message appended, got %+v", s.Messages)
	}
	if s.Messages[5].Author != nil {
		t.Fatal("expected live insert to start unhydrated")
	}
	if hydrate, ok := effects[0].(HydrateAuthor); !ok || hydrate.UserID != "u2" {
		t.Fatalf("expected author hydration, got %+v", effects)
	}

	late := makeMessage("late", 2).MessageRow
	Reduce(s, insertEvent(late))
	assertSortedUnique(t, s.Messages)
	if s.Messages[3].ID != "late" {
		t.Fatalf("expected out-of-order insert at its sorted position, got %s", s.Messages[3].ID)
	}

	other := makeMessage("elsewhere", 200).MessageRow
	other.ChannelID = "c2"
	Reduce(s, insertEvent(other))
	if s.Index("elsewhere") >= 0 {
		t.Fatal("expected event for another channel to be dropped")
	}

	Reduce(s, ProfileLoaded{UserID: "u2", Profile: &types.Profile{ID: "u2", Username: "bob"}})
	if s.Messages[len(s.Messages)-1].Author.DisplayName() != "bob" {
		t.Fatal("expected profile to hydrate live insert")
	}
}

func TestSoftDeleteRemovesExactlyOneEntry(t *testing.T) {
	s := readyState(t, series(0, 5))
	deleted := s.Messages[2].MessageRow
	stamp := at(500)
	deleted.DeletedAt = &stamp

	Reduce(s, updateEvent(deleted))
	if len(s.Messages) != 4 || s.Index(deleted.ID) >= 0 {
		t.Fatalf("expected exactly one removal, got %d", len(s.Messages))
	}
	for _, id := range []string{"m00", "m01", "m03", "m04"} {
		if s.Index(id) < 0 {
			t.Fatalf("sibling %s was removed", id)
		}
	}

	Reduce(s, updateEvent(deleted))
	if len(s.Messages) != 4 {
		t.Fatal("expected repeated delete to be a no-op")
	}
}

func TestUpdateMergesRowAndKeepsHydration(t *testing.T) {
	messages := series(0, 2)
	messages[1].Reactions = []types.Reaction{{ID: "r1", MessageID: "m01", UserID: "u3", Emoji: "🎉"}}
	s := readyState(t, messages)

	row := s.Messages[1].MessageRow
	row.Content = strPtr("corrected")
	row.IsEdited = true
	edited := at(60)
	row.UpdatedAt = &edited
	Reduce(s, updateEvent(row))

	msg := s.Messages[1]
	if msg.Text() != "corrected" || !msg.IsEdited || msg.UpdatedAt == nil {
		t.Fatalf("expected merged row fields, got %+v", msg.MessageRow)
	}
	if msg.Author == nil || len(msg.Reactions) != 1 {
		t.Fatal("expected hydrated fields to survive an update")
	}

	unknown := makeMessage("ghost", 10).MessageRow
	Reduce(s, updateEvent(unknown))
	if len(s.Messages) != 2 {
		t.Fatal("expected update for an unloaded id to do nothing")
	}
}

func TestLoadedReplyPreviewsAreNotRecounted(t *testing.T) {
	root := series(0, 1)[0]
	root.Thread = &types.ThreadSummary{ParentMessageID: root.ID, ReplyCount: 1}
	root.Replies = []types.ReplyPreview{{ID: "r1", UserID: "u2", CreatedAt: at(50)}}
	s := readyState(t, []types.Message{root})

	// Drop r1 from the preview as trimming would.
	i := s.Index(root.ID)
	s.Messages[i].Replies = nil
	Reduce(s, insertEvent(types.MessageRow{ID: "r1", ChannelID: "c1", ParentID: strPtr(root.ID), UserID: "u2", CreatedAt: at(50)}))
	if parent, _ := s.Find(root.ID); parent.Thread.ReplyCount != 1 {
		t.Fatalf("expected loaded reply to stay counted once, got %d", parent.Thread.ReplyCount)
	}
}

func TestReplyInsertPatchesThreadSummary(t *testing.T) {
	s := readyState(t, series(0, 3))
	parentID := "m01"

	reply := func(id string, seconds int, userID string) types.MessageRow {
		return types.MessageRow{ID: id, ChannelID: "c1", ParentID: strPtr(parentID), UserID: userID, Content: strPtr("re"), CreatedAt: at(seconds)}
	}

	effects := Reduce(s, insertEvent(reply("r1", 100, "u2")))
	if len(s.Messages) != 3 {
		t.Fatalf("reply changed root length to %d", len(s.Messages))
	}
	parent, _ := s.Find(parentID)
	if parent.Thread == nil || parent.Thread.ReplyCount != 1 || !parent.Thread.LastReplyAt.Equal(at(100)) {
		t.Fatalf("unexpected thread summary %+v", parent.Thread)
	}
	if len(effects) != 2 {
		t.Fatalf("expected highlight and notify effects, got %+v", effects)
	}
	expire, ok := effects[0].(ExpireHighlight)
	if !ok || expire.ParentID != parentID || !expire.Until.Equal(at(1000).Add(HighlightDuration)) {
		t.Fatalf("unexpected highlight effect %+v", effects[0])
	}
	if _, ok := effects[1].(Notify); !ok {
		t.Fatalf("expected notify effect, got %+v", effects[1])
	}
	if !s.Highlighted(parentID, at(1002)) || s.Highlighted(parentID, at(1006)) {
		t.Fatal("expected a five second highlight window")
	}

	Reduce(s, insertEvent(reply("r1", 100, "u2")))
	parent, _ = s.Find(parentID)
	if parent.Thread.ReplyCount != 1 {
		t.Fatal("expected duplicate reply delivery to be ignored")
	}

	Reduce(s, insertEvent(reply("r2", 101, "u3")))
	Reduce(s, insertEvent(reply("r3", 102, "u3")))
	own := Reduce(s, insertEvent(reply("r4", 103, "u1")))
	if len(own) != 0 {
		t.Fatalf("expected no highlight for own reply, got %+v", own)
	}
	parent, _ = s.Find(parentID)
	if parent.Thread.ReplyCount != 4 || len(parent.Replies) != types.ReplyPreviewLimit || parent.Replies[0].ID != "r2" {
		t.Fatalf("unexpected summary after four replies: %+v, %+v", parent.Thread, parent.Replies)
	}

	// r1 has left the preview; a redelivery must still not count.
	if effects := Reduce(s, insertEvent(reply("r1", 100, "u2"))); len(effects) != 0 {
		t.Fatalf("expected redelivered reply to be a no-op, got %+v", effects)
	}
	parent, _ = s.Find(parentID)
	if parent.Thread.ReplyCount != 4 || parent.Replies[0].ID != "r2" {
		t.Fatalf("expected redelivery outside the preview to be ignored, got %+v, %+v", parent.Thread, parent.Replies)
	}

	orphan := reply("r9", 104, "u2")
	orphan.ParentID = strPtr("not-loaded")
	if effects := Reduce(s, insertEvent(orphan)); len(effects) != 0 || len(s.Messages) != 3 {
		t.Fatal("expected reply to unloaded parent to be ignored")
	}
}

func TestNewerHighlightExtendsWindow(t *testing.T) {
	s := readyState(t, series(0, 2))
	first := s.Messages[0].ID
	Reduce(s, ChangeReceived{Event: types.ChangeEvent{Kind: types.ChangeInsert, Row: types.MessageRow{
		ID: "r1", ChannelID: "c1", ParentID: strPtr(first), UserID: "u2", CreatedAt: at(10),
	}}, At: at(100)})
	Reduce(s, ChangeReceived{Event: types.ChangeEvent{Kind: types.ChangeInsert, Row: types.MessageRow{
		ID: "r2", ChannelID: "c1", ParentID: strPtr(first), UserID: "u2", CreatedAt: at(11),
	}}, At: at(103)})

	Reduce(s, HighlightExpired{ParentID: first, Until: at(105)})
	if _, ok := s.Highlights[first]; !ok {
		t.Fatal("expected older expiry to leave the extended highlight")
	}
	Reduce(s, HighlightExpired{ParentID: first, Until: at(108)})
	if _, ok := s.Highlights[first]; ok {
		t.Fatal("expected highlight cleared at its own expiry")
	}
}

func TestOfflineSendRestoresDraft(t *testing.T) {
	s := readyState(t, series(0, 3))
	effects := Reduce(s, SendRequested{Content: "hello"})
	if !s.Draft.Empty() {
		t.Fatal("expected draft cleared on submit")
	}
	create, ok := effects[0].(CreateMessage)
	if !ok || *create.Input.Content != "hello" || create.Input.ParentID != nil || create.Input.UserID != "u1" {
		t.Fatalf("unexpected create effect %+v", effects)
	}

	Reduce(s, SendCompleted{Draft: create.Draft, Err: errors.New("network unreachable")})
	if s.Draft.Content != "hello" || s.DraftSeq != 1 {
		t.Fatalf("expected draft restored, got %+v", s.Draft)
	}
	if len(s.Messages) != 3 || s.Notice == "" {
		t.Fatalf("expected no new entry and a notice, got %d / %q", len(s.Messages), s.Notice)
	}
}

func TestSendValidationAndPlaceholder(t *testing.T) {
	s := readyState(t, nil)
	if effects := Reduce(s, SendRequested{Content: "   "}); len(effects) != 0 || !errors.Is(s.Err, core.ErrEmptyMessage) {
		t.Fatalf("expected empty send rejected, got %+v / %v", effects, s.Err)
	}

	files := []attach.File{{Name: "a.png", Data: []byte{1}}}
	effects := Reduce(s, SendRequested{Files: files})
	create := effects[0].(CreateMessage)
	if *create.Input.Content != AttachmentPlaceholder || len(create.Draft.Files) != 1 {
		t.Fatalf("expected placeholder content with files, got %+v", create)
	}

	sent := makeMessage("sent", 10)
	sent.UserID = "u1"
	effects = Reduce(s, SendCompleted{Draft: create.Draft, Message: sent})
	upload, ok := effects[0].(UploadAttachments)
	if !ok || upload.MessageID != "sent" || len(upload.Files) != 1 {
		t.Fatalf("expected upload effect, got %+v", effects)
	}
	Reduce(s, insertEvent(sent.MessageRow))
	if len(s.Messages) != 1 {
		t.Fatal("expected live copy of own message to be deduplicated")
	}

	Reduce(s, AttachmentsLinked{MessageID: "sent", Attachments: []types.Attachment{{ID: "a1", FileName: "a.png"}}, Failed: []string{"b.png"}})
	if len(s.Messages[0].Attachments) != 1 || s.Notice == "" {
		t.Fatalf("expected attachment linked and failure noticed, got %+v / %q", s.Messages[0].Attachments, s.Notice)
	}
}

func TestSendEndsTyping(t *testing.T) {
	s := readyState(t, nil)
	if effects := Reduce(s, TypingChanged{Typing: true}); len(effects) != 1 || !s.SelfTyping {
		t.Fatalf("expected typing tracked, got %+v", effects)
	}
	effects := Reduce(s, SendRequested{Content: "done"})
	if len(effects) != 2 || s.SelfTyping {
		t.Fatalf("expected send to stop typing, got %+v", effects)
	}
	if track, ok := effects[1].(TrackTyping); !ok || track.Typing {
		t.Fatalf("expected typing=false track, got %+v", effects[1])
	}
	if effects := Reduce(s, TypingIdle{}); len(effects) != 0 {
		t.Fatal("expected idle after stop to be a no-op")
	}
}

func TestReactTwiceShowsSingleGroup(t *testing.T) {
	s := readyState(t, series(0, 1))
	for i := 0; i < 2; i++ {
		effects := Reduce(s, ReactRequested{Reaction: types.Reaction{ID: fmt.Sprintf("r%d", i), MessageID: "m00", UserID: "u1", Emoji: "👍"}})
		if _, ok := effects[0].(InsertReaction); !ok {
			t.Fatalf("expected insert effect, got %+v", effects)
		}
	}
	reactions := s.Messages[0].Reactions
	if len(reactions) != 2 {
		t.Fatalf("expected two reaction rows, got %d", len(reactions))
	}
	groups := GroupReactions(reactions)
	if len(groups) != 1 || FormatReactionGroup(groups[0]) != "👍 2" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if !reflect.DeepEqual(groups[0].UserIDs, []string{"u1", "u1"}) {
		t.Fatalf("unexpected user ids %v", groups[0].UserIDs)
	}
}

func TestGroupReactionsFirstAppearanceOrder(t *testing.T) {
	groups := GroupReactions([]types.Reaction{
		{Emoji: "🎉", UserID: "a"},
		{Emoji: "👍", UserID: "b"},
		{Emoji: "🎉", UserID: "c"},
	})
	if len(groups) != 2 || groups[0].Emoji != "🎉" || groups[0].Count != 2 || groups[1].Emoji != "👍" {
		t.Fatalf("unexpected grouping %+v", groups)
	}
	if GroupReactions(nil) != nil {
		t.Fatal("expected nil groups for no reactions")
	}
}

func TestEditVisibleOnlyAfterAcknowledgment(t *testing.T) {
	messages := series(0, 1)
	messages[0].Content = strPtr("foo")
	s := readyState(t, messages)

	effects := Reduce(s, EditRequested{ID: "m00", Content: "bar"})
	if s.Messages[0].Text() != "foo" || s.Messages[0].IsEdited {
		t.Fatal("expected no local change before acknowledgment")
	}
	if update, ok := effects[0].(UpdateMessage); !ok || update.Content != "bar" {
		t.Fatalf("expected update effect, got %+v", effects)
	}

	Reduce(s, EditCompleted{ID: "m00", Content: "bar", At: at(50), Err: errors.New("forbidden")})
	if s.Messages[0].Text() != "foo" || s.Notice == "" {
		t.Fatal("expected failed edit to leave content and raise a notice")
	}

	Reduce(s, EditCompleted{ID: "m00", Content: "bar", At: at(51)})
	if s.Messages[0].Text() != "bar" || !s.Messages[0].IsEdited {
		t.Fatalf("expected acknowledged edit, got %+v", s.Messages[0].MessageRow)
	}

	if effects := Reduce(s, EditRequested{ID: "missing", Content: "x"}); len(effects) != 0 || !errors.Is(s.Err, core.ErrNotLoaded) {
		t.Fatal("expected edit of unloaded message to be rejected")
	}
}

func TestDeleteRemovesOnAcknowledgment(t *testing.T) {
	s := readyState(t, series(0, 2))
	effects := Reduce(s, DeleteRequested{ID: "m00"})
	if _, ok := effects[0].(DeleteMessage); !ok || len(s.Messages) != 2 {
		t.Fatalf("expected delete effect with no local change, got %+v", effects)
	}
	Reduce(s, DeleteCompleted{ID: "m00", Err: errors.New("denied")})
	if len(s.Messages) != 2 || s.Notice == "" {
		t.Fatal("expected failed delete to keep the message")
	}
	Reduce(s, DeleteCompleted{ID: "m00"})
	if len(s.Messages) != 1 || s.Messages[0].ID != "m01" {
		t.Fatalf("expected m00 removed, got %+v", s.Messages)
	}
}

func TestThreadScopeAppliesRepliesOnly(t *testing.T) {
	root := makeMessage("root", 0)
	s := NewState(Scope{ChannelID: "c1", ThreadID: "root"}, "u1", "alice", 20)
	effects := Reduce(s, OpenRequested{Generation: 1})
	if fetch := effects[0].(FetchInitial); fetch.Limit != ReplyPageSize {
		t.Fatalf("expected reply page size, got %d", fetch.Limit)
	}

	replies := []types.Message{makeMessage("r1", 10), makeMessage("r2", 20)}
	for i := range replies {
		replies[i].ParentID = strPtr("root")
	}
	Reduce(s, InitialLoaded{Generation: 1, Root: &root, Messages: replies})
	if len(s.Messages) != 3 || s.Messages[0].ID != "root" || s.HasMore {
		t.Fatalf("unexpected thread load %+v", s.Messages)
	}
	if s.Cursor == nil || !s.Cursor.Equal(at(10)) {
		t.Fatalf("expected cursor at oldest reply, got %v", s.Cursor)
	}

	next := types.MessageRow{ID: "r3", ChannelID: "c1", ParentID: strPtr("root"), UserID: "u2", CreatedAt: at(30)}
	Reduce(s, insertEvent(next))
	foreign := types.MessageRow{ID: "x1", ChannelID: "c1", ParentID: strPtr("other"), UserID: "u2", CreatedAt: at(31)}
	Reduce(s, insertEvent(foreign))
	Reduce(s, insertEvent(root.MessageRow))
	topLevel := types.MessageRow{ID: "top", ChannelID: "c1", UserID: "u2", CreatedAt: at(32)}
	Reduce(s, insertEvent(topLevel))
	if len(s.Messages) != 4 || s.Messages[3].ID != "r3" {
		t.Fatalf("expected only the reply to root appended, got %+v", s.Messages)
	}

	effects = Reduce(s, SendRequested{Content: "in thread"})
	create := effects[0].(CreateMessage)
	if create.Input.ParentID == nil || *create.Input.ParentID != "root" {
		t.Fatal("expected thread send to carry the root as parent")
	}

	deleted := root.MessageRow
	stamp := at(40)
	deleted.DeletedAt = &stamp
	Reduce(s, updateEvent(deleted))
	if s.Phase != PhaseError || len(s.Messages) != 0 || !IsThreadClosed(s.Err) {
		t.Fatalf("expected thread closed after root delete, got phase %s err %v", s.Phase, s.Err)
	}
}

func TestThreadLoadWithDeletedRootFails(t *testing.T) {
	root := makeMessage("root", 0)
	stamp := at(5)
	root.DeletedAt = &stamp
	s := NewState(Scope{ChannelID: "c1", ThreadID: "root"}, "u1", "alice", 50)
	Reduce(s, OpenRequested{Generation: 1})
	Reduce(s, InitialLoaded{Generation: 1, Root: &root})
	if s.Phase != PhaseError || !errors.Is(s.Err, core.ErrThreadRootDeleted) {
		t.Fatalf("expected deleted root error, got %s / %v", s.Phase, s.Err)
	}
}

func TestInitialLoadKeepsInsertsThatArrivedWhileLoading(t *testing.T) {
	s := NewState(Scope{ChannelID: "c1"}, "u1", "alice", 50)
	Reduce(s, OpenRequested{Generation: 1})
	Reduce(s, insertEvent(makeMessage("live", 100).MessageRow))
	page := series(0, 3)
	page = append(page, makeMessage("live", 100))
	Reduce(s, InitialLoaded{Generation: 1, Messages: page})
	if len(s.Messages) != 4 || s.Messages[3].ID != "live" {
		t.Fatalf("expected live insert merged without duplicate, got %+v", s.Messages)
	}
	assertSortedUnique(t, s.Messages)
}

func TestTypingFromPresence(t *testing.T) {
	s := readyState(t, nil)
	effects := Reduce(s, PresenceReceived{At: at(0), Event: types.PresenceEvent{
		Kind: types.PresenceSync,
		Entries: map[string]types.PresenceState{
			"u1": {Username: "alice", Typing: true},
			"u2": {Username: "bob", Typing: true},
			"u3": {Username: "carol"},
		},
	}})
	if !reflect.DeepEqual(s.Typing, []string{"bob"}) {
		t.Fatalf("expected only bob typing, got %v", s.Typing)
	}
	if tick, ok := effects[0].(ScheduleTypingTick); !ok || tick.Wait != 3*time.Second {
		t.Fatalf("expected tick after idle window, got %+v", effects)
	}

	Reduce(s, TypingTick{At: at(3)})
	if len(s.Typing) != 0 {
		t.Fatalf("expected typing to lapse, got %v", s.Typing)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := readyState(t, series(0, 2))
	snap := s.Snapshot()
	snap.Messages[0].Content = strPtr("mutated")
	snap.Messages = append(snap.Messages, makeMessage("extra", 9))
	if s.Messages[0].Text() == "mutated" || len(s.Messages) != 2 {
		t.Fatal("expected snapshot mutations not to reach the state")
	}
}

func TestDeletedReplyKeepsRootCount(t *testing.T) {
	s := readyState(t, series(0, 2))
	reply := types.MessageRow{ID: "r1", ChannelID: "c1", ParentID: strPtr("m00"), UserID: "u2", Content: strPtr("re"), CreatedAt: at(100)}
	Reduce(s, insertEvent(reply))

	stamp := at(200)
	reply.DeletedAt = &stamp
	Reduce(s, updateEvent(reply))
	parent, _ := s.Find("m00")
	if len(s.Messages) != 2 || parent.Thread.ReplyCount != 1 {
		t.Fatalf("expected roots untouched and count kept, got %d roots, count %d", len(s.Messages), parent.Thread.ReplyCount)
	}
}

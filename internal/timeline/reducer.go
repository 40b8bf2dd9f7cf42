package timeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/presence"
	"github.com/adamavenir/threadline/internal/types"
)

// Reduce applies action to s and returns the work it implies. It performs no
// I/O and reads no clock.
func Reduce(s *State, action Action) []Effect {
	if s.Highlights == nil {
		s.Highlights = map[string]time.Time{}
	}

	switch a := action.(type) {
	case OpenRequested:
		s.Generation = a.Generation
		s.Phase = PhaseLoading
		s.Messages = nil
		s.Cursor = nil
		s.HasMore = false
		s.Prepended = 0
		s.replies = nil
		s.Err = nil
		s.Notice = ""
		s.Highlights = map[string]time.Time{}
		return []Effect{FetchInitial{Generation: a.Generation, Scope: s.Scope, Limit: s.limit()}}

	case InitialLoaded:
		if a.Generation != s.Generation || s.Phase != PhaseLoading {
			return nil
		}
		return s.initialLoaded(a)

	case LoadOlderRequested:
		if s.Phase != PhaseReady || !s.HasMore || s.Cursor == nil {
			return nil
		}
		s.Phase = PhaseLoadingMore
		return []Effect{FetchOlder{Generation: s.Generation, Scope: s.Scope, Before: *s.Cursor, Limit: s.limit()}}

	case OlderLoaded:
		if a.Generation != s.Generation || s.Phase != PhaseLoadingMore {
			return nil
		}
		s.Phase = PhaseReady
		if a.Err != nil {
			s.fail(a.Err, "Failed to load older messages")
			return nil
		}
		before := len(s.Messages)
		for _, msg := range a.Messages {
			if msg.DeletedAt == nil {
				s.insertSorted(msg)
			}
		}
		s.Prepended += len(s.Messages) - before
		s.rememberReplies(a.Messages)
		s.advanceCursor(a.Messages)
		s.HasMore = len(a.Messages) == s.limit()
		return nil

	case ChangeReceived:
		if s.Phase == PhaseIdle || s.Phase == PhaseError {
			return nil
		}
		return s.applyChange(a.Event, a.At)

	case ProfileLoaded:
		if a.Profile == nil {
			return nil
		}
		for i := range s.Messages {
			if s.Messages[i].UserID == a.UserID && s.Messages[i].Author == nil {
				profile := *a.Profile
				s.Messages[i].Author = &profile
			}
		}
		return nil

	case SendRequested:
		return s.send(a)

	case SendCompleted:
		if a.Err != nil {
			s.Draft = a.Draft
			s.DraftSeq++
			s.fail(a.Err, "Failed to send message")
			return nil
		}
		s.Err = nil
		if s.inScope(a.Message.MessageRow) {
			s.upsert(a.Message)
		}
		if len(a.Draft.Files) > 0 {
			return []Effect{UploadAttachments{MessageID: a.Message.ID, Files: a.Draft.Files}}
		}
		return nil

	case AttachmentsLinked:
		if i := s.Index(a.MessageID); i >= 0 {
			s.Messages[i].Attachments = append(s.Messages[i].Attachments, a.Attachments...)
		}
		if len(a.Failed) > 0 {
			s.Notice = "Failed to upload: " + strings.Join(a.Failed, ", ")
		}
		return nil

	case EditRequested:
		if s.Index(a.ID) < 0 {
			s.fail(core.ErrNotLoaded, "Cannot edit message")
			return nil
		}
		if strings.TrimSpace(a.Content) == "" {
			s.fail(core.ErrEmptyMessage, "Cannot edit message")
			return nil
		}
		return []Effect{UpdateMessage{ID: a.ID, Content: a.Content}}

	case EditCompleted:
		if a.Err != nil {
			s.fail(a.Err, "Failed to edit message")
			return nil
		}
		if i := s.Index(a.ID); i >= 0 {
			content := a.Content
			at := a.At
			s.Messages[i].Content = &content
			s.Messages[i].IsEdited = true
			s.Messages[i].UpdatedAt = &at
		}
		return nil

	case DeleteRequested:
		if s.Index(a.ID) < 0 {
			s.fail(core.ErrNotLoaded, "Cannot delete message")
			return nil
		}
		return []Effect{DeleteMessage{ID: a.ID}}

	case DeleteCompleted:
		if a.Err != nil {
			s.fail(a.Err, "Failed to delete message")
			return nil
		}
		s.removeEntry(a.ID)
		return nil

	case ReactRequested:
		i := s.Index(a.Reaction.MessageID)
		if i < 0 {
			s.fail(core.ErrNotLoaded, "Cannot react")
			return nil
		}
		s.Messages[i].Reactions = append(s.Messages[i].Reactions, a.Reaction)
		return []Effect{InsertReaction{Reaction: a.Reaction}}

	case HighlightExpired:
		if until, ok := s.Highlights[a.ParentID]; ok && !until.After(a.Until) {
			delete(s.Highlights, a.ParentID)
		}
		return nil

	case PresenceReceived:
		s.tracker().Apply(a.Event, a.At)
		return s.refreshTyping(a.At)

	case TypingTick:
		return s.refreshTyping(a.At)

	case TypingChanged:
		if a.Typing {
			s.SelfTyping = true
			return []Effect{TrackTyping{Typing: true}}
		}
		return s.stopTyping()

	case TypingIdle:
		return s.stopTyping()

	case NoticeDismissed:
		s.Notice = ""
		if s.Phase != PhaseError {
			s.Err = nil
		}
		return nil
	}
	return nil
}

func (s *State) limit() int {
	if s.Scope.IsThread() {
		return ReplyPageSize
	}
	return s.PageSize
}

func (s *State) fail(err error, prefix string) {
	s.Err = err
	s.Notice = fmt.Sprintf("%s: %v", prefix, err)
}

func (s *State) tracker() *presence.Tracker {
	if s.presence == nil {
		s.presence = presence.NewTracker(presence.TypingIdleTimeout)
	}
	return s.presence
}

func (s *State) initialLoaded(a InitialLoaded) []Effect {
	if a.Err == nil && s.Scope.IsThread() && (a.Root == nil || a.Root.DeletedAt != nil) {
		a.Err = core.ErrThreadRootDeleted
	}
	if a.Err != nil {
		s.Phase = PhaseError
		s.Messages = nil
		s.fail(a.Err, "Failed to load messages")
		return nil
	}

	// Live inserts that arrived while the page was in flight are kept.
	live := s.Messages
	s.Messages = make([]types.Message, 0, len(a.Messages)+len(live)+1)
	if a.Root != nil {
		s.insertSorted(*a.Root)
	}
	for _, msg := range a.Messages {
		if msg.DeletedAt == nil {
			s.insertSorted(msg)
		}
	}
	for _, msg := range live {
		s.insertSorted(msg)
	}
	s.rememberReplies(a.Messages)
	s.advanceCursor(a.Messages)
	s.HasMore = len(a.Messages) == s.limit()
	s.Phase = PhaseReady
	return nil
}

// inScope reports whether a message row belongs in this view's list.
func (s *State) inScope(row types.MessageRow) bool {
	if row.ChannelID != s.Scope.ChannelID {
		return false
	}
	if s.Scope.IsThread() {
		return row.ID == s.Scope.ThreadID || (row.ParentID != nil && *row.ParentID == s.Scope.ThreadID)
	}
	return !row.IsReply()
}

func (s *State) applyChange(event types.ChangeEvent, at time.Time) []Effect {
	row := event.Row
	if event.Table != "" && event.Table != "messages" {
		return nil
	}
	if row.ChannelID != s.Scope.ChannelID {
		return nil
	}

	switch event.Kind {
	case types.ChangeInsert:
		if row.DeletedAt != nil {
			return nil
		}
		if s.Scope.IsThread() {
			if row.ParentID == nil || *row.ParentID != s.Scope.ThreadID {
				return nil
			}
			return s.insertLive(row)
		}
		if row.IsReply() {
			return s.applyReply(row, at)
		}
		return s.insertLive(row)

	case types.ChangeUpdate:
		if row.DeletedAt != nil {
			// Thread counters are only maintained on insert. A deleted reply
			// in root scope leaves its root's count as is until reload.
			s.removeEntry(row.ID)
			return nil
		}
		i := s.Index(row.ID)
		if i < 0 {
			return nil
		}
		msg := &s.Messages[i]
		msg.Content = row.Content
		msg.UpdatedAt = row.UpdatedAt
		msg.IsEdited = row.IsEdited
		msg.DeletedAt = nil
	}
	return nil
}

func (s *State) insertLive(row types.MessageRow) []Effect {
	msg := types.Message{
		MessageRow:  row,
		Reactions:   []types.Reaction{},
		Attachments: []types.Attachment{},
	}
	if !s.insertSorted(msg) {
		return nil
	}
	return []Effect{HydrateAuthor{UserID: row.UserID}}
}

func (s *State) applyReply(row types.MessageRow, at time.Time) []Effect {
	i := s.Index(*row.ParentID)
	if i < 0 {
		return nil
	}
	parent := &s.Messages[i]
	for _, preview := range parent.Replies {
		if preview.ID == row.ID {
			return nil
		}
	}
	if !s.countReply(parent.ID, row.ID) {
		return nil
	}

	if parent.Thread == nil {
		parent.Thread = &types.ThreadSummary{ParentMessageID: parent.ID}
	}
	parent.Thread.ReplyCount++
	last := row.CreatedAt
	parent.Thread.LastReplyAt = &last

	parent.Replies = append(parent.Replies, types.ReplyPreview{ID: row.ID, UserID: row.UserID, CreatedAt: row.CreatedAt})
	if extra := len(parent.Replies) - types.ReplyPreviewLimit; extra > 0 {
		parent.Replies = parent.Replies[extra:]
	}

	if row.UserID == s.UserID {
		return nil
	}
	until := at.Add(HighlightDuration)
	s.Highlights[parent.ID] = until
	return []Effect{
		ExpireHighlight{ParentID: parent.ID, Until: until},
		Notify{ParentID: parent.ID, Reply: row},
	}
}

// removeEntry drops id from the list. Losing the root of a thread view ends it.
func (s *State) removeEntry(id string) {
	if !s.remove(id) {
		return
	}
	delete(s.Highlights, id)
	if s.Scope.IsThread() && id == s.Scope.ThreadID {
		s.Messages = nil
		s.HasMore = false
		s.Phase = PhaseError
		s.fail(core.ErrThreadRootDeleted, "Thread closed")
	}
}

func (s *State) send(a SendRequested) []Effect {
	content := strings.TrimSpace(a.Content)
	if content == "" && len(a.Files) == 0 {
		s.fail(core.ErrEmptyMessage, "Cannot send")
		return nil
	}
	draft := Draft{Content: a.Content, Files: append(a.Files[:0:0], a.Files...)}
	s.Draft = Draft{}
	s.Err = nil
	s.Notice = ""
	if content == "" {
		content = AttachmentPlaceholder
	}

	input := types.NewMessage{ChannelID: s.Scope.ChannelID, UserID: s.UserID, Content: &content}
	if s.Scope.IsThread() {
		parentID := s.Scope.ThreadID
		input.ParentID = &parentID
	}
	effects := []Effect{CreateMessage{Draft: draft, Input: input}}
	return append(effects, s.stopTyping()...)
}

func (s *State) stopTyping() []Effect {
	if !s.SelfTyping {
		return nil
	}
	s.SelfTyping = false
	return []Effect{TrackTyping{Typing: false}}
}

func (s *State) refreshTyping(now time.Time) []Effect {
	tracker := s.tracker()
	s.Typing = tracker.Typing(s.UserID, now)
	if wait, ok := tracker.NextExpiry(s.UserID, now); ok {
		return []Effect{ScheduleTypingTick{Wait: wait}}
	}
	return nil
}

// IsThreadClosed reports whether err ended a thread view.
func IsThreadClosed(err error) bool {
	return errors.Is(err, core.ErrThreadRootDeleted)
}

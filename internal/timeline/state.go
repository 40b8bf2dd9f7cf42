// Package timeline keeps a locally materialized, ordered view of a channel's
// or a thread's messages in step with the data platform.
package timeline

import (
	"sort"
	"time"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/presence"
	"github.com/adamavenir/threadline/internal/types"
)

const (
	// ReplyPageSize is the page size of thread replies.
	ReplyPageSize = 50
	// HighlightDuration is how long a thread stays highlighted after a
	// reply from someone else.
	HighlightDuration = 5 * time.Second
	// AttachmentPlaceholder is the content of a message sent with files only.
	AttachmentPlaceholder = "📎 Attachment"
)

// Scope selects the messages a view materializes. An empty ThreadID means the
// root messages of the channel.
type Scope struct {
	ChannelID string
	ThreadID  string
}

func (s Scope) IsThread() bool { return s.ThreadID != "" }

// Phase is the load lifecycle of a view.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseLoadingMore
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseLoadingMore:
		return "loading-more"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Draft is unsent input. A failed send puts it back.
type Draft struct {
	Content string
	Files   []attach.File
}

func (d Draft) Empty() bool { return d.Content == "" && len(d.Files) == 0 }

// State is the complete view state. Snapshots handed out by the engine are
// deep copies.
type State struct {
	Scope    Scope
	UserID   string
	Username string
	PageSize int
	Phase    Phase

	// Messages is sorted ascending by created_at with unique ids.
	Messages []types.Message
	Cursor   *time.Time
	HasMore  bool

	// Highlights maps a thread root id to the end of its highlight window.
	Highlights map[string]time.Time
	Typing     []string
	SelfTyping bool

	Draft Draft
	// DraftSeq increments whenever Draft is restored after a failed send.
	DraftSeq int

	Err    error
	Notice string

	// Prepended counts the messages older pages have added since Open. It
	// only grows, so a view that misses a coalesced snapshot still sees the
	// prepend by comparing against the total it last rendered.
	Prepended int
	// Generation tags fetches of the current Open.
	Generation int

	presence *presence.Tracker
	// replies holds every reply id counted per thread root. Replies on a
	// message keeps only the newest few, so dedup cannot rely on it.
	replies map[string]map[string]struct{}
}

// NewState returns an idle state for scope.
func NewState(scope Scope, userID, username string, pageSize int) *State {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &State{
		Scope:      scope,
		UserID:     userID,
		Username:   username,
		PageSize:   pageSize,
		Highlights: map[string]time.Time{},
		presence:   presence.NewTracker(presence.TypingIdleTimeout),
	}
}

// Snapshot returns a deep copy without loop-private bookkeeping.
func (s *State) Snapshot() State {
	out := *s
	out.presence = nil
	out.replies = nil
	out.Messages = make([]types.Message, len(s.Messages))
	for i, msg := range s.Messages {
		out.Messages[i] = msg.Clone()
	}
	if s.Cursor != nil {
		cursor := *s.Cursor
		out.Cursor = &cursor
	}
	out.Highlights = make(map[string]time.Time, len(s.Highlights))
	for id, until := range s.Highlights {
		out.Highlights[id] = until
	}
	out.Typing = append([]string(nil), s.Typing...)
	out.Draft.Files = append([]attach.File(nil), s.Draft.Files...)
	return out
}

// Highlighted reports whether the thread rooted at id is highlighted at now.
func (s State) Highlighted(id string, now time.Time) bool {
	until, ok := s.Highlights[id]
	return ok && now.Before(until)
}

// Index returns the position of id in Messages or -1.
func (s *State) Index(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the loaded message with id.
func (s State) Find(id string) (types.Message, bool) {
	i := s.Index(id)
	if i < 0 {
		return types.Message{}, false
	}
	return s.Messages[i], true
}

// insertSorted places msg after every message created at or before it. An
// existing entry with the same id is left alone; inserted reports whether
// msg was added.
func (s *State) insertSorted(msg types.Message) (inserted bool) {
	if s.Index(msg.ID) >= 0 {
		return false
	}
	pos := sort.Search(len(s.Messages), func(i int) bool {
		return s.Messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.Messages = append(s.Messages, types.Message{})
	copy(s.Messages[pos+1:], s.Messages[pos:])
	s.Messages[pos] = msg
	return true
}

// upsert replaces the entry with msg.ID or inserts msg in order.
func (s *State) upsert(msg types.Message) {
	if i := s.Index(msg.ID); i >= 0 {
		s.Messages[i] = msg
		return
	}
	s.insertSorted(msg)
}

func (s *State) remove(id string) bool {
	i := s.Index(id)
	if i < 0 {
		return false
	}
	s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
	return true
}

// rememberReplies marks the reply previews of loaded roots as counted.
func (s *State) rememberReplies(messages []types.Message) {
	for _, msg := range messages {
		for _, preview := range msg.Replies {
			s.countReply(msg.ID, preview.ID)
		}
	}
}

// countReply records replyID under parentID and reports whether it was new.
func (s *State) countReply(parentID, replyID string) bool {
	if s.replies == nil {
		s.replies = map[string]map[string]struct{}{}
	}
	seen, ok := s.replies[parentID]
	if !ok {
		seen = map[string]struct{}{}
		s.replies[parentID] = seen
	}
	if _, dup := seen[replyID]; dup {
		return false
	}
	seen[replyID] = struct{}{}
	return true
}

// advanceCursor moves the cursor to the oldest message of a fetched page.
func (s *State) advanceCursor(page []types.Message) {
	if len(page) == 0 {
		return
	}
	at := page[0].CreatedAt
	s.Cursor = &at
}

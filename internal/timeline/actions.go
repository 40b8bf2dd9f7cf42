package timeline

import (
	"time"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/types"
)

// Action is an input to Reduce.
type Action interface{ isAction() }

// OpenRequested starts a fresh load of the scope.
type OpenRequested struct{ Generation int }

// InitialLoaded carries the first page. In thread scope Root is the thread
// root and Messages its replies.
type InitialLoaded struct {
	Generation int
	Root       *types.Message
	Messages   []types.Message
	Err        error
}

type LoadOlderRequested struct{}

type OlderLoaded struct {
	Generation int
	Messages   []types.Message
	Err        error
}

// ChangeReceived is one event from the change feed, stamped when it arrived.
type ChangeReceived struct {
	Event types.ChangeEvent
	At    time.Time
}

// ProfileLoaded hydrates messages by UserID. A nil Profile leaves authors
// unresolved.
type ProfileLoaded struct {
	UserID  string
	Profile *types.Profile
}

type SendRequested struct {
	Content string
	Files   []attach.File
}

type SendCompleted struct {
	Draft   Draft
	Message types.Message
	Err     error
}

// AttachmentsLinked reports the outcome of uploading a sent message's files.
type AttachmentsLinked struct {
	MessageID   string
	Attachments []types.Attachment
	Failed      []string
}

type EditRequested struct {
	ID      string
	Content string
}

type EditCompleted struct {
	ID      string
	Content string
	At      time.Time
	Err     error
}

type DeleteRequested struct{ ID string }

type DeleteCompleted struct {
	ID  string
	Err error
}

// ReactRequested adds Reaction locally before the insert is acknowledged.
type ReactRequested struct{ Reaction types.Reaction }

type HighlightExpired struct {
	ParentID string
	Until    time.Time
}

type PresenceReceived struct {
	Event types.PresenceEvent
	At    time.Time
}

// TypingTick re-evaluates who is typing at At.
type TypingTick struct{ At time.Time }

type TypingChanged struct{ Typing bool }

// TypingIdle fires when the local user stopped re-asserting typing.
type TypingIdle struct{}

type NoticeDismissed struct{}

func (OpenRequested) isAction()      {}
func (InitialLoaded) isAction()      {}
func (LoadOlderRequested) isAction() {}
func (OlderLoaded) isAction()        {}
func (ChangeReceived) isAction()     {}
func (ProfileLoaded) isAction()      {}
func (SendRequested) isAction()      {}
func (SendCompleted) isAction()      {}
func (AttachmentsLinked) isAction()  {}
func (EditRequested) isAction()      {}
func (EditCompleted) isAction()      {}
func (DeleteRequested) isAction()    {}
func (DeleteCompleted) isAction()    {}
func (ReactRequested) isAction()     {}
func (HighlightExpired) isAction()   {}
func (PresenceReceived) isAction()   {}
func (TypingTick) isAction()         {}
func (TypingChanged) isAction()      {}
func (TypingIdle) isAction()         {}
func (NoticeDismissed) isAction()    {}

// Effect is follow-up work requested by Reduce. The engine runs it and feeds
// any result back as an Action.
type Effect interface{ isEffect() }

type FetchInitial struct {
	Generation int
	Scope      Scope
	Limit      int
}

type FetchOlder struct {
	Generation int
	Scope      Scope
	Before     time.Time
	Limit      int
}

type HydrateAuthor struct{ UserID string }

type CreateMessage struct {
	Draft Draft
	Input types.NewMessage
}

type UploadAttachments struct {
	MessageID string
	Files     []attach.File
}

type UpdateMessage struct {
	ID      string
	Content string
}

type DeleteMessage struct{ ID string }

type InsertReaction struct{ Reaction types.Reaction }

// ExpireHighlight schedules HighlightExpired at Until.
type ExpireHighlight struct {
	ParentID string
	Until    time.Time
}

// ScheduleTypingTick schedules a TypingTick after Wait.
type ScheduleTypingTick struct{ Wait time.Duration }

// TrackTyping publishes the local typing flag on the presence channel.
type TrackTyping struct{ Typing bool }

// Notify raises a desktop notification for a reply from someone else.
type Notify struct {
	ParentID string
	Reply    types.MessageRow
}

func (FetchInitial) isEffect()       {}
func (FetchOlder) isEffect()         {}
func (HydrateAuthor) isEffect()      {}
func (CreateMessage) isEffect()      {}
func (UploadAttachments) isEffect()  {}
func (UpdateMessage) isEffect()      {}
func (DeleteMessage) isEffect()      {}
func (InsertReaction) isEffect()     {}
func (ExpireHighlight) isEffect()    {}
func (ScheduleTypingTick) isEffect() {}
func (TrackTyping) isEffect()        {}
func (Notify) isEffect()             {}

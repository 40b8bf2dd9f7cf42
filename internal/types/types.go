package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownUsername is rendered when an author profile cannot be resolved.
const UnknownUsername = "Unknown user"

// ReplyPreviewLimit bounds the reply avatars carried on a thread root.
const ReplyPreviewLimit = 3

// ChannelType distinguishes open channels from invite-only ones.
type ChannelType string

const (
	ChannelTypePublic  ChannelType = "public"
	ChannelTypePrivate ChannelType = "private"
)

// Profile is the public identity of a user.
type Profile struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	FullName  *string    `json:"full_name,omitempty"`
	AvatarURL *string    `json:"avatar_url,omitempty"`
	Status    *string    `json:"status,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// DisplayName returns the username, or UnknownUsername for a nil profile.
func (p *Profile) DisplayName() string {
	if p == nil || p.Username == "" {
		return UnknownUsername
	}
	return p.Username
}

// ThreadSummary is the denormalized thread metadata of a root message.
type ThreadSummary struct {
	ParentMessageID  string     `json:"parent_message_id"`
	ReplyCount       int        `json:"reply_count"`
	LastReplyAt      *time.Time `json:"last_reply_at,omitempty"`
	ParticipantCount int        `json:"participant_count"`
}

// ReplyPreview is a thin view of a recent reply, used for thread avatars.
type ReplyPreview struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Reaction is a single (message, user, emoji) row.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup aggregates reaction rows sharing an emoji.
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// Attachment is a file linked to a message.
type Attachment struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	FileURL    string    `json:"file_url"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// MessageRow holds the persisted columns of a message without joins.
// Change events carry rows in this shape.
type MessageRow struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channel_id"`
	ParentID  *string    `json:"parent_id,omitempty"`
	UserID    string     `json:"user_id"`
	Content   *string    `json:"content,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	IsEdited  bool       `json:"is_edited"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsReply reports whether the row belongs to a thread.
func (r MessageRow) IsReply() bool {
	return r.ParentID != nil && *r.ParentID != ""
}

// Message is a hydrated message as rendered in a channel or thread.
type Message struct {
	MessageRow
	Author      *Profile       `json:"author,omitempty"`
	Thread      *ThreadSummary `json:"thread,omitempty"`
	Reactions   []Reaction     `json:"reactions"`
	Attachments []Attachment   `json:"attachments"`
	Replies     []ReplyPreview `json:"replies,omitempty"`
}

// Text returns the content or an empty string for attachment-only messages.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Clone returns a copy whose slices and pointers are not shared with m.
func (m Message) Clone() Message {
	out := m
	out.ParentID = cloneString(m.ParentID)
	out.Content = cloneString(m.Content)
	out.UpdatedAt = cloneTime(m.UpdatedAt)
	out.DeletedAt = cloneTime(m.DeletedAt)
	if m.Author != nil {
		author := *m.Author
		out.Author = &author
	}
	if m.Thread != nil {
		thread := *m.Thread
		thread.LastReplyAt = cloneTime(m.Thread.LastReplyAt)
		out.Thread = &thread
	}
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.Replies = append([]ReplyPreview(nil), m.Replies...)
	return out
}

// NewMessage is the input to a message insert.
type NewMessage struct {
	ChannelID string
	UserID    string
	Content   *string
	ParentID  *string
}

// Channel is a conversation inside a workspace.
type Channel struct {
	ID          string      `json:"id"`
	WorkspaceID string      `json:"workspace_id"`
	Name        string      `json:"name"`
	Type        ChannelType `json:"type"`
	Topic       *string     `json:"topic,omitempty"`
	Description *string     `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ChannelMember is a membership row joined with its profile.
type ChannelMember struct {
	ChannelID  string     `json:"channel_id"`
	UserID     string     `json:"user_id"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	Profile    *Profile   `json:"profile,omitempty"`
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

// ChannelMessage is a message listed outside its channel view, as in search
// results and thread listings.
type ChannelMessage struct {
	Message
	ChannelName string `json:"channel_name"`
}

// WorkspaceRole is a user's role within a workspace.
type WorkspaceRole string

const (
	RoleOwner  WorkspaceRole = "owner"
	RoleAdmin  WorkspaceRole = "admin"
	RoleMember WorkspaceRole = "member"
	RoleGuest  WorkspaceRole = "guest"
)

// Workspace groups channels and the users who may see them. Role is the
// listing user's role and is empty outside ListWorkspaces.
type Workspace struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Slug      string        `json:"slug"`
	OwnerID   string        `json:"owner_id"`
	CreatedAt time.Time     `json:"created_at"`
	Role      WorkspaceRole `json:"role,omitempty"`
}

// Invitation is a shareable code that admits users to a workspace.
type Invitation struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Code        string     `json:"code"`
	CreatedBy   string     `json:"created_by"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxUses     *int       `json:"max_uses,omitempty"`
	UsedCount   int        `json:"used_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Redeemable reports whether the code can still admit a user at now.
func (i Invitation) Redeemable(now time.Time) bool {
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		return false
	}
	return i.MaxUses == nil || i.UsedCount < *i.MaxUses
}

// User presence statuses a profile may carry.
const (
	StatusActive  = "active"
	StatusAway    = "away"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

// ValidStatus reports whether status is one of the profile statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusAway, StatusDND, StatusOffline:
		return true
	}
	return false
}

// ProfileUpdate names the profile fields to change. Nil fields are kept; an
// empty FullName or Status clears the field.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// Validate rejects a blank username or an unknown status.
func (u ProfileUpdate) Validate() error {
	if u.Username != nil && strings.TrimSpace(*u.Username) == "" {
		return errors.New("username cannot be empty")
	}
	if u.Status != nil && *u.Status != "" && !ValidStatus(*u.Status) {
		return fmt.Errorf("unknown status %q (want active, away, dnd or offline)", *u.Status)
	}
	return nil
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.FullName == nil && u.Status == nil
}

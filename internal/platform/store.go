// Package platform defines the data platform boundary and wires a Session for
// the configured backend.
package platform

import (
	"context"
	"time"

	"github.com/adamavenir/threadline/internal/types"
)

// Store is the query and write API of a data platform. Fetches return
// messages in ascending created_at order.
type Store interface {
	FetchRootMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]types.Message, error)
	FetchReplies(ctx context.Context, parentID string, before *time.Time, limit int) ([]types.Message, error)
	GetMessage(ctx context.Context, id string) (*types.Message, error)

	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
	UpsertProfile(ctx context.Context, profile types.Profile) error
	// FindProfile resolves a user by id or username.
	FindProfile(ctx context.Context, ref string) (*types.Profile, error)
	UpdateProfile(ctx context.Context, userID string, update types.ProfileUpdate) (*types.Profile, error)

	InsertMessage(ctx context.Context, input types.NewMessage) (types.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error
	SoftDeleteMessage(ctx context.Context, id string, at time.Time) error
	InsertReaction(ctx context.Context, reaction types.Reaction) (types.Reaction, error)
	InsertAttachment(ctx context.Context, attachment types.Attachment) (types.Attachment, error)

	CreateChannel(ctx context.Context, channel types.Channel) (types.Channel, error)
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	FindChannel(ctx context.Context, workspaceID, ref string) (*types.Channel, error)
	ListChannels(ctx context.Context, workspaceID, userID string) ([]types.Channel, error)
	JoinChannel(ctx context.Context, channelID, userID string) error
	ListMembers(ctx context.Context, channelID string) ([]types.ChannelMember, error)

	// CreateWorkspace inserts a workspace and makes its owner a member.
	CreateWorkspace(ctx context.Context, workspace types.Workspace) (types.Workspace, error)
	ListWorkspaces(ctx context.Context, userID string) ([]types.Workspace, error)
	AddWorkspaceMember(ctx context.Context, workspaceID, userID string, role types.WorkspaceRole) error
	CreateInvitation(ctx context.Context, invitation types.Invitation) (types.Invitation, error)
	ListInvitations(ctx context.Context, workspaceID string) ([]types.Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
	// RedeemInvitation spends one use of code and adds userID to its
	// workspace as a member.
	RedeemInvitation(ctx context.Context, code, userID string) (types.Workspace, error)

	SearchMessages(ctx context.Context, workspaceID, query string, limit int) ([]types.ChannelMessage, error)
	ListThreads(ctx context.Context, workspaceID string, limit int) ([]types.ChannelMessage, error)
}

// Metrics receives engine counters. A nil Metrics on a Session is replaced
// with NopMetrics.
type Metrics interface {
	EventApplied(kind string)
	DuplicateDropped()
	FetchObserved(kind string, elapsed time.Duration)
	SendFailed()
}

type NopMetrics struct{}

func (NopMetrics) EventApplied(string)                 {}
func (NopMetrics) DuplicateDropped()                   {}
func (NopMetrics) FetchObserved(string, time.Duration) {}
func (NopMetrics) SendFailed()                         {}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

const channelColumns = `c.id, c.workspace_id, c.name, c.type, c.topic, c.description, c.created_at`

func scanChannel(row rowScanner) (types.Channel, error) {
	var (
		channel            types.Channel
		channelType        string
		topic, description sql.NullString
		createdAt          int64
	)
	if err := row.Scan(&channel.ID, &channel.WorkspaceID, &channel.Name, &channelType, &topic, &description, &createdAt); err != nil {
		return types.Channel{}, err
	}
	channel.Type = types.ChannelType(channelType)
	channel.Topic = nullStringPtr(topic)
	channel.Description = nullStringPtr(description)
	channel.CreatedAt = fromMillis(createdAt)
	return channel, nil
}

// CreateChannel inserts a channel, filling id, type and created_at when unset.
func (s *Store) CreateChannel(ctx context.Context, channel types.Channel) (types.Channel, error) {
	channel.Name = strings.TrimPrefix(strings.TrimSpace(channel.Name), "#")
	if channel.Name == "" {
		return types.Channel{}, fmt.Errorf("channel name is required")
	}
	if channel.ID == "" {
		channel.ID = core.NewID()
	}
	if channel.Type == "" {
		channel.Type = types.ChannelTypePublic
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = s.timestamp()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO channels (id, workspace_id, name, type, topic, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		channel.ID, channel.WorkspaceID, channel.Name, string(channel.Type),
		stringOrNil(channel.Topic), stringOrNil(channel.Description), toMillis(channel.CreatedAt),
	)
	if err != nil {
		return types.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	channel.CreatedAt = fromMillis(toMillis(channel.CreatedAt))
	return channel, nil
}

// GetChannel returns a channel by id.
func (s *Store) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels c WHERE c.id = ?`
	channel, err := scanChannel(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &channel, nil
}

// FindChannel resolves a channel by id or by name within a workspace.
func (s *Store) FindChannel(ctx context.Context, workspaceID, ref string) (*types.Channel, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	query := `SELECT ` + channelColumns + ` FROM channels c
WHERE c.id = ? OR (c.workspace_id = ? AND LOWER(c.name) = LOWER(?))
ORDER BY CASE WHEN c.id = ? THEN 0 ELSE 1 END LIMIT 1`
	channel, err := scanChannel(s.db.QueryRowContext(ctx, s.rebind(query), ref, workspaceID, ref, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel %s: %w", ref, core.ErrNotFound)
		}
		return nil, err
	}
	return &channel, nil
}

// ListChannels returns the public channels of a workspace plus the private
// channels userID belongs to, ordered by name.
func (s *Store) ListChannels(ctx context.Context, workspaceID, userID string) ([]types.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels c
WHERE c.workspace_id = ?
  AND (c.type = 'public' OR EXISTS (
    SELECT 1 FROM channel_members cm WHERE cm.channel_id = c.id AND cm.user_id = ?
  ))
ORDER BY c.name ASC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := []types.Channel{}
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// JoinChannel adds userID to a channel. Joining twice is a no-op.
func (s *Store) JoinChannel(ctx context.Context, channelID, userID string) error {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO channel_members (channel_id, user_id, joined_at)
VALUES (?, ?, ?)
ON CONFLICT (channel_id, user_id) DO NOTHING`), channelID, userID, toMillis(s.timestamp()))
	if err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	return nil
}

// ListMembers returns channel members with their profiles, in join order.
func (s *Store) ListMembers(ctx context.Context, channelID string) ([]types.ChannelMember, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT cm.channel_id, cm.user_id, cm.joined_at, cm.last_read_at,
  p.id, p.username, p.full_name, p.avatar_url, p.status
FROM channel_members cm
LEFT JOIN profiles p ON p.id = cm.user_id
WHERE cm.channel_id = ?
ORDER BY cm.joined_at ASC, cm.user_id ASC`), channelID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []types.ChannelMember{}
	for rows.Next() {
		var (
			member              types.ChannelMember
			joinedAt            int64
			lastReadAt          sql.NullInt64
			profileID, username sql.NullString
			fullName, avatarURL sql.NullString
			status              sql.NullString
		)
		if err := rows.Scan(&member.ChannelID, &member.UserID, &joinedAt, &lastReadAt,
			&profileID, &username, &fullName, &avatarURL, &status); err != nil {
			return nil, err
		}
		member.JoinedAt = fromMillis(joinedAt)
		member.LastReadAt = nullTimePtr(lastReadAt)
		if profileID.Valid {
			member.Profile = &types.Profile{
				ID:        profileID.String,
				Username:  username.String,
				FullName:  nullStringPtr(fullName),
				AvatarURL: nullStringPtr(avatarURL),
				Status:    nullStringPtr(status),
			}
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

// FetchRootMessages returns up to limit visible root messages of a channel
// older than before (all when nil), newest page first, in ascending order.
func (s *Store) FetchRootMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]types.Message, error) {
	query := `SELECT ` + messageColumns + ` ` + messageJoins + `
WHERE m.channel_id = ? AND m.parent_id IS NULL AND m.deleted_at IS NULL`
	args := []any{channelID}
	if before != nil {
		query += " AND m.created_at < ?"
		args = append(args, toMillis(*before))
	}
	query += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	messages, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch root messages: %w", err)
	}
	reverseMessages(messages)
	if err := s.hydrate(ctx, messages, true); err != nil {
		return nil, err
	}
	return messages, nil
}

// FetchReplies returns up to limit visible replies of a root older than
// before, in ascending order.
func (s *Store) FetchReplies(ctx context.Context, parentID string, before *time.Time, limit int) ([]types.Message, error) {
	query := `SELECT ` + messageColumns + ` ` + messageJoins + `
WHERE m.parent_id = ? AND m.deleted_at IS NULL`
	args := []any{parentID}
	if before != nil {
		query += " AND m.created_at < ?"
		args = append(args, toMillis(*before))
	}
	query += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	messages, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch replies: %w", err)
	}
	reverseMessages(messages)
	if err := s.hydrate(ctx, messages, false); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage returns a hydrated message, including soft-deleted ones.
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	query := `SELECT ` + messageColumns + ` ` + messageJoins + ` WHERE m.id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	messages := []types.Message{msg}
	if err := s.hydrate(ctx, messages, msg.ParentID == nil); err != nil {
		return nil, err
	}
	return &messages[0], nil
}

// InsertMessage creates a message and returns it hydrated with its author.
func (s *Store) InsertMessage(ctx context.Context, input types.NewMessage) (types.Message, error) {
	if input.ParentID != nil {
		parent, err := s.getRow(ctx, *input.ParentID)
		if err != nil {
			return types.Message{}, err
		}
		if parent.IsReply() {
			return types.Message{}, core.ErrNestedReply
		}
		if parent.ChannelID != input.ChannelID {
			return types.Message{}, fmt.Errorf("parent %s belongs to another channel", parent.ID)
		}
	}

	id := core.NewID()
	createdAt := s.timestamp()
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO messages (id, channel_id, parent_id, user_id, content, created_at, is_edited)
VALUES (?, ?, ?, ?, ?, ?, 0)`),
		id, input.ChannelID, stringOrNil(input.ParentID), input.UserID, stringOrNil(input.Content), toMillis(createdAt),
	)
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}

	created, err := s.GetMessage(ctx, id)
	if err != nil {
		return types.Message{}, err
	}
	return *created, nil
}

// UpdateMessageContent replaces the content of a live message and marks it edited.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE messages SET content = ?, is_edited = 1, updated_at = ?
WHERE id = ? AND deleted_at IS NULL`), content, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireAffected(result, id)
}

// SoftDeleteMessage stamps deleted_at on a live message.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE messages SET deleted_at = ?, updated_at = ?
WHERE id = ? AND deleted_at IS NULL`), toMillis(at), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(result, id)
}

func (s *Store) getRow(ctx context.Context, id string) (types.MessageRow, error) {
	query := `SELECT ` + rowColumns + ` FROM messages m WHERE m.id = ? AND m.deleted_at IS NULL`
	row, err := scanRow(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MessageRow{}, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
		}
		return types.MessageRow{}, err
	}
	return row, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// hydrate attaches reactions, attachments and (for roots) reply previews.
func (s *Store) hydrate(ctx context.Context, messages []types.Message, withReplies bool) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	index := make(map[string]int, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
		index[msg.ID] = i
	}

	reactions, err := s.reactionsFor(ctx, ids)
	if err != nil {
		return err
	}
	for _, reaction := range reactions {
		i := index[reaction.MessageID]
		messages[i].Reactions = append(messages[i].Reactions, reaction)
	}

	attachments, err := s.attachmentsFor(ctx, ids)
	if err != nil {
		return err
	}
	for _, attachment := range attachments {
		i := index[attachment.MessageID]
		messages[i].Attachments = append(messages[i].Attachments, attachment)
	}

	if !withReplies {
		return nil
	}
	previews, err := s.replyPreviewsFor(ctx, ids)
	if err != nil {
		return err
	}
	for parentID, replies := range previews {
		messages[index[parentID]].Replies = replies
	}
	return nil
}

// replyPreviewsFor returns the newest replies per parent, oldest first,
// bounded by types.ReplyPreviewLimit.
func (s *Store) replyPreviewsFor(ctx context.Context, parentIDs []string) (map[string][]types.ReplyPreview, error) {
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = id
	}
	query := `SELECT r.id, r.parent_id, r.user_id, p.avatar_url, r.created_at
FROM messages r
LEFT JOIN profiles p ON p.id = r.user_id
WHERE r.parent_id IN (` + placeholders(len(parentIDs)) + `) AND r.deleted_at IS NULL
ORDER BY r.created_at DESC, r.id DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("reply previews: %w", err)
	}
	defer rows.Close()

	out := map[string][]types.ReplyPreview{}
	for rows.Next() {
		var (
			preview   types.ReplyPreview
			parentID  string
			avatarURL sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&preview.ID, &parentID, &preview.UserID, &avatarURL, &createdAt); err != nil {
			return nil, err
		}
		if len(out[parentID]) >= types.ReplyPreviewLimit {
			continue
		}
		preview.AvatarURL = nullStringPtr(avatarURL)
		preview.CreatedAt = fromMillis(createdAt)
		out[parentID] = append(out[parentID], preview)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for parentID, previews := range out {
		for i, j := 0, len(previews)-1; i < j; i, j = i+1, j-1 {
			previews[i], previews[j] = previews[j], previews[i]
		}
		out[parentID] = previews
	}
	return out, nil
}

// SearchMessages finds visible root messages whose content contains query,
// across the channels of a workspace, newest first.
func (s *Store) SearchMessages(ctx context.Context, workspaceID, query string, limit int) ([]types.ChannelMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.ChannelMessage{}, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	sqlQuery := `SELECT ` + messageColumns + `, c.name ` + messageJoins + `
JOIN channels c ON c.id = m.channel_id
WHERE c.workspace_id = ? AND m.parent_id IS NULL AND m.deleted_at IS NULL
  AND LOWER(m.content) LIKE ? ESCAPE '\'
ORDER BY m.created_at DESC, m.id DESC LIMIT ?`

	results, err := s.queryChannelMessages(ctx, sqlQuery, workspaceID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return results, nil
}

// ListThreads returns root messages with live replies in a workspace, most
// recently active first.
func (s *Store) ListThreads(ctx context.Context, workspaceID string, limit int) ([]types.ChannelMessage, error) {
	query := `SELECT ` + messageColumns + `, c.name ` + messageJoins + `
JOIN channels c ON c.id = m.channel_id
WHERE c.workspace_id = ? AND m.parent_id IS NULL AND m.deleted_at IS NULL AND t.reply_count > 0
ORDER BY t.last_reply_at DESC, m.id DESC LIMIT ?`

	results, err := s.queryChannelMessages(ctx, query, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return results, nil
}

func (s *Store) queryChannelMessages(ctx context.Context, query string, args ...any) ([]types.ChannelMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []types.ChannelMessage{}
	for rows.Next() {
		var channelName string
		msg, err := scanMessage(rows, &channelName)
		if err != nil {
			return nil, err
		}
		results = append(results, types.ChannelMessage{Message: msg, ChannelName: channelName})
	}
	return results, rows.Err()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func requireAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return nil
}

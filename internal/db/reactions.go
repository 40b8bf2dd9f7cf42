package db

import (
	"context"
	"fmt"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

// InsertReaction stores a reaction row. Identical (user, emoji) pairs are
// allowed; each call adds a row.
func (s *Store) InsertReaction(ctx context.Context, reaction types.Reaction) (types.Reaction, error) {
	if reaction.ID == "" {
		reaction.ID = core.NewID()
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = s.timestamp()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO reactions (id, message_id, user_id, emoji, created_at)
VALUES (?, ?, ?, ?, ?)`),
		reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji, toMillis(reaction.CreatedAt),
	)
	if err != nil {
		return types.Reaction{}, fmt.Errorf("insert reaction: %w", err)
	}
	reaction.CreatedAt = fromMillis(toMillis(reaction.CreatedAt))
	return reaction, nil
}

// InsertAttachment links an uploaded file to a message.
func (s *Store) InsertAttachment(ctx context.Context, attachment types.Attachment) (types.Attachment, error) {
	if attachment.ID == "" {
		attachment.ID = core.NewID()
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = s.timestamp()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO attachments (id, message_id, user_id, file_url, file_name, file_size, mime_type, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		attachment.ID, attachment.MessageID, attachment.UserID, attachment.FileURL, attachment.FileName,
		attachment.FileSize, attachment.MimeType, toMillis(attachment.UploadedAt),
	)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	attachment.UploadedAt = fromMillis(toMillis(attachment.UploadedAt))
	return attachment, nil
}

func (s *Store) reactionsFor(ctx context.Context, messageIDs []string) ([]types.Reaction, error) {
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	query := `SELECT id, message_id, user_id, emoji, created_at
FROM reactions
WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	defer rows.Close()

	var reactions []types.Reaction
	for rows.Next() {
		var reaction types.Reaction
		var createdAt int64
		if err := rows.Scan(&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.Emoji, &createdAt); err != nil {
			return nil, err
		}
		reaction.CreatedAt = fromMillis(createdAt)
		reactions = append(reactions, reaction)
	}
	return reactions, rows.Err()
}

func (s *Store) attachmentsFor(ctx context.Context, messageIDs []string) ([]types.Attachment, error) {
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	query := `SELECT id, message_id, user_id, file_url, file_name, file_size, mime_type, uploaded_at
FROM attachments
WHERE message_id IN (` + placeholders(len(messageIDs)) + `)
ORDER BY uploaded_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	var attachments []types.Attachment
	for rows.Next() {
		var attachment types.Attachment
		var uploadedAt int64
		if err := rows.Scan(
			&attachment.ID, &attachment.MessageID, &attachment.UserID, &attachment.FileURL,
			&attachment.FileName, &attachment.FileSize, &attachment.MimeType, &uploadedAt,
		); err != nil {
			return nil, err
		}
		attachment.UploadedAt = fromMillis(uploadedAt)
		attachments = append(attachments, attachment)
	}
	return attachments, rows.Err()
}

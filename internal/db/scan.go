package db

import (
	"database/sql"
	"time"

	"github.com/adamavenir/threadline/internal/types"
)

const messageColumns = `m.id, m.channel_id, m.parent_id, m.user_id, m.content, m.created_at, m.updated_at,
  m.is_edited, m.deleted_at,
  p.id, p.username, p.full_name, p.avatar_url, p.status,
  t.reply_count, t.last_reply_at, t.participant_count`

const messageJoins = `FROM messages m
LEFT JOIN profiles p ON p.id = m.user_id
LEFT JOIN threads t ON t.parent_message_id = m.id`

const rowColumns = `m.id, m.channel_id, m.parent_id, m.user_id, m.content, m.created_at, m.updated_at,
  m.is_edited, m.deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, extra ...any) (types.Message, error) {
	var (
		msg                 types.Message
		parentID, content   sql.NullString
		createdAt           int64
		updatedAt           sql.NullInt64
		deletedAt           sql.NullInt64
		isEdited            int
		profileID, username sql.NullString
		fullName, avatarURL sql.NullString
		status              sql.NullString
		replyCount          sql.NullInt64
		lastReplyAt         sql.NullInt64
		participantCount    sql.NullInt64
	)
	dest := []any{
		&msg.ID, &msg.ChannelID, &parentID, &msg.UserID, &content, &createdAt, &updatedAt,
		&isEdited, &deletedAt,
		&profileID, &username, &fullName, &avatarURL, &status,
		&replyCount, &lastReplyAt, &participantCount,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.Message{}, err
	}

	msg.ParentID = nullStringPtr(parentID)
	msg.Content = nullStringPtr(content)
	msg.CreatedAt = fromMillis(createdAt)
	msg.UpdatedAt = nullTimePtr(updatedAt)
	msg.IsEdited = isEdited != 0
	msg.DeletedAt = nullTimePtr(deletedAt)

	if profileID.Valid {
		msg.Author = &types.Profile{
			ID:        profileID.String,
			Username:  username.String,
			FullName:  nullStringPtr(fullName),
			AvatarURL: nullStringPtr(avatarURL),
			Status:    nullStringPtr(status),
		}
	}
	if replyCount.Valid {
		msg.Thread = &types.ThreadSummary{
			ParentMessageID:  msg.ID,
			ReplyCount:       int(replyCount.Int64),
			LastReplyAt:      nullTimePtr(lastReplyAt),
			ParticipantCount: int(participantCount.Int64),
		}
	}
	msg.Reactions = []types.Reaction{}
	msg.Attachments = []types.Attachment{}
	return msg, nil
}

func scanRow(row rowScanner, extra ...any) (types.MessageRow, error) {
	var (
		out               types.MessageRow
		parentID, content sql.NullString
		createdAt         int64
		updatedAt         sql.NullInt64
		deletedAt         sql.NullInt64
		isEdited          int
	)
	dest := append([]any{}, extra...)
	dest = append(dest, &out.ID, &out.ChannelID, &parentID, &out.UserID, &content, &createdAt, &updatedAt,
		&isEdited, &deletedAt)
	if err := row.Scan(dest...); err != nil {
		return types.MessageRow{}, err
	}
	out.ParentID = nullStringPtr(parentID)
	out.Content = nullStringPtr(content)
	out.CreatedAt = fromMillis(createdAt)
	out.UpdatedAt = nullTimePtr(updatedAt)
	out.IsEdited = isEdited != 0
	out.DeletedAt = nullTimePtr(deletedAt)
	return out, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullTimePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func stringOrNil(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func reverseMessages(messages []types.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

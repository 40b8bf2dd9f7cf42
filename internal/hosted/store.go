package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

const (
	rowSelect        = "id,channel_id,parent_id,user_id,content,created_at,updated_at,is_edited,deleted_at"
	profileSelect    = "id,username,full_name,avatar_url,status,deleted_at"
	threadSelect     = "parent_message_id,reply_count,last_reply_at,participant_count"
	reactionSelect   = "id,message_id,user_id,emoji,created_at"
	attachmentSelect = "id,message_id,user_id,file_url,file_name,file_size,mime_type,uploaded_at"
	channelSelect    = "id,workspace_id,name,type,topic,description,created_at"

	messageSelect = rowSelect +
		",author:profiles!user_id(" + profileSelect + ")" +
		",thread:threads(" + threadSelect + ")" +
		",reactions(" + reactionSelect + ")" +
		",attachments(" + attachmentSelect + ")" +
		",replies:messages!parent_id(id,user_id,created_at,deleted_at,author:profiles!user_id(avatar_url))"

	fkViolation     = "23503"
	uniqueViolation = "23505"
	raisedException = "P0001"
)

// Store implements the message store against the REST API.
type Store struct {
	client *Client
	now    func() time.Time
}

func NewStore(client *Client) *Store {
	return &Store{client: client, now: time.Now}
}

type remoteAvatar struct {
	AvatarURL *string `json:"avatar_url"`
}

type remoteReply struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	CreatedAt time.Time     `json:"created_at"`
	DeletedAt *time.Time    `json:"deleted_at"`
	Author    *remoteAvatar `json:"author"`
}

type remoteMessage struct {
	types.MessageRow
	Author      *types.Profile     `json:"author"`
	Thread      json.RawMessage    `json:"thread"`
	Reactions   []types.Reaction   `json:"reactions"`
	Attachments []types.Attachment `json:"attachments"`
	Replies     []remoteReply      `json:"replies"`
	Channel     *remoteChannelName `json:"channel"`
}

type remoteChannelName struct {
	Name string `json:"name"`
}

// toMessage converts an embedded response row. One-to-one embeds may come
// back as an object or a single-element array depending on the server.
func (r remoteMessage) toMessage() (types.Message, error) {
	msg := types.Message{
		MessageRow:  r.MessageRow,
		Author:      r.Author,
		Reactions:   r.Reactions,
		Attachments: r.Attachments,
	}
	if msg.Reactions == nil {
		msg.Reactions = []types.Reaction{}
	}
	if msg.Attachments == nil {
		msg.Attachments = []types.Attachment{}
	}
	thread, err := decodeThread(r.Thread)
	if err != nil {
		return types.Message{}, err
	}
	msg.Thread = thread
	msg.Replies = replyPreviews(r.Replies)
	return msg, nil
}

func decodeThread(raw json.RawMessage) (*types.ThreadSummary, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "[]" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []types.ThreadSummary
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode thread: %w", err)
		}
		return &list[0], nil
	}
	var thread types.ThreadSummary
	if err := json.Unmarshal(raw, &thread); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	return &thread, nil
}

// replyPreviews keeps the newest live replies, oldest first.
func replyPreviews(replies []remoteReply) []types.ReplyPreview {
	live := make([]remoteReply, 0, len(replies))
	for _, reply := range replies {
		if reply.DeletedAt == nil {
			live = append(live, reply)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	if len(live) > types.ReplyPreviewLimit {
		live = live[len(live)-types.ReplyPreviewLimit:]
	}
	out := make([]types.ReplyPreview, 0, len(live))
	for _, reply := range live {
		preview := types.ReplyPreview{ID: reply.ID, UserID: reply.UserID, CreatedAt: reply.CreatedAt}
		if reply.Author != nil {
			preview.AvatarURL = reply.Author.AvatarURL
		}
		out = append(out, preview)
	}
	return out
}

func convertMessages(rows []remoteMessage) ([]types.Message, error) {
	out := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func reverse(messages []types.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func messagePage(before *time.Time, limit int) url.Values {
	query := url.Values{}
	query.Set("select", messageSelect)
	query.Set("deleted_at", "is.null")
	if before != nil {
		query.Set("created_at", "lt."+stamp(*before))
	}
	query.Set("order", "created_at.desc,id.desc")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("replies.order", "created_at.desc")
	query.Set("replies.deleted_at", "is.null")
	query.Set("replies.limit", strconv.Itoa(types.ReplyPreviewLimit))
	return query
}

func (s *Store) fetchPage(ctx context.Context, op string, query url.Values) ([]types.Message, error) {
	var rows []remoteMessage
	if err := s.client.doJSON(ctx, http.MethodGet, "messages", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	messages, err := convertMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	reverse(messages)
	return messages, nil
}

func (s *Store) FetchRootMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]types.Message, error) {
	query := messagePage(before, limit)
	query.Set("channel_id", "eq."+channelID)
	query.Set("parent_id", "is.null")
	return s.fetchPage(ctx, "fetch root messages", query)
}

func (s *Store) FetchReplies(ctx context.Context, parentID string, before *time.Time, limit int) ([]types.Message, error) {
	query := messagePage(before, limit)
	query.Set("parent_id", "eq."+parentID)
	return s.fetchPage(ctx, "fetch replies", query)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	query := url.Values{}
	query.Set("select", messageSelect)
	query.Set("id", "eq."+id)
	query.Set("limit", "1")
	query.Set("replies.order", "created_at.desc")
	query.Set("replies.deleted_at", "is.null")
	query.Set("replies.limit", strconv.Itoa(types.ReplyPreviewLimit))
	var rows []remoteMessage
	if err := s.client.doJSON(ctx, http.MethodGet, "messages", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	msg, err := rows[0].toMessage()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	query := url.Values{}
	query.Set("select", profileSelect)
	query.Set("id", "eq."+userID)
	query.Set("limit", "1")
	var rows []types.Profile
	if err := s.client.doJSON(ctx, http.MethodGet, "profiles", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile types.Profile) error {
	body := map[string]any{
		"id":         profile.ID,
		"username":   profile.Username,
		"full_name":  profile.FullName,
		"avatar_url": profile.AvatarURL,
		"status":     profile.Status,
	}
	opts := requestOptions{
		query:  url.Values{"on_conflict": {"id"}},
		prefer: []string{"resolution=merge-duplicates", "return=minimal"},
		body:   body,
	}
	if err := s.client.doJSON(ctx, http.MethodPost, "profiles", opts, nil); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, input types.NewMessage) (types.Message, error) {
	if input.ParentID != nil {
		parent, err := s.GetMessage(ctx, *input.ParentID)
		if err != nil {
			return types.Message{}, fmt.Errorf("insert message: parent: %w", err)
		}
		if parent.IsReply() {
			return types.Message{}, core.ErrNestedReply
		}
		if parent.ChannelID != input.ChannelID {
			return types.Message{}, fmt.Errorf("insert message: parent %s is in another channel", parent.ID)
		}
	}
	body := map[string]any{
		"id":         core.NewID(),
		"channel_id": input.ChannelID,
		"user_id":    input.UserID,
		"content":    input.Content,
		"parent_id":  input.ParentID,
		"created_at": stamp(s.now()),
	}
	opts := requestOptions{
		query:  url.Values{"select": {messageSelect}},
		prefer: []string{"return=representation"},
		body:   body,
	}
	var rows []remoteMessage
	if err := s.client.doJSON(ctx, http.MethodPost, "messages", opts, &rows); err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if len(rows) == 0 {
		return types.Message{}, fmt.Errorf("insert message: empty response")
	}
	return rows[0].toMessage()
}

func (s *Store) patchMessage(ctx context.Context, op, id string, body map[string]any) error {
	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("deleted_at", "is.null")
	query.Set("select", "id")
	opts := requestOptions{query: query, prefer: []string{"return=representation"}, body: body}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := s.client.doJSON(ctx, http.MethodPatch, "messages", opts, &rows); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(rows) == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) error {
	return s.patchMessage(ctx, "update message", id, map[string]any{
		"content":    content,
		"is_edited":  true,
		"updated_at": stamp(at),
	})
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string, at time.Time) error {
	return s.patchMessage(ctx, "delete message", id, map[string]any{
		"deleted_at": stamp(at),
	})
}

func (s *Store) InsertReaction(ctx context.Context, reaction types.Reaction) (types.Reaction, error) {
	if reaction.ID == "" {
		reaction.ID = core.NewID()
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = s.now()
	}
	opts := requestOptions{
		query:  url.Values{"select": {reactionSelect}},
		prefer: []string{"return=representation"},
		body:   reaction,
	}
	var rows []types.Reaction
	if err := s.client.doJSON(ctx, http.MethodPost, "reactions", opts, &rows); err != nil {
		return types.Reaction{}, fmt.Errorf("insert reaction: %w", mapConstraint(err))
	}
	if len(rows) == 0 {
		return reaction, nil
	}
	return rows[0], nil
}

func (s *Store) InsertAttachment(ctx context.Context, attachment types.Attachment) (types.Attachment, error) {
	if attachment.ID == "" {
		attachment.ID = core.NewID()
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = s.now()
	}
	opts := requestOptions{
		query:  url.Values{"select": {attachmentSelect}},
		prefer: []string{"return=representation"},
		body:   attachment,
	}
	var rows []types.Attachment
	if err := s.client.doJSON(ctx, http.MethodPost, "attachments", opts, &rows); err != nil {
		return types.Attachment{}, fmt.Errorf("insert attachment: %w", mapConstraint(err))
	}
	if len(rows) == 0 {
		return attachment, nil
	}
	return rows[0], nil
}

func (s *Store) CreateChannel(ctx context.Context, channel types.Channel) (types.Channel, error) {
	if channel.ID == "" {
		channel.ID = core.NewID()
	}
	if channel.Type == "" {
		channel.Type = types.ChannelTypePublic
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = s.now()
	}
	opts := requestOptions{
		query:  url.Values{"select": {channelSelect}},
		prefer: []string{"return=representation"},
		body:   channel,
	}
	var rows []types.Channel
	if err := s.client.doJSON(ctx, http.MethodPost, "channels", opts, &rows); err != nil {
		return types.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	if len(rows) == 0 {
		return channel, nil
	}
	return rows[0], nil
}

func (s *Store) channels(ctx context.Context, query url.Values) ([]types.Channel, error) {
	query.Set("select", channelSelect)
	var rows []types.Channel
	if err := s.client.doJSON(ctx, http.MethodGet, "channels", requestOptions{query: query}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	rows, err := s.channels(ctx, url.Values{"id": {"eq." + id}, "limit": {"1"}})
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return &rows[0], nil
}

// FindChannel resolves ref as a channel id, then as a name ("#general" or
// "general") inside workspaceID.
func (s *Store) FindChannel(ctx context.Context, workspaceID, ref string) (*types.Channel, error) {
	ref = strings.TrimSpace(ref)
	if channel, err := s.GetChannel(ctx, ref); err == nil {
		return channel, nil
	} else if !errors.Is(err, core.ErrNotFound) && !isInvalidInput(err) {
		return nil, err
	}
	name := strings.TrimPrefix(ref, "#")
	query := url.Values{"name": {"ilike." + escapeLike(name)}, "limit": {"1"}}
	if workspaceID != "" {
		query.Set("workspace_id", "eq."+workspaceID)
	}
	rows, err := s.channels(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find channel: %w", err)
	}
	if len(rows) == 0 {
		return nil, core.ErrNotFound
	}
	return &rows[0], nil
}

// ListChannels returns public channels plus private channels userID belongs
// to, ordered by name.
func (s *Store) ListChannels(ctx context.Context, workspaceID, userID string) ([]types.Channel, error) {
	query := url.Values{"order": {"name.asc"}}
	if workspaceID != "" {
		query.Set("workspace_id", "eq."+workspaceID)
	}
	all, err := s.channels(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	memberQuery := url.Values{"select": {"channel_id"}, "user_id": {"eq." + userID}}
	var memberships []struct {
		ChannelID string `json:"channel_id"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, "channel_members", requestOptions{query: memberQuery}, &memberships); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	member := map[string]bool{}
	for _, row := range memberships {
		member[row.ChannelID] = true
	}

	out := make([]types.Channel, 0, len(all))
	for _, channel := range all {
		if channel.Type == types.ChannelTypePrivate && !member[channel.ID] {
			continue
		}
		out = append(out, channel)
	}
	return out, nil
}

func (s *Store) JoinChannel(ctx context.Context, channelID, userID string) error {
	body := map[string]any{
		"channel_id": channelID,
		"user_id":    userID,
		"joined_at":  stamp(s.now()),
	}
	opts := requestOptions{
		query:  url.Values{"on_conflict": {"channel_id,user_id"}},
		prefer: []string{"resolution=ignore-duplicates", "return=minimal"},
		body:   body,
	}
	if err := s.client.doJSON(ctx, http.MethodPost, "channel_members", opts, nil); err != nil {
		return fmt.Errorf("join channel: %w", mapConstraint(err))
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, channelID string) ([]types.ChannelMember, error) {
	query := url.Values{}
	query.Set("select", "channel_id,user_id,joined_at,last_read_at,profile:profiles("+profileSelect+")")
	query.Set("channel_id", "eq."+channelID)
	query.Set("order", "joined_at.asc")
	var rows []types.ChannelMember
	if err := s.client.doJSON(ctx, http.MethodGet, "channel_members", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return rows, nil
}

// SearchMessages finds visible root messages whose content contains query,
// newest first.
func (s *Store) SearchMessages(ctx context.Context, workspaceID, query string, limit int) ([]types.ChannelMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.ChannelMessage{}, nil
	}
	params := url.Values{}
	params.Set("select", messageSelect+",channel:channels!inner(name,workspace_id)")
	params.Set("content", "ilike.*"+escapeLike(query)+"*")
	params.Set("parent_id", "is.null")
	params.Set("deleted_at", "is.null")
	if workspaceID != "" {
		params.Set("channel.workspace_id", "eq."+workspaceID)
	}
	params.Set("order", "created_at.desc")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("replies.order", "created_at.desc")
	params.Set("replies.limit", strconv.Itoa(types.ReplyPreviewLimit))

	var rows []remoteMessage
	if err := s.client.doJSON(ctx, http.MethodGet, "messages", requestOptions{query: params}, &rows); err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return channelMessages(rows)
}

// ListThreads returns root messages with replies, most recently active first.
func (s *Store) ListThreads(ctx context.Context, workspaceID string, limit int) ([]types.ChannelMessage, error) {
	params := url.Values{}
	params.Set("select", threadSelect+",message:messages!inner("+messageSelect+",channel:channels!inner(name,workspace_id))")
	params.Set("reply_count", "gt.0")
	params.Set("message.deleted_at", "is.null")
	if workspaceID != "" {
		params.Set("message.channel.workspace_id", "eq."+workspaceID)
	}
	params.Set("order", "last_reply_at.desc")
	params.Set("limit", strconv.Itoa(limit))

	var rows []struct {
		types.ThreadSummary
		Message remoteMessage `json:"message"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, "threads", requestOptions{query: params}, &rows); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	out := make([]types.ChannelMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := row.Message.toMessage()
		if err != nil {
			return nil, err
		}
		summary := row.ThreadSummary
		msg.Thread = &summary
		entry := types.ChannelMessage{Message: msg}
		if row.Message.Channel != nil {
			entry.ChannelName = row.Message.Channel.Name
		}
		out = append(out, entry)
	}
	return out, nil
}

func channelMessages(rows []remoteMessage) ([]types.ChannelMessage, error) {
	out := make([]types.ChannelMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		entry := types.ChannelMessage{Message: msg}
		if row.Channel != nil {
			entry.ChannelName = row.Channel.Name
		}
		out = append(out, entry)
	}
	return out, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `\*`)
	return replacer.Replace(value)
}

func mapConstraint(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case fkViolation:
		return fmt.Errorf("%w: %s", core.ErrNotFound, apiErr.Message)
	case uniqueViolation:
		return fmt.Errorf("%w: %s", core.ErrConflict, apiErr.Message)
	}
	return err
}

func isInvalidInput(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest
}

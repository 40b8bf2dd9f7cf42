package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/presence"
	"github.com/adamavenir/threadline/internal/realtime"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/gorilla/websocket"
)

const (
	socketPath        = "/realtime/v1/websocket"
	heartbeatInterval = 25 * time.Second
	joinTimeout       = 10 * time.Second
	writeWait         = 10 * time.Second
	eventBuffer       = 64
)

// Realtime opens websocket channels for message changes and presence. Each
// subscription owns its own connection.
type Realtime struct {
	client    *Client
	dialer    *websocket.Dialer
	logger    *slog.Logger
	heartbeat time.Duration
}

func NewRealtime(client *Client, logger *slog.Logger) *Realtime {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	return &Realtime{
		client:    client,
		dialer:    websocket.DefaultDialer,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

type inboundFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type outboundFrame struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

func (r *Realtime) socketURL() (string, error) {
	parsed, err := url.Parse(r.client.baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + socketPath
	query := url.Values{}
	query.Set("vsn", "1.0.0")
	if r.client.apiKey != "" {
		query.Set("apikey", r.client.apiKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (r *Realtime) accessToken() string {
	if r.client.token != "" {
		return r.client.token
	}
	return r.client.apiKey
}

// socket is one joined topic on its own websocket connection.
type socket struct {
	conn    *websocket.Conn
	topic   string
	logger  *slog.Logger
	writeMu sync.Mutex
	ref     atomic.Int64
	pending []inboundFrame
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func (r *Realtime) join(ctx context.Context, topic string, payload map[string]any) (*socket, error) {
	endpoint, err := r.socketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := r.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	s := &socket{
		conn:   conn,
		topic:  topic,
		logger: r.logger,
		stop:   make(chan struct{}),
	}
	payload["access_token"] = r.accessToken()
	joinRef, err := s.push(topic, "phx_join", payload)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}
	if err := s.awaitReply(joinRef); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}
	return s, nil
}

func (s *socket) push(topic, event string, payload any) (string, error) {
	ref := strconv.FormatInt(s.ref.Add(1), 10)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return "", err
	}
	return ref, s.conn.WriteJSON(outboundFrame{Topic: topic, Event: event, Payload: payload, Ref: ref})
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// awaitReply reads until the reply for ref arrives. Frames seen before it are
// kept for the read loop.
func (s *socket) awaitReply(ref string) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(joinTimeout)); err != nil {
		return err
	}
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		var frame inboundFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Event != "phx_reply" || frame.Ref == nil || *frame.Ref != ref {
			s.pending = append(s.pending, frame)
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(frame.Payload, &reply); err != nil {
			return err
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join rejected: %s %s", reply.Status, strings.TrimSpace(string(reply.Response)))
		}
		return nil
	}
}

// run starts the read and heartbeat loops. handle returns false to stop.
// done runs once after the read loop exits.
func (s *socket) run(heartbeat time.Duration, handle func(inboundFrame) bool, done func()) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer done()
		for _, frame := range s.pending {
			if !handle(frame) {
				return
			}
		}
		s.pending = nil
		for {
			var frame inboundFrame
			if err := s.conn.ReadJSON(&frame); err != nil {
				select {
				case <-s.stop:
				default:
					s.logger.Warn("realtime connection lost", "topic", s.topic, "error", err)
				}
				return
			}
			if frame.Event == "phx_error" || frame.Event == "phx_close" {
				s.logger.Warn("realtime channel closed by server", "topic", frame.Topic, "event", frame.Event)
				return
			}
			if !handle(frame) {
				return
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.push("phoenix", "heartbeat", map[string]any{}); err != nil {
					s.logger.Warn("realtime heartbeat failed", "topic", s.topic, "error", err)
					return
				}
			}
		}
	}()
}

func (s *socket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		_, _ = s.push(s.topic, "phx_leave", map[string]any{})
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

type changePayload struct {
	Data types.ChangeEvent `json:"data"`
}

// Subscribe joins the postgres_changes topic for channelID's messages.
func (r *Realtime) Subscribe(ctx context.Context, channelID string) (realtime.Subscription, error) {
	topic := "realtime:messages:" + channelID
	s, err := r.join(ctx, topic, map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{{
				"event":  "*",
				"schema": "public",
				"table":  "messages",
				"filter": "channel_id=eq." + channelID,
			}},
		},
	})
	if err != nil {
		return nil, err
	}

	sub := &changeSubscription{socket: s, events: make(chan types.ChangeEvent, eventBuffer)}
	var seq int64
	s.run(r.heartbeat, func(frame inboundFrame) bool {
		if frame.Event != "postgres_changes" {
			return true
		}
		var payload changePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			r.logger.Warn("dropping malformed change event", "topic", topic, "error", err)
			return true
		}
		event := payload.Data
		if event.Kind != types.ChangeInsert && event.Kind != types.ChangeUpdate {
			return true
		}
		seq++
		event.Seq = seq
		select {
		case sub.events <- event:
			return true
		case <-s.stop:
			return false
		}
	}, func() { close(sub.events) })

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-s.stop:
		}
	}()
	return sub, nil
}

type changeSubscription struct {
	*socket
	events chan types.ChangeEvent
}

func (c *changeSubscription) Events() <-chan types.ChangeEvent { return c.events }

type presenceMeta struct {
	types.PresenceState
	PhxRef string `json:"phx_ref"`
}

type presenceEntry struct {
	Metas []presenceMeta `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

func latestStates(entries map[string]presenceEntry) map[string]types.PresenceState {
	out := make(map[string]types.PresenceState, len(entries))
	for key, entry := range entries {
		if len(entry.Metas) == 0 {
			continue
		}
		state := entry.Metas[len(entry.Metas)-1].PresenceState
		if state.UserID == "" {
			state.UserID = key
		}
		out[key] = state
	}
	return out
}

// Join joins the presence topic for channelID keyed by userID.
func (r *Realtime) Join(ctx context.Context, channelID, userID string) (presence.Channel, error) {
	topic := "realtime:presence:" + channelID
	s, err := r.join(ctx, topic, map[string]any{
		"config": map[string]any{
			"presence": map[string]string{"key": userID},
		},
	})
	if err != nil {
		return nil, err
	}

	member := &presenceMember{socket: s, userID: userID, events: make(chan types.PresenceEvent, eventBuffer)}
	s.run(r.heartbeat, func(frame inboundFrame) bool {
		var events []types.PresenceEvent
		switch frame.Event {
		case "presence_state":
			var state map[string]presenceEntry
			if err := json.Unmarshal(frame.Payload, &state); err != nil {
				r.logger.Warn("dropping malformed presence state", "topic", topic, "error", err)
				return true
			}
			events = append(events, types.PresenceEvent{Kind: types.PresenceSync, Entries: latestStates(state)})
		case "presence_diff":
			var diff presenceDiff
			if err := json.Unmarshal(frame.Payload, &diff); err != nil {
				r.logger.Warn("dropping malformed presence diff", "topic", topic, "error", err)
				return true
			}
			// A re-track arrives as a leave and a join for the same key; only
			// the join is kept.
			leaves := latestStates(diff.Leaves)
			for key := range diff.Joins {
				delete(leaves, key)
			}
			if len(leaves) > 0 {
				events = append(events, types.PresenceEvent{Kind: types.PresenceLeave, Entries: leaves})
			}
			if joins := latestStates(diff.Joins); len(joins) > 0 {
				events = append(events, types.PresenceEvent{Kind: types.PresenceJoin, Entries: joins})
			}
		default:
			return true
		}
		for _, event := range events {
			select {
			case member.events <- event:
			case <-s.stop:
				return false
			}
		}
		return true
	}, func() { close(member.events) })

	go func() {
		select {
		case <-ctx.Done():
			_ = member.Close()
		case <-s.stop:
		}
	}()
	return member, nil
}

type presenceMember struct {
	*socket
	userID string
	events chan types.PresenceEvent
}

func (m *presenceMember) Events() <-chan types.PresenceEvent { return m.events }

func (m *presenceMember) Track(ctx context.Context, state types.PresenceState) error {
	state.UserID = m.userID
	if state.At.IsZero() {
		state.At = time.Now()
	}
	return m.send(ctx, "track", state)
}

func (m *presenceMember) Untrack(ctx context.Context) error {
	return m.send(ctx, "untrack", nil)
}

func (m *presenceMember) send(ctx context.Context, event string, state any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.stop:
		return errors.New("presence channel closed")
	default:
	}
	payload := map[string]any{"type": "presence", "event": event}
	if state != nil {
		payload["payload"] = state
	}
	if _, err := m.push(m.topic, "presence", payload); err != nil {
		return fmt.Errorf("presence %s: %w", event, err)
	}
	return nil
}

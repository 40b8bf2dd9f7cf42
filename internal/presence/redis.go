package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "threadline:presence:"
	defaultStaleAfter = 90 * time.Second
)

// Redis shares presence between processes through a hash per channel
// (current states) and a pub/sub topic (join/leave deltas).
type Redis struct {
	client     *redis.Client
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// OpenRedis connects to url (redis://...) and verifies the connection.
func OpenRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, logger), nil
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	return &Redis{
		client:     client,
		logger:     logger,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisEnvelope struct {
	Kind   types.PresenceEventKind `json:"kind"`
	UserID string                  `json:"user_id"`
	State  types.PresenceState     `json:"state"`
}

func stateKey(channelID string) string  { return redisKeyPrefix + channelID }
func eventTopic(channelID string) string { return redisKeyPrefix + channelID + ":events" }

func (r *Redis) Join(ctx context.Context, channelID, userID string) (Channel, error) {
	pubsub := r.client.Subscribe(ctx, eventTopic(channelID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	raw, err := r.client.HGetAll(ctx, stateKey(channelID)).Result()
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("load presence: %w", err)
	}
	snapshot := map[string]types.PresenceState{}
	now := r.now()
	for id, encoded := range raw {
		var state types.PresenceState
		if err := json.Unmarshal([]byte(encoded), &state); err != nil {
			r.logger.Warn("skipping malformed presence entry", "channel", channelID, "user", id, "error", err)
			continue
		}
		if now.Sub(state.At) > r.staleAfter {
			continue
		}
		snapshot[id] = state
	}

	member := &redisMember{
		service:   r,
		channelID: channelID,
		userID:    userID,
		pubsub:    pubsub,
		events:    make(chan types.PresenceEvent, memberBuffer),
		stop:      make(chan struct{}),
	}
	member.events <- types.PresenceEvent{Kind: types.PresenceSync, Entries: snapshot}

	member.wg.Add(2)
	go member.readLoop()
	go member.heartbeatLoop()
	return member, nil
}

type redisMember struct {
	service   *Redis
	channelID string
	userID    string
	pubsub    *redis.PubSub
	events    chan types.PresenceEvent
	stop      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	tracked *types.PresenceState
	closed  bool
}

func (m *redisMember) Events() <-chan types.PresenceEvent { return m.events }

func (m *redisMember) Track(ctx context.Context, state types.PresenceState) error {
	state.UserID = m.userID
	state.At = m.service.now()
	if err := m.store(ctx, state); err != nil {
		return err
	}
	m.mu.Lock()
	m.tracked = &state
	m.mu.Unlock()
	return m.publish(ctx, redisEnvelope{Kind: types.PresenceJoin, UserID: m.userID, State: state})
}

func (m *redisMember) Untrack(ctx context.Context) error {
	m.mu.Lock()
	tracked := m.tracked
	m.tracked = nil
	m.mu.Unlock()
	if tracked == nil {
		return nil
	}
	if err := m.service.client.HDel(ctx, stateKey(m.channelID), m.userID).Err(); err != nil {
		return fmt.Errorf("untrack presence: %w", err)
	}
	return m.publish(ctx, redisEnvelope{Kind: types.PresenceLeave, UserID: m.userID, State: *tracked})
}

func (m *redisMember) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	untrackErr := m.Untrack(ctx)

	close(m.stop)
	closeErr := m.pubsub.Close()
	m.wg.Wait()
	close(m.events)
	if untrackErr != nil {
		return untrackErr
	}
	return closeErr
}

func (m *redisMember) store(ctx context.Context, state types.PresenceState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := m.service.client.HSet(ctx, stateKey(m.channelID), m.userID, encoded).Err(); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	return nil
}

func (m *redisMember) publish(ctx context.Context, envelope redisEnvelope) error {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := m.service.client.Publish(ctx, eventTopic(m.channelID), encoded).Err(); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

func (m *redisMember) readLoop() {
	defer m.wg.Done()
	messages := m.pubsub.Channel()
	for {
		select {
		case <-m.stop:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var envelope redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				m.service.logger.Warn("dropping malformed presence event", "channel", m.channelID, "error", err)
				continue
			}
			event := types.PresenceEvent{
				Kind:    envelope.Kind,
				Entries: map[string]types.PresenceState{envelope.UserID: envelope.State},
			}
			select {
			case m.events <- event:
			case <-m.stop:
				return
			}
		}
	}
}

// heartbeatLoop refreshes the stored state so other members joining later do
// not treat it as stale.
func (m *redisMember) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.service.staleAfter / 3)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			tracked := m.tracked
			m.mu.Unlock()
			if tracked == nil {
				continue
			}
			state := *tracked
			state.At = m.service.now()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := m.store(ctx, state); err != nil {
				m.service.logger.Warn("presence heartbeat failed", "channel", m.channelID, "error", err)
			}
			cancel()
		}
	}
}

package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

// Subscription is a live stream of message changes for one channel.
type Subscription interface {
	Events() <-chan types.ChangeEvent
	Close() error
}

// Feed opens change subscriptions filtered by channel.
type Feed interface {
	Subscribe(ctx context.Context, channelID string) (Subscription, error)
}

const subscriberBuffer = 64

// Hub fans change events out to per-channel subscribers. Events reach each
// subscriber in publish order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSubscription]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	return &Hub{
		subs:   map[string]map[*hubSubscription]struct{}{},
		logger: logger,
	}
}

// Subscribe registers a subscriber for channelID. It is released by Close or
// when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, channelID string) (Subscription, error) {
	sub := &hubSubscription{
		hub:       h,
		channelID: channelID,
		events:    make(chan types.ChangeEvent, subscriberBuffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[channelID] == nil {
		h.subs[channelID] = map[*hubSubscription]struct{}{}
	}
	h.subs[channelID][sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()

	h.logger.Debug("change subscription opened", "channel", channelID)
	return sub, nil
}

// Publish delivers event to the subscribers of its row's channel. It blocks
// while a subscriber's buffer is full, until that subscriber closes.
func (h *Hub) Publish(event types.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[event.Row.ChannelID] {
		select {
		case sub.events <- event:
		case <-sub.done:
		}
	}
}

// Subscribers returns the number of open subscriptions for channelID.
func (h *Hub) Subscribers(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channelID])
}

type hubSubscription struct {
	hub       *Hub
	channelID string
	events    chan types.ChangeEvent
	done      chan struct{}
	once      sync.Once
}

func (s *hubSubscription) Events() <-chan types.ChangeEvent { return s.events }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		delete(s.hub.subs[s.channelID], s)
		if len(s.hub.subs[s.channelID]) == 0 {
			delete(s.hub.subs, s.channelID)
		}
		s.hub.mu.Unlock()
		close(s.events)
		s.hub.logger.Debug("change subscription closed", "channel", s.channelID)
	})
	return nil
}

// Package presence tracks ephemeral per-user state (online, typing) on a
// channel. Nothing here is persisted.
package presence

import (
	"context"
	"sort"
	"time"

	"github.com/adamavenir/threadline/internal/types"
)

// TypingIdleTimeout is how long a typing assertion stays valid without being
// re-asserted.
const TypingIdleTimeout = 3 * time.Second

// Channel is one user's membership of a presence channel.
type Channel interface {
	// Track publishes the caller's state, replacing any previous one.
	Track(ctx context.Context, state types.PresenceState) error
	// Untrack withdraws the caller's state.
	Untrack(ctx context.Context) error
	// Events delivers a sync with the full state on join, then deltas.
	Events() <-chan types.PresenceEvent
	Close() error
}

// Service joins presence channels.
type Service interface {
	Join(ctx context.Context, channelID, userID string) (Channel, error)
}

// Tracker folds presence events into the observed state of a channel.
// It is not safe for concurrent use.
type Tracker struct {
	entries map[string]types.PresenceState
	idle    time.Duration
}

func NewTracker(idle time.Duration) *Tracker {
	if idle <= 0 {
		idle = TypingIdleTimeout
	}
	return &Tracker{entries: map[string]types.PresenceState{}, idle: idle}
}

// Apply folds one event. Entries are stamped with now as their observed time.
func (t *Tracker) Apply(event types.PresenceEvent, now time.Time) {
	switch event.Kind {
	case types.PresenceSync:
		t.entries = make(map[string]types.PresenceState, len(event.Entries))
		for userID, state := range event.Entries {
			state.UserID = userID
			state.At = now
			t.entries[userID] = state
		}
	case types.PresenceJoin:
		for userID, state := range event.Entries {
			state.UserID = userID
			state.At = now
			t.entries[userID] = state
		}
	case types.PresenceLeave:
		for userID := range event.Entries {
			delete(t.entries, userID)
		}
	}
}

// Typing returns the sorted display names of users other than selfID whose
// typing flag was asserted within the idle window.
func (t *Tracker) Typing(selfID string, now time.Time) []string {
	var names []string
	for userID, state := range t.entries {
		if userID == selfID || !state.Typing {
			continue
		}
		if now.Sub(state.At) >= t.idle {
			continue
		}
		name := state.Username
		if name == "" {
			name = types.UnknownUsername
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextExpiry returns how long until the earliest live typing assertion lapses.
func (t *Tracker) NextExpiry(selfID string, now time.Time) (time.Duration, bool) {
	var next time.Duration
	found := false
	for userID, state := range t.entries {
		if userID == selfID || !state.Typing {
			continue
		}
		remaining := t.idle - now.Sub(state.At)
		if remaining <= 0 {
			continue
		}
		if !found || remaining < next {
			next = remaining
			found = true
		}
	}
	return next, found
}

// Online returns every tracked entry sorted by username.
func (t *Tracker) Online() []types.PresenceState {
	out := make([]types.PresenceState, 0, len(t.entries))
	for _, state := range t.entries {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Username < out[j].Username
	})
	return out
}

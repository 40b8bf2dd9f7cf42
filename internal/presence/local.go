package presence

import (
	"context"
	"sync"
	"time"

	"github.com/adamavenir/threadline/internal/types"
)

const memberBuffer = 32

// Local is an in-process presence service for sessions sharing one process.
type Local struct {
	mu    sync.Mutex
	rooms map[string]*localRoom
	now   func() time.Time
}

type localRoom struct {
	members map[*localMember]struct{}
	states  map[string]types.PresenceState
}

func NewLocal() *Local {
	return &Local{
		rooms: map[string]*localRoom{},
		now:   time.Now,
	}
}

func (l *Local) Join(ctx context.Context, channelID, userID string) (Channel, error) {
	member := &localMember{
		service:   l,
		channelID: channelID,
		userID:    userID,
		events:    make(chan types.PresenceEvent, memberBuffer),
	}

	l.mu.Lock()
	room := l.rooms[channelID]
	if room == nil {
		room = &localRoom{
			members: map[*localMember]struct{}{},
			states:  map[string]types.PresenceState{},
		}
		l.rooms[channelID] = room
	}
	room.members[member] = struct{}{}
	snapshot := make(map[string]types.PresenceState, len(room.states))
	for id, state := range room.states {
		snapshot[id] = state
	}
	member.send(types.PresenceEvent{Kind: types.PresenceSync, Entries: snapshot})
	l.mu.Unlock()

	return member, nil
}

// broadcast must be called with l.mu held. Slow members drop deltas.
func (room *localRoom) broadcast(event types.PresenceEvent) {
	for member := range room.members {
		member.send(event)
	}
}

type localMember struct {
	service   *Local
	channelID string
	userID    string
	events    chan types.PresenceEvent
	tracked   bool
	closed    bool
}

func (m *localMember) send(event types.PresenceEvent) {
	select {
	case m.events <- event:
	default:
	}
}

func (m *localMember) Events() <-chan types.PresenceEvent { return m.events }

func (m *localMember) Track(ctx context.Context, state types.PresenceState) error {
	m.service.mu.Lock()
	defer m.service.mu.Unlock()
	if m.closed {
		return nil
	}
	state.UserID = m.userID
	state.At = m.service.now()
	room := m.service.rooms[m.channelID]
	room.states[m.userID] = state
	m.tracked = true
	room.broadcast(types.PresenceEvent{
		Kind:    types.PresenceJoin,
		Entries: map[string]types.PresenceState{m.userID: state},
	})
	return nil
}

func (m *localMember) Untrack(ctx context.Context) error {
	m.service.mu.Lock()
	defer m.service.mu.Unlock()
	m.untrackLocked()
	return nil
}

func (m *localMember) untrackLocked() {
	if !m.tracked || m.closed {
		return
	}
	room := m.service.rooms[m.channelID]
	state := room.states[m.userID]
	delete(room.states, m.userID)
	m.tracked = false
	room.broadcast(types.PresenceEvent{
		Kind:    types.PresenceLeave,
		Entries: map[string]types.PresenceState{m.userID: state},
	})
}

func (m *localMember) Close() error {
	m.service.mu.Lock()
	defer m.service.mu.Unlock()
	if m.closed {
		return nil
	}
	m.untrackLocked()
	m.closed = true
	room := m.service.rooms[m.channelID]
	delete(room.members, m)
	if len(room.members) == 0 {
		delete(m.service.rooms, m.channelID)
	}
	close(m.events)
	return nil
}

package types

import "time"

// ChangeKind is the operation carried by a change event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
)

// ChangeEvent is one notification from a message change feed.
// Seq is informational; consumers apply events in delivery order.
type ChangeEvent struct {
	Kind  ChangeKind `json:"type"`
	Table string     `json:"table"`
	Row   MessageRow `json:"record"`
	Seq   int64      `json:"seq,omitempty"`
}

// PresenceState is the tracked payload of one user on a presence channel.
type PresenceState struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Typing   bool      `json:"typing"`
	At       time.Time `json:"at"`
}

// PresenceEventKind distinguishes full syncs from deltas.
type PresenceEventKind string

const (
	PresenceSync  PresenceEventKind = "sync"
	PresenceJoin  PresenceEventKind = "join"
	PresenceLeave PresenceEventKind = "leave"
)

// PresenceEvent is a full state sync or a join/leave delta keyed by user id.
type PresenceEvent struct {
	Kind    PresenceEventKind        `json:"kind"`
	Entries map[string]PresenceState `json:"entries"`
}

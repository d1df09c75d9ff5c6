// Package ws carries the realtime session protocol: the wire frames, the
// per-connection read/write pumps, and the connection manager that admits
// participants and relays their messages to the peer.
package ws

import "encoding/json"

// Message kinds. join is the client handshake; snapshot, presence and
// rejected only ever travel server to client.
const (
	MsgJoin     = "join"
	MsgEdit     = "edit"
	MsgCursor   = "cursor"
	MsgSnapshot = "snapshot"
	MsgPresence = "presence"
	MsgRejected = "rejected"
)

// Presence events.
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// Frame is the single wire envelope; which fields are populated depends on
// Type. Delta and Position are opaque to the server and relayed verbatim.
type Frame struct {
	Type string `json:"type"`

	// join
	RoomID string `json:"room_id,omitempty"`
	Name   string `json:"name,omitempty"`

	// edit and cursor
	Section  string          `json:"section,omitempty"`
	Delta    json.RawMessage `json:"delta,omitempty"`
	Content  *string         `json:"content,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`

	// snapshot
	Sections map[string]string `json:"sections,omitempty"`

	// presence
	Event string   `json:"event,omitempty"`
	Role  string   `json:"role,omitempty"`
	Users []string `json:"users,omitempty"`

	// rejected
	Reason string `json:"reason,omitempty"`

	// Username identifies the originating participant on relayed and
	// server-sent frames.
	Username string `json:"username,omitempty"`
}

func encode(f Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}

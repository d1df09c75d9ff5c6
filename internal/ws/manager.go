package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Maheshnath09/duoreport/internal/document"
	"github.com/Maheshnath09/duoreport/internal/room"
)

// handshakeTimeout bounds how long a fresh connection may sit silent
// before sending its join frame.
const handshakeTimeout = 10 * time.Second

// Manager admits connections into rooms and relays frames between the two
// participants of each room. Delivery to a peer is best-effort: a slow or
// vanished peer is logged and never fails the sender.
type Manager struct {
	registry *room.Registry
}

// NewManager wraps a registry.
func NewManager(reg *room.Registry) *Manager {
	return &Manager{registry: reg}
}

// Serve runs the session protocol for one connection: handshake,
// admission, snapshot push, then the read loop until the transport closes.
// It owns conn and closes it before returning.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn, roomID string) {
	defer conn.Close()

	hello, ok := m.handshake(conn, roomID)
	if !ok {
		return
	}
	name := hello.Name
	if name == "" {
		name = "Anonymous"
	}

	client := newClient(conn)
	r, p, err := m.registry.CreateOrJoin(ctx, roomID, name, client)
	if err != nil {
		m.reject(conn, roomID, err)
		return
	}

	go client.writePump()
	defer func() {
		m.Remove(roomID, client, p.Name, p.Role)
		client.shutdown()
	}()

	// The new participant sees current state immediately, not just the
	// deltas that happen to arrive after admission.
	snapshot := Frame{
		Type:     MsgSnapshot,
		Sections: r.Snapshot(),
		Username: p.Name,
		Role:     string(p.Role),
		Users:    r.Names(),
	}
	if err := client.Deliver(encode(snapshot)); err != nil {
		slog.Warn("snapshot delivery failed", "room", roomID, "error", err)
		return
	}
	m.broadcastPresence(roomID, client, PresenceJoined, p.Name, p.Role)

	slog.Info("participant joined", "room", roomID, "name", p.Name, "role", p.Role)
	m.readLoop(conn, client, roomID, p)
}

// handshake reads and validates the initial join frame. A malformed
// handshake is terminal for the connection.
func (m *Manager) handshake(conn *websocket.Conn, roomID string) (Frame, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var hello Frame
	if err := conn.ReadJSON(&hello); err != nil {
		slog.Warn("handshake read failed", "room", roomID, "error", err)
		m.closeWithProtocolError(conn, "expected join frame")
		return Frame{}, false
	}
	if hello.Type != MsgJoin {
		slog.Warn("handshake frame has wrong kind", "room", roomID, "type", hello.Type)
		m.closeWithProtocolError(conn, "expected join frame")
		return Frame{}, false
	}
	if hello.RoomID != "" && hello.RoomID != roomID {
		slog.Warn("handshake room mismatch", "room", roomID, "frame_room", hello.RoomID)
		m.closeWithProtocolError(conn, "room id mismatch")
		return Frame{}, false
	}
	return hello, true
}

func (m *Manager) readLoop(conn *websocket.Conn, client *Client, roomID string, p *room.Participant) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Info("participant disconnected", "room", roomID, "name", p.Name, "error", err)
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			// A single bad frame is not worth the session.
			slog.Warn("malformed frame skipped", "room", roomID, "error", err)
			continue
		}
		switch f.Type {
		case MsgEdit:
			// A delta-only edit updates nothing, but it must still name a
			// real section before it reaches the peer.
			if !document.ValidSection(f.Section) {
				slog.Warn("edit rejected", "room", roomID, "section", f.Section, "error", room.ErrUnknownSection)
				continue
			}
			if f.Content != nil {
				if _, err := m.registry.ApplyEdit(roomID, f.Section, *f.Content); err != nil {
					slog.Warn("edit rejected", "room", roomID, "section", f.Section, "error", err)
					continue
				}
			}
			f.Username = p.Name
			m.Relay(roomID, client, f)
		case MsgCursor:
			f.Username = p.Name
			m.RelayCursor(roomID, client, f)
		default:
			slog.Warn("unknown message kind ignored", "room", roomID, "type", f.Type)
		}
	}
}

// Relay delivers a frame to every participant in the room except sender —
// at most one, given the two-party cap. Failures are logged, never
// propagated.
func (m *Manager) Relay(roomID string, sender room.Peer, f Frame) {
	r, ok := m.registry.Room(roomID)
	if !ok {
		return
	}
	frame := encode(f)
	for _, p := range r.Others(sender) {
		if err := p.Peer.Deliver(frame); err != nil {
			slog.Warn("relay to peer failed", "room", roomID, "peer", p.Name, "error", err)
		}
	}
}

// RelayCursor delivers a cursor frame through the coalescing slot: only
// the latest position per sender survives a slow peer.
func (m *Manager) RelayCursor(roomID string, sender room.Peer, f Frame) {
	r, ok := m.registry.Room(roomID)
	if !ok {
		return
	}
	frame := encode(f)
	for _, p := range r.Others(sender) {
		p.Peer.DeliverLatestCursor(frame)
	}
}

// Remove detaches a participant on transport closure and tells the
// remaining participant they left.
func (m *Manager) Remove(roomID string, peer room.Peer, name string, role room.Role) {
	var others []*room.Participant
	if r, ok := m.registry.Room(roomID); ok {
		others = r.Others(peer)
	}
	m.registry.Leave(roomID, peer)

	users := make([]string, 0, len(others))
	for _, p := range others {
		users = append(users, p.Name)
	}
	frame := encode(Frame{
		Type:     MsgPresence,
		Event:    PresenceLeft,
		Username: name,
		Role:     string(role),
		Users:    users,
	})
	for _, p := range others {
		if err := p.Peer.Deliver(frame); err != nil {
			slog.Warn("leave notification failed", "room", roomID, "peer", p.Name, "error", err)
		}
	}
}

func (m *Manager) broadcastPresence(roomID string, sender room.Peer, event, name string, role room.Role) {
	r, ok := m.registry.Room(roomID)
	if !ok {
		return
	}
	frame := encode(Frame{
		Type:     MsgPresence,
		Event:    event,
		Username: name,
		Role:     string(role),
		Users:    r.Names(),
	})
	for _, p := range r.Others(sender) {
		if err := p.Peer.Deliver(frame); err != nil {
			slog.Warn("presence broadcast failed", "room", roomID, "peer", p.Name, "error", err)
		}
	}
}

// reject writes the terminal rejection frame directly; the write pump
// never starts for a connection that was not admitted.
func (m *Manager) reject(conn *websocket.Conn, roomID string, admitErr error) {
	reason := "unable to join room"
	switch {
	case errors.Is(admitErr, room.ErrRoomFull):
		reason = "Room is full. Only 2 users allowed per room."
	case errors.Is(admitErr, room.ErrInvalidRoom):
		reason = "Invalid room id."
	}
	slog.Info("join rejected", "room", roomID, "reason", reason)
	_ = conn.WriteJSON(Frame{Type: MsgRejected, Reason: reason})
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (m *Manager) closeWithProtocolError(conn *websocket.Conn, msg string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseProtocolError, msg), deadline)
}

// Package room implements the registry of live collaboration rooms: room
// lifecycle, two-participant admission, the in-memory document each room
// owns, and the autosave loop that flushes dirty documents to the store.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/Maheshnath09/duoreport/internal/document"
)

// Role tags a participant by join order. It differentiates the two editors
// in the UI and carries no permissions.
type Role string

const (
	RoleFirst  Role = "first"
	RoleSecond Role = "second"
)

// Peer is the transport half of a participant. Implementations must not
// block: delivery is queued and best-effort.
type Peer interface {
	// Deliver queues an encoded frame for the peer. A full queue or a
	// closed transport returns an error; the caller logs and moves on.
	Deliver(frame []byte) error

	// DeliverLatestCursor queues a cursor frame, replacing any cursor
	// frame already buffered. Only the newest position matters.
	DeliverLatestCursor(frame []byte)
}

// Participant is one connected editor within a room. Identity is the Peer
// handle; Name is a display label and nothing more.
type Participant struct {
	Name string
	Role Role
	Peer Peer
}

// errClosed marks a room that was torn down between registry lookup and
// join; the caller retries against a fresh room.
var errClosed = errors.New("room closed")

// Room holds the live state of one collaboration session. At most two
// participants are attached at any time.
type Room struct {
	ID string

	loadOnce sync.Once
	stopOnce sync.Once
	done     chan struct{}

	mu           sync.Mutex
	sections     map[string]string
	dirty        bool
	closed       bool
	lastActive   time.Time
	participants []*Participant
}

func newRoom(id string) *Room {
	return &Room{
		ID:         id,
		done:       make(chan struct{}),
		sections:   document.NewSections(),
		lastActive: time.Now(),
	}
}

// hydrate replaces the empty template with a persisted snapshot. It runs
// under loadOnce before any participant is admitted, so it never clobbers
// a live edit.
func (r *Room) hydrate(sections map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sections = sections
}

func (r *Room) join(name string, peer Peer) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed
	}
	// The count check and the append stay inside one critical section so
	// two simultaneous joiners cannot both observe a free slot.
	if len(r.participants) >= 2 {
		return nil, ErrRoomFull
	}
	role := RoleFirst
	if len(r.participants) == 1 {
		role = RoleSecond
	}
	p := &Participant{Name: name, Role: role, Peer: peer}
	r.participants = append(r.participants, p)
	r.lastActive = time.Now()
	return p, nil
}

// leave detaches the participant owning peer. It reports whether anything
// was removed (leaving twice is a no-op) and whether the room became empty,
// in which case the room is closed to further joins.
func (r *Room) leave(peer Peer) (removed, becameEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.participants[:0]
	for _, p := range r.participants {
		if p.Peer == peer {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	r.participants = kept
	if removed && len(r.participants) == 0 {
		r.closed = true
		becameEmpty = true
	}
	r.lastActive = time.Now()
	return removed, becameEmpty
}

func (r *Room) applyEdit(section, value string) (string, error) {
	if !document.ValidSection(section) {
		return "", ErrUnknownSection
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sections[section] = value
	r.dirty = true
	r.lastActive = time.Now()
	return value, nil
}

// Snapshot returns a copy of the current section mapping.
func (r *Room) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	sections := make(map[string]string, len(r.sections))
	for name, value := range r.sections {
		sections[name] = value
	}
	return sections
}

// Others returns the participants in the room except the one owning peer.
func (r *Room) Others(peer Peer) []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	others := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.Peer != peer {
			others = append(others, p)
		}
	}
	return others
}

// Names returns the display names of the attached participants in join
// order.
func (r *Room) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		names = append(names, p.Name)
	}
	return names
}

// LastActive reports when the room last saw a join, leave, or edit.
func (r *Room) LastActive() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActive
}

// snapshotIfDirty atomically copies the sections and clears the dirty flag.
// Without force, a clean room yields no snapshot and no store write.
func (r *Room) snapshotIfDirty(force bool) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty && !force {
		return nil, false
	}
	sections := make(map[string]string, len(r.sections))
	for name, value := range r.sections {
		sections[name] = value
	}
	r.dirty = false
	return sections, true
}

// markDirty restores the dirty flag after a failed flush so the next tick
// retries the write.
func (r *Room) markDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

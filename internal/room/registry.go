package room

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Maheshnath09/duoreport/internal/document"
	"github.com/Maheshnath09/duoreport/internal/store"
)

var (
	// ErrRoomFull rejects a join against a room that already has two
	// active participants.
	ErrRoomFull = errors.New("room is full")

	// ErrInvalidRoom rejects an empty or malformed room identifier.
	ErrInvalidRoom = errors.New("invalid room id")

	// ErrUnknownRoom marks an operation against a room with no live state.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnknownSection marks an edit against a section name outside the
	// fixed template.
	ErrUnknownSection = errors.New("unknown section")
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// storeTimeout bounds any single store round trip made by the registry.
const storeTimeout = 5 * time.Second

// Registry is the process-wide table of live rooms. The registry map has
// its own lock, distinct from per-room locking, so one busy room never
// stalls joins to another.
type Registry struct {
	store    store.Store
	interval time.Duration
	ttl      time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. interval is the autosave cadence
// per room; ttl is the sliding expiry applied on every flush.
func NewRegistry(st store.Store, interval, ttl time.Duration) *Registry {
	return &Registry{
		store:    st,
		interval: interval,
		ttl:      ttl,
		rooms:    make(map[string]*Room),
	}
}

// CreateOrJoin attaches a participant to the named room, creating and
// hydrating the room from the store on first join. The first participant
// into a room is assigned RoleFirst, the next RoleSecond; a third join
// fails with ErrRoomFull.
func (reg *Registry) CreateOrJoin(ctx context.Context, roomID, name string, peer Peer) (*Room, *Participant, error) {
	if !roomIDPattern.MatchString(roomID) {
		return nil, nil, ErrInvalidRoom
	}
	for {
		reg.mu.Lock()
		r, ok := reg.rooms[roomID]
		if !ok {
			r = newRoom(roomID)
			reg.rooms[roomID] = r
			go reg.autosaveLoop(r)
		}
		reg.mu.Unlock()

		// Both racing joiners funnel through the same Once: whichever
		// arrives first loads the persisted snapshot, the other waits,
		// and neither is admitted against a half-hydrated document.
		r.loadOnce.Do(func() { reg.hydrate(ctx, r) })

		p, err := r.join(name, peer)
		if errors.Is(err, errClosed) {
			// Torn down between lookup and join. Wait for the teardown
			// flush to finish before retrying so the fresh room hydrates
			// the just-persisted state.
			select {
			case <-r.done:
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return r, p, nil
	}
}

// hydrate populates a fresh room from the store. Absence, store failure,
// and undecodable snapshots all leave the empty template in place; a cold
// room must come up even when the store is down.
func (reg *Registry) hydrate(ctx context.Context, r *Room) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	data, err := reg.store.Get(ctx, store.Key(r.ID))
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("loading persisted document failed, starting from template", "room", r.ID, "error", err)
		return
	}
	sections, err := document.DecodeSnapshot(data)
	if err != nil {
		slog.Warn("persisted document unreadable, starting from template", "room", r.ID, "error", err)
		return
	}
	r.hydrate(sections)
}

// Leave detaches the participant owning peer from the named room. Leaving
// twice, or leaving an unknown room, is a no-op. When the last participant
// leaves, the room is flushed to the store and released; the autosave task
// stops only after that final flush.
func (reg *Registry) Leave(roomID string, peer Peer) {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	removed, becameEmpty := r.leave(peer)
	if !removed || !becameEmpty {
		return
	}
	// Flush before releasing the registry entry. The closed room keeps its
	// slot in the map until the write completes, so a rejoiner arriving
	// mid-flush waits for teardown instead of hydrating pre-flush state
	// that a later autosave would write back over the final edits.
	reg.finalFlush(r)
	reg.mu.Lock()
	if reg.rooms[roomID] == r {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()
	slog.Info("room released", "room", roomID, "last_active", r.LastActive())
	r.stop()
}

// ApplyEdit stores the latest full value for a section and marks the room
// dirty for the next autosave tick. Last write wins at section granularity;
// concurrent edits are not merged.
func (reg *Registry) ApplyEdit(roomID, section, value string) (string, error) {
	r, ok := reg.Room(roomID)
	if !ok {
		return "", ErrUnknownRoom
	}
	return r.applyEdit(section, value)
}

// Snapshot returns the live section mapping of a room, for reconnect
// replay and export.
func (reg *Registry) Snapshot(roomID string) (map[string]string, error) {
	r, ok := reg.Room(roomID)
	if !ok {
		return nil, ErrUnknownRoom
	}
	return r.Snapshot(), nil
}

// Room looks up a live room.
func (reg *Registry) Room(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// Shutdown force-flushes every live room. Called on process exit so the
// store holds the latest state regardless of autosave timing.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, r := range rooms {
		if err := reg.flush(r, true); err != nil {
			slog.Error("shutdown flush failed", "room", r.ID, "error", err)
		}
		r.stop()
	}
}

func (reg *Registry) autosaveLoop(r *Room) {
	ticker := time.NewTicker(reg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := reg.flush(r, false); err != nil {
				slog.Warn("autosave flush failed, will retry", "room", r.ID, "error", err)
			}
		case <-r.done:
			return
		}
	}
}

// flush persists the room's sections with a refreshed TTL. The snapshot is
// taken under the room lock but the store write happens outside it, so an
// edit racing the write lands in the next flush. A clean room without
// force writes nothing.
func (reg *Registry) flush(r *Room, force bool) error {
	sections, ok := r.snapshotIfDirty(force)
	if !ok {
		return nil
	}
	data, err := document.EncodeSnapshot(sections)
	if err != nil {
		r.markDirty()
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := reg.store.SetWithExpiry(ctx, store.Key(r.ID), data, reg.ttl); err != nil {
		r.markDirty()
		return err
	}
	return nil
}

// finalFlush is the teardown write: the last chance to persist before the
// in-memory room is released, so it retries briefly instead of waiting for
// a tick that will never come.
func (reg *Registry) finalFlush(r *Room) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second
	err := backoff.Retry(func() error {
		return reg.flush(r, true)
	}, b)
	if err != nil {
		slog.Error("final flush failed, latest edits not persisted", "room", r.ID, "error", err)
	}
}

package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maheshnath09/duoreport/internal/document"
	"github.com/Maheshnath09/duoreport/internal/store"
)

// fakePeer records delivered frames in place of a websocket connection.
type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *fakePeer) Deliver(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) DeliverLatestCursor(frame []byte) {
	_ = p.Deliver(frame)
}

// countingStore wraps a Store and counts writes.
type countingStore struct {
	store.Store
	mu   sync.Mutex
	sets int
}

func (c *countingStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.Store.SetWithExpiry(ctx, key, value, ttl)
}

func (c *countingStore) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

// flakyStore fails writes until recovered.
type flakyStore struct {
	store.Store
	mu     sync.Mutex
	broken bool
}

func (f *flakyStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("store unavailable")
	}
	return f.Store.SetWithExpiry(ctx, key, value, ttl)
}

func (f *flakyStore) setBroken(broken bool) {
	f.mu.Lock()
	f.broken = broken
	f.mu.Unlock()
}

// gatedStore blocks each write until released, to hold a flush in flight.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.SetWithExpiry(ctx, key, value, ttl)
}

func newTestRegistry(st store.Store) *Registry {
	// Long interval: tests that care about autosave timing build their own.
	return NewRegistry(st, time.Hour, time.Hour)
}

func TestCreateOrJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("roles assigned by join order", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		_, alice, err := reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
		require.NoError(t, err)
		assert.Equal(t, RoleFirst, alice.Role)

		_, bob, err := reg.CreateOrJoin(ctx, "r1", "Bob", &fakePeer{})
		require.NoError(t, err)
		assert.Equal(t, RoleSecond, bob.Role)
	})

	t.Run("third join is rejected", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
		require.NoError(t, err)
		_, _, err = reg.CreateOrJoin(ctx, "r1", "Bob", &fakePeer{})
		require.NoError(t, err)

		_, _, err = reg.CreateOrJoin(ctx, "r1", "Carol", &fakePeer{})
		assert.ErrorIs(t, err, ErrRoomFull)

		r, ok := reg.Room("r1")
		require.True(t, ok)
		assert.Equal(t, []string{"Alice", "Bob"}, r.Names())
	})

	t.Run("malformed room ids rejected", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		for _, id := range []string{"", "has space", "semi;colon", "x/y"} {
			_, _, err := reg.CreateOrJoin(ctx, id, "Alice", &fakePeer{})
			assert.ErrorIs(t, err, ErrInvalidRoom, "id %q", id)
		}
	})

	t.Run("concurrent joiners never exceed the cap", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		const joiners = 8

		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted, full := 0, 0
		for i := 0; i < joiners; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := reg.CreateOrJoin(ctx, "busy", "user", &fakePeer{})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					admitted++
				case errors.Is(err, ErrRoomFull):
					full++
				default:
					t.Errorf("unexpected join error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 2, admitted)
		assert.Equal(t, joiners-2, full)
		r, ok := reg.Room("busy")
		require.True(t, ok)
		assert.Len(t, r.Names(), 2)
	})
}

func TestHydration(t *testing.T) {
	ctx := context.Background()

	t.Run("first join loads persisted snapshot", func(t *testing.T) {
		st := store.NewMemoryStore()
		sections := document.NewSections()
		sections["abstract"] = "persisted text"
		data, err := document.EncodeSnapshot(sections)
		require.NoError(t, err)
		require.NoError(t, st.SetWithExpiry(ctx, store.Key("cold"), data, time.Minute))

		reg := newTestRegistry(st)
		_, _, err = reg.CreateOrJoin(ctx, "cold", "Alice", &fakePeer{})
		require.NoError(t, err)

		snap, err := reg.Snapshot("cold")
		require.NoError(t, err)
		assert.Equal(t, "persisted text", snap["abstract"])
	})

	t.Run("unreadable snapshot falls back to template", func(t *testing.T) {
		st := store.NewMemoryStore()
		require.NoError(t, st.SetWithExpiry(ctx, store.Key("bad"), []byte("not a snapshot"), time.Minute))

		reg := newTestRegistry(st)
		_, _, err := reg.CreateOrJoin(ctx, "bad", "Alice", &fakePeer{})
		require.NoError(t, err)

		snap, err := reg.Snapshot("bad")
		require.NoError(t, err)
		assert.Equal(t, document.NewSections(), snap)
	})

	t.Run("second joiner sees live edits not the stale store", func(t *testing.T) {
		st := store.NewMemoryStore()
		sections := document.NewSections()
		sections["abstract"] = "stale"
		data, err := document.EncodeSnapshot(sections)
		require.NoError(t, err)
		require.NoError(t, st.SetWithExpiry(ctx, store.Key("r1"), data, time.Minute))

		reg := newTestRegistry(st)
		_, _, err = reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "fresh")
		require.NoError(t, err)

		_, _, err = reg.CreateOrJoin(ctx, "r1", "Bob", &fakePeer{})
		require.NoError(t, err)
		snap, err := reg.Snapshot("r1")
		require.NoError(t, err)
		assert.Equal(t, "fresh", snap["abstract"])
	})
}

func TestApplyEdit(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(store.NewMemoryStore())
	_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
	require.NoError(t, err)

	t.Run("updates the live section value", func(t *testing.T) {
		value, err := reg.ApplyEdit("r1", "results", "<p>data</p>")
		require.NoError(t, err)
		assert.Equal(t, "<p>data</p>", value)

		snap, err := reg.Snapshot("r1")
		require.NoError(t, err)
		assert.Equal(t, "<p>data</p>", snap["results"])
	})

	t.Run("last write wins per section", func(t *testing.T) {
		_, err := reg.ApplyEdit("r1", "abstract", "one")
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "two")
		require.NoError(t, err)
		snap, err := reg.Snapshot("r1")
		require.NoError(t, err)
		assert.Equal(t, "two", snap["abstract"])
	})

	t.Run("unknown section", func(t *testing.T) {
		_, err := reg.ApplyEdit("r1", "appendix", "x")
		assert.ErrorIs(t, err, ErrUnknownSection)
	})

	t.Run("unknown room", func(t *testing.T) {
		_, err := reg.ApplyEdit("nope", "abstract", "x")
		assert.ErrorIs(t, err, ErrUnknownRoom)
	})

	t.Run("activity timestamp tracks edits", func(t *testing.T) {
		r, ok := reg.Room("r1")
		require.True(t, ok)
		before := r.LastActive()
		time.Sleep(5 * time.Millisecond)
		_, err := reg.ApplyEdit("r1", "introduction", "active")
		require.NoError(t, err)
		assert.True(t, r.LastActive().After(before))
	})
}

func TestLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("room released when last participant leaves", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		alice := &fakePeer{}
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", alice)
		require.NoError(t, err)

		reg.Leave("r1", alice)
		_, ok := reg.Room("r1")
		assert.False(t, ok)
	})

	t.Run("leaving twice is a no-op", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		alice, bob := &fakePeer{}, &fakePeer{}
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", alice)
		require.NoError(t, err)
		_, _, err = reg.CreateOrJoin(ctx, "r1", "Bob", bob)
		require.NoError(t, err)

		reg.Leave("r1", alice)
		reg.Leave("r1", alice)

		r, ok := reg.Room("r1")
		require.True(t, ok)
		assert.Equal(t, []string{"Bob"}, r.Names())
	})

	t.Run("teardown flush persists the final state", func(t *testing.T) {
		st := store.NewMemoryStore()
		reg := newTestRegistry(st) // autosave interval far in the future
		alice := &fakePeer{}
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", alice)
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "final words")
		require.NoError(t, err)

		reg.Leave("r1", alice)

		data, err := st.Get(ctx, store.Key("r1"))
		require.NoError(t, err)
		sections, err := document.DecodeSnapshot(data)
		require.NoError(t, err)
		assert.Equal(t, "final words", sections["abstract"])
	})

	t.Run("slot freed for a new joiner after leave", func(t *testing.T) {
		reg := newTestRegistry(store.NewMemoryStore())
		alice, bob := &fakePeer{}, &fakePeer{}
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", alice)
		require.NoError(t, err)
		_, _, err = reg.CreateOrJoin(ctx, "r1", "Bob", bob)
		require.NoError(t, err)

		reg.Leave("r1", alice)
		_, carol, err := reg.CreateOrJoin(ctx, "r1", "Carol", &fakePeer{})
		require.NoError(t, err)
		assert.Equal(t, RoleSecond, carol.Role)
	})

	t.Run("rejoin during the teardown flush sees the flushed state", func(t *testing.T) {
		st := &gatedStore{
			Store:   store.NewMemoryStore(),
			entered: make(chan struct{}, 1),
			release: make(chan struct{}),
		}
		reg := newTestRegistry(st)
		alice := &fakePeer{}
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", alice)
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "final words")
		require.NoError(t, err)

		go reg.Leave("r1", alice)
		<-st.entered // teardown flush is now in flight

		rejoined := make(chan map[string]string, 1)
		go func() {
			defer close(rejoined)
			if _, _, err := reg.CreateOrJoin(ctx, "r1", "Bob", &fakePeer{}); err != nil {
				t.Errorf("rejoin failed: %v", err)
				return
			}
			snap, err := reg.Snapshot("r1")
			if err != nil {
				t.Errorf("snapshot after rejoin failed: %v", err)
				return
			}
			rejoined <- snap
		}()

		// The rejoin must wait out the flush, not race it into a fresh
		// room holding stale state.
		select {
		case <-rejoined:
			t.Fatal("rejoin completed while the teardown flush was still in flight")
		case <-time.After(50 * time.Millisecond):
		}

		close(st.release)
		select {
		case snap := <-rejoined:
			require.NotNil(t, snap)
			assert.Equal(t, "final words", snap["abstract"])
		case <-time.After(2 * time.Second):
			t.Fatal("rejoin did not complete after the flush finished")
		}
	})

	t.Run("rejoin after teardown rehydrates from the store", func(t *testing.T) {
		st := store.NewMemoryStore()
		reg := newTestRegistry(st)
		alice := &fakePeer{}
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", alice)
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "conclusion", "done")
		require.NoError(t, err)
		reg.Leave("r1", alice)

		_, p, err := reg.CreateOrJoin(ctx, "r1", "Bob", &fakePeer{})
		require.NoError(t, err)
		assert.Equal(t, RoleFirst, p.Role)
		snap, err := reg.Snapshot("r1")
		require.NoError(t, err)
		assert.Equal(t, "done", snap["conclusion"])
	})
}

func TestAutosave(t *testing.T) {
	ctx := context.Background()

	t.Run("dirty room is flushed on the tick", func(t *testing.T) {
		st := &countingStore{Store: store.NewMemoryStore()}
		reg := NewRegistry(st, 20*time.Millisecond, time.Minute)
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "tick me")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			data, err := st.Get(ctx, store.Key("r1"))
			if err != nil {
				return false
			}
			sections, err := document.DecodeSnapshot(data)
			return err == nil && sections["abstract"] == "tick me"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("clean room writes nothing", func(t *testing.T) {
		st := &countingStore{Store: store.NewMemoryStore()}
		reg := NewRegistry(st, 20*time.Millisecond, time.Minute)
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "once")
		require.NoError(t, err)

		require.Eventually(t, func() bool { return st.setCount() >= 1 }, time.Second, 10*time.Millisecond)
		flushed := st.setCount()
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, flushed, st.setCount(), "no further writes without edits")
	})

	t.Run("store outage is retried on later ticks", func(t *testing.T) {
		st := &flakyStore{Store: store.NewMemoryStore()}
		st.setBroken(true)
		reg := NewRegistry(st, 20*time.Millisecond, time.Minute)
		_, _, err := reg.CreateOrJoin(ctx, "r1", "Alice", &fakePeer{})
		require.NoError(t, err)
		_, err = reg.ApplyEdit("r1", "abstract", "survives outage")
		require.NoError(t, err)

		// Edits keep landing in memory while the store is down.
		time.Sleep(60 * time.Millisecond)
		_, err = reg.ApplyEdit("r1", "results", "still editing")
		require.NoError(t, err)

		st.setBroken(false)
		require.Eventually(t, func() bool {
			data, err := st.Get(ctx, store.Key("r1"))
			if err != nil {
				return false
			}
			sections, err := document.DecodeSnapshot(data)
			return err == nil &&
				sections["abstract"] == "survives outage" &&
				sections["results"] == "still editing"
		}, time.Second, 10*time.Millisecond)
	})
}

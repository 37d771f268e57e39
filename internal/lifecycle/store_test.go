package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftchat/drift/internal/lane"
	"github.com/driftchat/drift/internal/model"
)

// fakeDriver records scheduling calls.
type fakeDriver struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{scheduled: make(map[string]time.Time)}
}

func (d *fakeDriver) Schedule(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled[id] = at
}

func (d *fakeDriver) Cancel(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, id)
}

func (d *fakeDriver) scheduledAt(id string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.scheduled[id]
	return at, ok
}

// fakePersister counts saves and can be told to fail upcoming writes.
type fakePersister struct {
	mu       sync.Mutex
	saves    int
	failures int
	last     []byte
}

var errDiskFull = errors.New("storage quota exceeded")

func (p *fakePersister) Save(_ context.Context, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errDiskFull
	}
	p.saves++
	p.last = append([]byte(nil), payload...)
	return nil
}

func (p *fakePersister) failNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *fakePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func (p *fakePersister) snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.last...)
}

func newTestStore(t *testing.T, cfg Config) (*Store, *lane.Allocator, *fakeDriver, *fakePersister) {
	t.Helper()
	if cfg.ChannelID == "" {
		cfg.ChannelID = "lobby"
	}
	lanes := lane.NewAllocator(4)
	activity := lane.NewActivity(30 * time.Second)
	driver := newFakeDriver()
	persister := &fakePersister{}
	return NewStore(cfg, lanes, activity, driver, persister), lanes, driver, persister
}

func TestAddAssignsLaneAndSchedulesExpiry(t *testing.T) {
	store, lanes, driver, _ := newTestStore(t, Config{})

	spawn := time.Now()
	err := store.Add(model.Message{
		ID:        "m-1",
		Text:      "hello",
		Author:    "alice",
		SpawnTime: spawn,
		Lifetime:  20 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
	require.Equal(t, 1, lanes.InUse())

	at, ok := driver.scheduledAt("m-1")
	require.True(t, ok)
	require.Equal(t, spawn.Add(20*time.Second), at)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})

	spawn := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "first", Author: "alice", SpawnTime: spawn}))

	err := store.Add(model.Message{ID: "m-1", Text: "redelivered", Author: "alice", SpawnTime: spawn.Add(time.Minute)})
	require.ErrorIs(t, err, ErrDuplicateMessage)

	require.Equal(t, 1, store.Len())
	got, ok := store.Get("m-1")
	require.True(t, ok)
	require.Equal(t, "first", got.Text)
	require.Equal(t, spawn, got.SpawnTime)
}

func TestAddDefaultsSpawnTimeAndLifetime(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, _, _, _ := newTestStore(t, Config{
		Now:         func() time.Time { return fixed },
		LifetimeMin: 15 * time.Second,
		LifetimeMax: 45 * time.Second,
	})

	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))

	got, ok := store.Get("m-1")
	require.True(t, ok)
	require.Equal(t, fixed, got.SpawnTime)
	// Quiet channel: longest lifetime.
	require.Equal(t, 45*time.Second, got.Lifetime)
}

func TestAddRejectsMalformedMessage(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})

	require.ErrorIs(t, store.Add(model.Message{Text: "no id"}), model.ErrEmptyID)
	require.ErrorIs(t, store.Add(model.Message{ID: "m-1"}), model.ErrEmptyText)
	require.Zero(t, store.Len())
}

func TestExpireReleasesLaneForReuse(t *testing.T) {
	store, lanes, driver, _ := newTestStore(t, Config{})

	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))
	got, _ := store.Get("m-1")
	freed := got.Lane

	store.Expire("m-1")
	require.Zero(t, store.Len())
	require.Zero(t, lanes.InUse())
	require.Contains(t, driver.cancelled, "m-1")

	// The freed lane is immediately eligible again.
	require.NoError(t, store.Add(model.Message{ID: "m-2", Text: "next", Author: "bob"}))
	_ = freed
	require.Equal(t, 1, lanes.InUse())
}

func TestExpireUnknownIDIsNoop(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})

	store.Expire("ghost")
	store.Expire("ghost")
	require.Zero(t, store.Len())
}

func TestReactToOptimisticAndRevert(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})
	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))

	updated, err := store.ReactTo("m-1", model.DirectionUp)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Reactions.Up)

	store.RevertReaction("m-1", model.DirectionUp)
	got, _ := store.Get("m-1")
	require.Zero(t, got.Reactions.Up)

	// Revert never goes negative.
	store.RevertReaction("m-1", model.DirectionDown)
	got, _ = store.Get("m-1")
	require.Zero(t, got.Reactions.Down)

	_, err = store.ReactTo("ghost", model.DirectionUp)
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestApplyReactionLastWriterWinsByVersion(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})
	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))

	require.True(t, store.ApplyReaction("m-1", model.Reactions{Up: 3, Down: 1}, 2))

	// An older authoritative update arriving late must not clobber.
	require.False(t, store.ApplyReaction("m-1", model.Reactions{Up: 1}, 1))
	got, _ := store.Get("m-1")
	require.Equal(t, model.Reactions{Up: 3, Down: 1}, got.Reactions)
	require.Equal(t, int64(2), got.ReactionVersion)

	// A newer one wins, even if counts went down (authoritative value wins).
	require.True(t, store.ApplyReaction("m-1", model.Reactions{Up: 2, Down: 1}, 3))
	got, _ = store.Get("m-1")
	require.Equal(t, model.Reactions{Up: 2, Down: 1}, got.Reactions)
}

func TestObserversSeeLifecycleChanges(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})

	var mu sync.Mutex
	var kinds []ChangeKind
	store.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, c.Kind)
	})

	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))
	_, err := store.ReactTo("m-1", model.DirectionUp)
	require.NoError(t, err)
	store.Expire("m-1")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ChangeKind{ChangeAdded, ChangeReactions, ChangeExpired}, kinds)
}

func TestActivePreservesAppendOrder(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Add(model.Message{ID: id, Text: "x", Author: "alice"}))
	}
	store.Expire("b")

	active := store.Active()
	require.Len(t, active, 2)
	require.Equal(t, "a", active[0].ID)
	require.Equal(t, "c", active[1].ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, _, _, _ := newTestStore(t, Config{})

	spawn := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Add(model.Message{
		ID:        "m-1",
		Text:      "hi",
		Author:    "alice",
		SpawnTime: spawn,
		Lifetime:  20 * time.Second,
		Reactions: model.Reactions{Up: 2},
	}))

	data, err := store.Snapshot()
	require.NoError(t, err)

	restored, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, "m-1", restored[0].ID)
	require.True(t, spawn.Equal(restored[0].SpawnTime))
	require.Equal(t, 20*time.Second, restored[0].Lifetime)
	require.Equal(t, 2, restored[0].Reactions.Up)

	original, _ := store.Get("m-1")
	require.Equal(t, original.Lane, restored[0].Lane)
}

func TestSnapshotWritesAreDebounced(t *testing.T) {
	store, _, _, persister := newTestStore(t, Config{SnapshotDebounce: 50 * time.Millisecond})

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Add(model.Message{ID: id, Text: "x", Author: "alice"}))
	}

	// A burst of adds coalesces into a single trailing write.
	require.Zero(t, persister.count())
	require.Eventually(t, func() bool { return persister.count() == 1 }, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, persister.count())
}

func TestFlushWritesImmediately(t *testing.T) {
	store, _, _, persister := newTestStore(t, Config{SnapshotDebounce: time.Hour})

	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))
	require.Zero(t, persister.count())

	require.NoError(t, store.Flush(context.Background()))
	require.Equal(t, 1, persister.count())

	restored, err := DecodeSnapshot(persister.last)
	require.NoError(t, err)
	require.Len(t, restored, 1)
}

func TestPersistenceFailureLeavesStateIntact(t *testing.T) {
	store, _, _, persister := newTestStore(t, Config{SnapshotDebounce: time.Hour})

	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))

	persister.failNext(1)
	require.ErrorIs(t, store.Flush(context.Background()), errDiskFull)

	// The active set is untouched and nothing partial was persisted.
	require.Equal(t, 1, store.Len())
	_, ok := store.Get("m-1")
	require.True(t, ok)
	require.Zero(t, persister.count())

	// The next successful write catches up with current state.
	require.NoError(t, store.Add(model.Message{ID: "m-2", Text: "yo", Author: "bob"}))
	require.NoError(t, store.Flush(context.Background()))

	restored, err := DecodeSnapshot(persister.snapshot())
	require.NoError(t, err)
	require.Len(t, restored, 2)
}

func TestDebouncedWriteFailureCatchesUpOnNextCycle(t *testing.T) {
	store, _, _, persister := newTestStore(t, Config{SnapshotDebounce: 20 * time.Millisecond})

	persister.failNext(1)
	require.NoError(t, store.Add(model.Message{ID: "m-1", Text: "hi", Author: "alice"}))

	// The failed debounced write is skipped without disturbing the store.
	time.Sleep(60 * time.Millisecond)
	require.Zero(t, persister.count())
	require.Equal(t, 1, store.Len())

	// A later change triggers a fresh cycle that lands everything.
	require.NoError(t, store.Add(model.Message{ID: "m-2", Text: "yo", Author: "bob"}))
	require.Eventually(t, func() bool { return persister.count() == 1 }, time.Second, 10*time.Millisecond)

	restored, err := DecodeSnapshot(persister.snapshot())
	require.NoError(t, err)
	require.Len(t, restored, 2)
}

func TestRestoreMessagePreservesLaneAndSpawn(t *testing.T) {
	store, lanes, driver, _ := newTestStore(t, Config{})

	spawn := time.Now().Add(-10 * time.Second)
	msg := model.Message{
		ID:        "m-1",
		Text:      "hi",
		Author:    "alice",
		SpawnTime: spawn,
		Lifetime:  30 * time.Second,
		Lane:      2,
	}
	require.NoError(t, store.RestoreMessage(msg))

	got, ok := store.Get("m-1")
	require.True(t, ok)
	require.Equal(t, 2, got.Lane)
	require.True(t, spawn.Equal(got.SpawnTime))
	require.Equal(t, 1, lanes.InUse())

	// Expiry is scheduled for the remaining lifetime, not a fresh one.
	at, ok := driver.scheduledAt("m-1")
	require.True(t, ok)
	require.Equal(t, spawn.Add(30*time.Second), at)
}

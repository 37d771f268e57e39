// Package lifecycle owns the active message set and its durable snapshot.
// All mutation of the set and the lane pool happens through the Store; other
// components receive copies or subscribe to change notifications.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftchat/drift/internal/lane"
	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/model"
)

// Store errors.
var (
	ErrDuplicateMessage = errors.New("message already active")
	ErrMessageNotFound  = errors.New("message not found")
)

// DefaultSnapshotDebounce bounds snapshot write volume during bursts.
const DefaultSnapshotDebounce = 750 * time.Millisecond

// Default lifetime bounds, modulated by activity level.
const (
	DefaultLifetimeMin = 15 * time.Second
	DefaultLifetimeMax = 45 * time.Second
)

// Expirer schedules and cancels authoritative expiry deadlines.
type Expirer interface {
	Schedule(id string, at time.Time)
	Cancel(id string)
}

// Persister is the durable write target for snapshots.
type Persister interface {
	Save(ctx context.Context, channelID string, payload []byte) error
}

// ChangeKind classifies a state change notification.
type ChangeKind string

// Change kinds.
const (
	ChangeAdded     ChangeKind = "added"
	ChangeRestored  ChangeKind = "restored"
	ChangeExpired   ChangeKind = "expired"
	ChangeReactions ChangeKind = "reactions"
)

// Change is a render-relevant state change delivered to observers.
type Change struct {
	Kind    ChangeKind
	Message model.Message
}

// Observer receives state change notifications. Observers are invoked
// outside the store lock and must not block.
type Observer func(Change)

// Config holds store configuration.
type Config struct {
	// ChannelID keys the durable snapshot.
	ChannelID string

	// LifetimeMin and LifetimeMax bound the activity-modulated lifetime.
	LifetimeMin time.Duration
	LifetimeMax time.Duration

	// SnapshotDebounce is the minimum spacing between durable writes.
	SnapshotDebounce time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the exclusive owner of the active message collection.
type Store struct {
	cfg       Config
	lanes     *lane.Allocator
	activity  *lane.Activity
	driver    Expirer
	persister Persister
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	active    map[string]*model.Message
	order     []string
	observers []Observer

	flushMu    sync.Mutex
	flushTimer *time.Timer
	flushArmed bool
}

// snapshotPayload is the persisted snapshot layout for one channel.
type snapshotPayload struct {
	Messages []model.Message `json:"messages"`
	SavedAt  time.Time       `json:"saved_at"`
}

// NewStore creates a lifecycle store.
func NewStore(cfg Config, lanes *lane.Allocator, activity *lane.Activity, driver Expirer, persister Persister) *Store {
	if cfg.LifetimeMin <= 0 {
		cfg.LifetimeMin = DefaultLifetimeMin
	}
	if cfg.LifetimeMax <= 0 {
		cfg.LifetimeMax = DefaultLifetimeMax
	}
	if cfg.SnapshotDebounce <= 0 {
		cfg.SnapshotDebounce = DefaultSnapshotDebounce
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		cfg:       cfg,
		lanes:     lanes,
		activity:  activity,
		driver:    driver,
		persister: persister,
		logger:    logging.WithChannel(logging.Component("lifecycle"), cfg.ChannelID),
		now:       now,
		active:    make(map[string]*model.Message),
	}
}

// Subscribe registers an observer for state change notifications.
func (s *Store) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

// Add ingests a new message. Redelivered ids are rejected so the external
// channel may redeliver events without duplicating bubbles; the original
// message keeps its spawn time. A zero SpawnTime defaults to ingestion time
// and a zero Lifetime is derived from the current activity level.
func (s *Store) Add(msg model.Message) error {
	if msg.SpawnTime.IsZero() {
		msg.SpawnTime = s.now()
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Lifetime <= 0 {
		msg.Lifetime = s.activity.Lifetime(s.cfg.LifetimeMin, s.cfg.LifetimeMax)
	}

	s.mu.Lock()
	if _, exists := s.active[msg.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateMessage
	}
	s.activity.Record()
	msg.Lane = s.lanes.Allocate()
	stored := msg
	s.active[msg.ID] = &stored
	s.order = append(s.order, msg.ID)
	s.mu.Unlock()

	s.driver.Schedule(msg.ID, msg.ExpiresAt())
	s.notify(Change{Kind: ChangeAdded, Message: msg})
	s.requestFlush()

	s.logger.Debug().Str("message_id", msg.ID).Int("lane", msg.Lane).
		Dur("lifetime", msg.Lifetime).Msg("message added")
	return nil
}

// RestoreMessage re-inserts a message that survived a reload. The original
// spawn time and lane are preserved so the rendered position matches the
// pre-reload one; only the remaining lifetime is scheduled. Activity is not
// recorded, restoration is not throughput.
func (s *Store) RestoreMessage(msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.active[msg.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateMessage
	}
	s.lanes.Reserve(msg.Lane)
	stored := msg
	s.active[msg.ID] = &stored
	s.order = append(s.order, msg.ID)
	s.mu.Unlock()

	s.driver.Schedule(msg.ID, msg.ExpiresAt())
	s.notify(Change{Kind: ChangeRestored, Message: msg})

	s.logger.Debug().Str("message_id", msg.ID).Int("lane", msg.Lane).
		Time("spawn_time", msg.SpawnTime).Msg("message restored")
	return nil
}

// Expire removes a message from the active set, releases its lane and
// cancels any pending deadline. Expiring an unknown id is a no-op so the
// driver callback and an external removal can race safely.
func (s *Store) Expire(id string) {
	s.mu.Lock()
	msg, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	expired := *msg
	delete(s.active, id)
	s.removeFromOrder(id)
	s.lanes.Release(expired.Lane)
	s.mu.Unlock()

	s.driver.Cancel(id)
	s.notify(Change{Kind: ChangeExpired, Message: expired})
	s.requestFlush()

	s.logger.Debug().Str("message_id", id).Int("lane", expired.Lane).Msg("message expired")
}

// ReactTo applies an optimistic local increment for rendering. The
// authoritative increment is delegated to the remote side by the caller;
// on an explicit failure signal use RevertReaction.
func (s *Store) ReactTo(id string, direction model.Direction) (model.Message, error) {
	s.mu.Lock()
	msg, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return model.Message{}, ErrMessageNotFound
	}
	msg.Reactions = msg.Reactions.Add(direction)
	updated := *msg
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReactions, Message: updated})
	s.requestFlush()
	return updated, nil
}

// RevertReaction rolls back one optimistic increment after a remote failure.
func (s *Store) RevertReaction(id string, direction model.Direction) {
	s.mu.Lock()
	msg, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	switch direction {
	case model.DirectionUp:
		if msg.Reactions.Up > 0 {
			msg.Reactions.Up--
		}
	case model.DirectionDown:
		if msg.Reactions.Down > 0 {
			msg.Reactions.Down--
		}
	}
	updated := *msg
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReactions, Message: updated})
}

// ApplyReaction reconciles an authoritative reaction update. Updates are
// last-writer-wins keyed by version: a stale version is dropped, which
// prevents flicker when authoritative updates arrive out of order. Returns
// true if the update was applied.
func (s *Store) ApplyReaction(id string, reactions model.Reactions, version int64) bool {
	s.mu.Lock()
	msg, ok := s.active[id]
	if !ok || version <= msg.ReactionVersion {
		s.mu.Unlock()
		return false
	}
	msg.Reactions = reactions
	msg.ReactionVersion = version
	updated := *msg
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReactions, Message: updated})
	s.requestFlush()
	return true
}

// Get returns a copy of an active message.
func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.active[id]
	if !ok {
		return model.Message{}, false
	}
	return *msg, true
}

// Active returns copies of the active messages in append order.
func (s *Store) Active() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, 0, len(s.order))
	for _, id := range s.order {
		if msg, ok := s.active[id]; ok {
			out = append(out, *msg)
		}
	}
	return out
}

// Len returns the number of active messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Snapshot serializes the active set for durable storage.
func (s *Store) Snapshot() ([]byte, error) {
	payload := snapshotPayload{
		Messages: s.Active(),
		SavedAt:  s.now(),
	}
	return json.Marshal(payload)
}

// DecodeSnapshot parses a snapshot payload back into messages.
func DecodeSnapshot(data []byte) ([]model.Message, error) {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

// Flush writes the current snapshot immediately, bypassing the debounce.
// Used at shutdown so the final state always lands.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushArmed = false
	s.flushMu.Unlock()

	return s.writeSnapshot(ctx)
}

// requestFlush schedules a debounced snapshot write. Bursts coalesce into
// at most one write per debounce interval; the trailing write always runs,
// so the final state is eventually flushed.
func (s *Store) requestFlush() {
	if s.persister == nil {
		return
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if s.flushArmed {
		return
	}
	s.flushArmed = true
	s.flushTimer = time.AfterFunc(s.cfg.SnapshotDebounce, func() {
		s.flushMu.Lock()
		s.flushArmed = false
		s.flushMu.Unlock()

		if err := s.writeSnapshot(context.Background()); err != nil {
			// Persistence errors never disturb in-memory state; the next
			// successful write catches up.
			s.logger.Warn().Err(err).Msg("snapshot write skipped")
		}
	})
}

func (s *Store) writeSnapshot(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	return s.persister.Save(ctx, s.cfg.ChannelID, data)
}

// removeFromOrder deletes an id from the append-order slice. Caller holds
// the lock.
func (s *Store) removeFromOrder(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// notify delivers a change to all observers outside the lock.
func (s *Store) notify(change Change) {
	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, obs := range observers {
		obs(change)
	}
}

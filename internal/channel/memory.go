package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/drift/internal/model"
)

// MemoryFeed implements Feed with in-process pub/sub. It is the
// authority for its own reaction counters, so it works standalone for
// offline mode and tests.
type MemoryFeed struct {
	mu       sync.RWMutex
	messages map[string]map[string]MessageHandler  // channel -> sub id -> handler
	reacts   map[string]map[string]ReactionHandler // channel -> sub id -> handler
	counters map[string]*reactionCounter           // channel + "/" + message id

	now func() time.Time
}

type reactionCounter struct {
	reactions model.Reactions
	version   int64
}

// MemoryOption configures a MemoryFeed.
type MemoryOption func(*MemoryFeed)

// WithMemoryNow overrides the clock used for server timestamps.
func WithMemoryNow(now func() time.Time) MemoryOption {
	return func(f *MemoryFeed) {
		f.now = now
	}
}

// NewMemoryFeed creates an in-process feed.
func NewMemoryFeed(opts ...MemoryOption) *MemoryFeed {
	f := &MemoryFeed{
		messages: make(map[string]map[string]MessageHandler),
		reacts:   make(map[string]map[string]ReactionHandler),
		counters: make(map[string]*reactionCounter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SubscribeMessages registers h for messages on channelID.
func (f *MemoryFeed) SubscribeMessages(_ context.Context, channelID string, h MessageHandler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	id := uuid.NewString()

	f.mu.Lock()
	if f.messages[channelID] == nil {
		f.messages[channelID] = make(map[string]MessageHandler)
	}
	f.messages[channelID][id] = h
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.messages[channelID], id)
		f.mu.Unlock()
	}, nil
}

// SubscribeReactions registers h for reaction updates on channelID.
func (f *MemoryFeed) SubscribeReactions(_ context.Context, channelID string, h ReactionHandler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	id := uuid.NewString()

	f.mu.Lock()
	if f.reacts[channelID] == nil {
		f.reacts[channelID] = make(map[string]ReactionHandler)
	}
	f.reacts[channelID][id] = h
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.reacts[channelID], id)
		f.mu.Unlock()
	}, nil
}

// Publish stamps the event with the feed's clock and fans it out to all
// message subscribers on the channel, including the publisher's own.
func (f *MemoryFeed) Publish(_ context.Context, channelID string, evt MessageEvent) error {
	if evt.ID == "" {
		return model.ErrEmptyID
	}

	stamp := f.now()
	evt.ServerTimestamp = &stamp

	f.mu.RLock()
	handlers := make([]MessageHandler, 0, len(f.messages[channelID]))
	for _, h := range f.messages[channelID] {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	// Invoke handlers outside the lock to avoid deadlocks.
	for _, h := range handlers {
		h(evt)
	}
	return nil
}

// IncrementReaction bumps the counter and broadcasts the new
// authoritative totals with a fresh version.
func (f *MemoryFeed) IncrementReaction(_ context.Context, channelID, messageID string, direction model.Direction) error {
	key := channelID + "/" + messageID

	f.mu.Lock()
	c := f.counters[key]
	if c == nil {
		c = &reactionCounter{}
		f.counters[key] = c
	}
	c.reactions = c.reactions.Add(direction)
	c.version++
	evt := ReactionEvent{
		MessageID: messageID,
		Reactions: c.reactions,
		Version:   c.version,
	}
	handlers := make([]ReactionHandler, 0, len(f.reacts[channelID]))
	for _, h := range f.reacts[channelID] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
	return nil
}

// Package client composes the engine into a running chat session: it
// reconciles the durable snapshot, subscribes to the channel feed, drives
// message expiry and feeds the reaction statistics.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftchat/drift/internal/channel"
	"github.com/driftchat/drift/internal/lane"
	"github.com/driftchat/drift/internal/lifecycle"
	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/restore"
	"github.com/driftchat/drift/internal/schedule"
	"github.com/driftchat/drift/internal/stats"
)

// Session errors.
var (
	ErrSessionAlreadyStarted = errors.New("session already started")
	ErrSessionNotStarted     = errors.New("session not started")
)

// Persistence combines the snapshot operations a session needs.
type Persistence interface {
	restore.Loader
	lifecycle.Persister
}

// Config holds session configuration.
type Config struct {
	ChannelID string
	Author    string

	LifetimeMin time.Duration
	LifetimeMax time.Duration
	Lanes       int
	GracePeriod time.Duration

	ActivityWindow   time.Duration
	SnapshotDebounce time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Session owns one channel's live state. Create with New, then Start.
type Session struct {
	cfg    Config
	feed   channel.Feed
	store  *lifecycle.Store
	driver *schedule.Driver
	lanes  *lane.Allocator
	stats  *stats.Aggregator

	activity    *lane.Activity
	persistence Persistence
	logger      zerolog.Logger
	now         func() time.Time

	mu        sync.Mutex
	started   bool
	unsubMsgs func()
	unsubRxns func()
}

// New wires a session. Nothing runs until Start.
func New(cfg Config, feed channel.Feed, persistence Persistence) *Session {
	if cfg.Lanes <= 0 {
		cfg.Lanes = lane.DefaultPoolSize
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = lane.DefaultActivityWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		cfg:         cfg,
		feed:        feed,
		persistence: persistence,
		logger:      logging.WithChannel(logging.Component("client"), cfg.ChannelID),
		now:         now,
	}

	s.lanes = lane.NewAllocator(cfg.Lanes, lane.WithNow(now))
	s.activity = lane.NewActivity(cfg.ActivityWindow, lane.WithActivityNow(now))
	s.driver = schedule.NewDriver(func(id string) { s.store.Expire(id) })
	s.stats = stats.New(stats.WithNow(now))
	s.store = lifecycle.NewStore(lifecycle.Config{
		ChannelID:        cfg.ChannelID,
		LifetimeMin:      cfg.LifetimeMin,
		LifetimeMax:      cfg.LifetimeMax,
		SnapshotDebounce: cfg.SnapshotDebounce,
		Now:              now,
	}, s.lanes, s.activity, s.driver, persistence)

	s.store.Subscribe(s.onChange)
	return s
}

// Start restores persisted state, then attaches to the feed. Safe to call
// once; subsequent calls return ErrSessionAlreadyStarted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSessionAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.driver.Start(ctx); err != nil {
		return err
	}

	rec := restore.New(restore.Config{
		ChannelID:   s.cfg.ChannelID,
		GracePeriod: s.cfg.GracePeriod,
		Now:         s.now,
	}, s.persistence, s.store)
	result := rec.Run(ctx)

	// Messages that expired while the client was away still count toward
	// the recent-window statistics.
	for _, msg := range result.Lapsed {
		s.stats.Track(msg)
		s.stats.Retire(msg)
	}
	if result.Restored > 0 || len(result.Lapsed) > 0 || result.Discarded > 0 {
		s.logger.Info().
			Int("restored", result.Restored).
			Int("lapsed", len(result.Lapsed)).
			Int("discarded", result.Discarded).
			Msg("snapshot reconciled")
	}

	unsubMsgs, err := s.feed.SubscribeMessages(ctx, s.cfg.ChannelID, s.onMessageEvent)
	if err != nil {
		_ = s.driver.Stop()
		return err
	}
	unsubRxns, err := s.feed.SubscribeReactions(ctx, s.cfg.ChannelID, s.onReactionEvent)
	if err != nil {
		unsubMsgs()
		_ = s.driver.Stop()
		return err
	}

	s.mu.Lock()
	s.unsubMsgs = unsubMsgs
	s.unsubRxns = unsubRxns
	s.mu.Unlock()

	s.logger.Info().Msg("session started")
	return nil
}

// Stop detaches from the feed, halts expiry and forces a final snapshot
// write so a following restore sees current state.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrSessionNotStarted
	}
	s.started = false
	unsubMsgs, unsubRxns := s.unsubMsgs, s.unsubRxns
	s.unsubMsgs, s.unsubRxns = nil, nil
	s.mu.Unlock()

	if unsubMsgs != nil {
		unsubMsgs()
	}
	if unsubRxns != nil {
		unsubRxns()
	}
	if err := s.driver.Stop(); err != nil && !errors.Is(err, schedule.ErrDriverNotRunning) {
		return err
	}
	if err := s.store.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("final snapshot write failed")
	}
	s.logger.Info().Msg("session stopped")
	return nil
}

// Send publishes a message authored by this client. The message is shown
// immediately; the publish happens in the background and the relay echo
// is absorbed by dedup.
func (s *Session) Send(ctx context.Context, text string) (model.Message, error) {
	msg := model.Message{
		ID:            uuid.NewString(),
		Text:          text,
		Author:        s.cfg.Author,
		SpawnTime:     s.now(),
		IsUserMessage: true,
	}
	if err := s.store.Add(msg); err != nil {
		return model.Message{}, err
	}
	stored, _ := s.store.Get(msg.ID)

	go func() {
		err := s.feed.Publish(ctx, s.cfg.ChannelID, channel.MessageEvent{
			ID:     msg.ID,
			Text:   msg.Text,
			Author: msg.Author,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("publish failed")
		}
	}()
	return stored, nil
}

// React applies the reaction locally first, then asks the channel to
// increment the shared counter. A failed send reverts the local bump; the
// authoritative count arrives later as a reaction event.
func (s *Session) React(ctx context.Context, messageID string, direction model.Direction) error {
	if _, err := s.store.ReactTo(messageID, direction); err != nil {
		return err
	}
	go func() {
		err := s.feed.IncrementReaction(ctx, s.cfg.ChannelID, messageID, direction)
		if err != nil {
			s.logger.Warn().Err(err).Str("message_id", messageID).Msg("reaction send failed")
			s.store.RevertReaction(messageID, direction)
		}
	}()
	return nil
}

// Get returns a live message by id.
func (s *Session) Get(id string) (model.Message, bool) {
	return s.store.Get(id)
}

// Active returns the live messages in insertion order.
func (s *Session) Active() []model.Message {
	return s.store.Active()
}

// Subscribe forwards store change notifications, for render loops.
func (s *Session) Subscribe(obs lifecycle.Observer) {
	s.store.Subscribe(obs)
}

// ActivityLevel reports the current 1..5 channel busyness level.
func (s *Session) ActivityLevel() int {
	return s.activity.Level()
}

// LaneCount reports the size of the vertical lane pool.
func (s *Session) LaneCount() int {
	return s.lanes.Size()
}

// VisibleTotals sums reactions over the currently rendered messages.
func (s *Session) VisibleTotals() stats.Totals {
	return s.stats.VisibleTotals()
}

// CumulativeTotals sums every reaction observed this session.
func (s *Session) CumulativeTotals() stats.Totals {
	return s.stats.CumulativeTotals()
}

// Top ranks messages spawned within the window by up-reactions.
func (s *Session) Top(window time.Duration, limit int) []model.Message {
	return s.stats.Top(window, limit)
}

func (s *Session) onMessageEvent(evt channel.MessageEvent) {
	spawn := s.now()
	if evt.ServerTimestamp != nil {
		spawn = *evt.ServerTimestamp
	}
	msg := model.Message{
		ID:            evt.ID,
		Text:          evt.Text,
		Author:        evt.Author,
		SpawnTime:     spawn,
		IsUserMessage: evt.Author != "" && evt.Author == s.cfg.Author,
	}
	err := s.store.Add(msg)
	if err != nil && !errors.Is(err, lifecycle.ErrDuplicateMessage) {
		s.logger.Warn().Err(err).Str("message_id", evt.ID).Msg("dropping invalid message event")
	}
}

func (s *Session) onReactionEvent(evt channel.ReactionEvent) {
	s.store.ApplyReaction(evt.MessageID, evt.Reactions, evt.Version)
}

func (s *Session) onChange(change lifecycle.Change) {
	switch change.Kind {
	case lifecycle.ChangeAdded, lifecycle.ChangeRestored:
		s.stats.Track(change.Message)
	case lifecycle.ChangeExpired:
		s.stats.Retire(change.Message)
	case lifecycle.ChangeReactions:
		s.stats.Update(change.Message)
	}
}

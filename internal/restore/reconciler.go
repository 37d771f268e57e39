// Package restore reconstructs the active message set from the durable
// snapshot at startup. It runs exactly once, before the live ingestion
// listener attaches, and never blocks startup: a missing, stale or corrupt
// snapshot degrades to an empty set.
package restore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftchat/drift/internal/lifecycle"
	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/snapshot"
)

// DefaultGracePeriod tolerates clock skew and restore latency for messages
// right at the expiry boundary.
const DefaultGracePeriod = 5 * time.Second

// Loader reads the persisted snapshot payload for a channel.
type Loader interface {
	Load(ctx context.Context, channelID string) ([]byte, time.Time, error)
}

// Target re-seeds surviving messages.
type Target interface {
	RestoreMessage(msg model.Message) error
}

// Config holds reconciler configuration.
type Config struct {
	ChannelID   string
	GracePeriod time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Result summarizes one reconciliation pass.
type Result struct {
	// Restored messages are alive again with their original spawn time,
	// lane and remaining lifetime.
	Restored int

	// Lapsed holds messages that expired during the downtime but are still
	// inside the grace window. They are not re-rendered; they are handed
	// back so reaction statistics can count them as recently expired.
	Lapsed []model.Message

	// Discarded counts messages beyond the grace window.
	Discarded int
}

// Reconciler rebuilds in-flight state after a reload.
type Reconciler struct {
	cfg    Config
	loader Loader
	target Target
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a reconciler.
func New(cfg Config, loader Loader, target Target) *Reconciler {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		cfg:    cfg,
		loader: loader,
		target: target,
		logger: logging.WithChannel(logging.Component("restore"), cfg.ChannelID),
		now:    now,
	}
}

// Run performs the one-shot reconciliation. Every failure mode is treated
// as "no snapshot"; the returned Result reflects whatever could be
// recovered.
func (r *Reconciler) Run(ctx context.Context) Result {
	var result Result

	payload, savedAt, err := r.loader.Load(ctx, r.cfg.ChannelID)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			r.logger.Warn().Err(err).Msg("snapshot unreadable, starting empty")
		}
		return result
	}

	messages, err := lifecycle.DecodeSnapshot(payload)
	if err != nil {
		r.logger.Warn().Err(err).Msg("snapshot corrupt, starting empty")
		return result
	}

	now := r.now()
	for _, msg := range messages {
		switch r.classify(msg, now) {
		case verdictAlive:
			if err := r.target.RestoreMessage(msg); err != nil {
				// A malformed or duplicate record is dropped, never fatal.
				r.logger.Debug().Err(err).Str("message_id", msg.ID).Msg("restore skipped")
				result.Discarded++
				continue
			}
			result.Restored++
		case verdictLapsed:
			result.Lapsed = append(result.Lapsed, msg)
		case verdictStale:
			result.Discarded++
		}
	}

	r.logger.Info().
		Int("restored", result.Restored).
		Int("lapsed", len(result.Lapsed)).
		Int("discarded", result.Discarded).
		Time("snapshot_saved_at", savedAt).
		Msg("snapshot reconciled")
	return result
}

type verdict int

const (
	// verdictAlive: progress < 1, the trajectory resumes mid-flight.
	verdictAlive verdict = iota
	// verdictLapsed: expired during downtime but within the grace window.
	// Never re-rendered, still counted by derived statistics.
	verdictLapsed
	// verdictStale: beyond lifetime plus grace; dropped entirely.
	verdictStale
)

func (r *Reconciler) classify(msg model.Message, now time.Time) verdict {
	if msg.Lifetime <= 0 {
		return verdictStale
	}
	elapsed := now.Sub(msg.SpawnTime)
	switch {
	case elapsed < msg.Lifetime:
		return verdictAlive
	case elapsed < msg.Lifetime+r.cfg.GracePeriod:
		return verdictLapsed
	default:
		return verdictStale
	}
}

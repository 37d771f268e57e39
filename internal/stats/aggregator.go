// Package stats derives reaction statistics from the message set. Two
// total figures are kept deliberately separate: a cumulative counter that
// only ever grows, and a currently-visible total folded over the active
// set. The consuming UI picks whichever it means.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/driftchat/drift/internal/model"
)

// Ranking windows.
const (
	WindowMinute     = time.Minute
	WindowTenMinutes = 10 * time.Minute
	WindowHour       = time.Hour
)

// Totals is a pair of reaction sums.
type Totals struct {
	Up   int
	Down int
}

// Aggregator folds reaction counts over active and recently-expired
// messages. Expired messages are retained up to the largest ranking window
// so a briefly-lived message still appears in the hourly top list.
type Aggregator struct {
	mu         sync.Mutex
	now        func() time.Time
	retention  time.Duration
	active     map[string]model.Message
	retired    []model.Message
	known      map[string]model.Reactions
	cumulative Totals
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:       time.Now,
		retention: WindowHour,
		active:    make(map[string]model.Message),
		known:     make(map[string]model.Reactions),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Track starts following a message. Counts it arrives with (a restored
// message, for instance) feed the cumulative totals once.
func (a *Aggregator) Track(msg model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active[msg.ID] = msg
	a.bump(msg.ID, msg.Reactions)
}

// Update refreshes the counts of an active message. Unknown ids are
// ignored; reaction updates for already-expired messages no longer move
// any visible figure.
func (a *Aggregator) Update(msg model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.active[msg.ID]; !ok {
		return
	}
	a.active[msg.ID] = msg
	a.bump(msg.ID, msg.Reactions)
}

// Retire moves a message out of the visible set while keeping it for
// window rankings. Also used for messages that lapsed while the client
// was offline.
func (a *Aggregator) Retire(msg model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bump(msg.ID, msg.Reactions)
	delete(a.active, msg.ID)
	a.retired = append(a.retired, msg)
	a.prune()
}

// CumulativeTotals returns the monotonic all-session totals.
func (a *Aggregator) CumulativeTotals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cumulative
}

// VisibleTotals folds the counts of currently-active messages.
func (a *Aggregator) VisibleTotals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()

	var totals Totals
	for _, msg := range a.active {
		totals.Up += msg.Reactions.Up
		totals.Down += msg.Reactions.Down
	}
	return totals
}

// Top ranks messages spawned inside the window by up-votes, most recent
// first on ties. Active and retained-expired messages both qualify.
func (a *Aggregator) Top(window time.Duration, limit int) []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-window)
	var candidates []model.Message
	for _, msg := range a.active {
		if msg.SpawnTime.After(cutoff) {
			candidates = append(candidates, msg)
		}
	}
	for _, msg := range a.retired {
		if msg.SpawnTime.After(cutoff) {
			candidates = append(candidates, msg)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Reactions.Up != candidates[j].Reactions.Up {
			return candidates[i].Reactions.Up > candidates[j].Reactions.Up
		}
		return candidates[i].SpawnTime.After(candidates[j].SpawnTime)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// bump feeds positive count deltas into the cumulative totals. The
// cumulative figure never decreases, even when an authoritative
// correction lowers a message's counts. Caller holds the lock.
func (a *Aggregator) bump(id string, counts model.Reactions) {
	prev := a.known[id]
	if d := counts.Up - prev.Up; d > 0 {
		a.cumulative.Up += d
	}
	if d := counts.Down - prev.Down; d > 0 {
		a.cumulative.Down += d
	}
	a.known[id] = counts
}

// prune drops retained messages older than the largest window. Caller
// holds the lock.
func (a *Aggregator) prune() {
	cutoff := a.now().Add(-a.retention)
	kept := a.retired[:0]
	for _, msg := range a.retired {
		if msg.SpawnTime.After(cutoff) {
			kept = append(kept, msg)
		} else {
			delete(a.known, msg.ID)
		}
	}
	a.retired = kept
}

package lane

import (
	"sync"
	"time"
)

// Activity level bounds. Level 1 is a quiet channel, level 5 a busy one.
const (
	MinLevel = 1
	MaxLevel = 5
)

// DefaultActivityWindow is the sliding window message throughput is
// measured over.
const DefaultActivityWindow = 30 * time.Second

// defaultLevelStep is how many messages per window raise the level by one.
const defaultLevelStep = 6

// Activity tracks recent message throughput and maps it onto a coarse
// 1-5 level used to modulate message lifetimes: the busier the channel,
// the shorter each message lives, producing a faster-feeling flow.
type Activity struct {
	mu        sync.Mutex
	window    time.Duration
	levelStep int
	samples   []time.Time
	now       func() time.Time
}

// ActivityOption configures an Activity tracker.
type ActivityOption func(*Activity)

// WithActivityNow overrides the clock, for tests.
func WithActivityNow(now func() time.Time) ActivityOption {
	return func(a *Activity) {
		if now != nil {
			a.now = now
		}
	}
}

// NewActivity creates a tracker over the given sliding window.
func NewActivity(window time.Duration, opts ...ActivityOption) *Activity {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	a := &Activity{
		window:    window,
		levelStep: defaultLevelStep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record notes one message arrival.
func (a *Activity) Record() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.prune(now)
	a.samples = append(a.samples, now)
}

// Count returns the number of messages inside the window.
func (a *Activity) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(a.now())
	return len(a.samples)
}

// Level returns the current activity level in [1,5].
func (a *Activity) Level() int {
	level := MinLevel + a.Count()/a.levelStep
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}

// Lifetime maps the current level linearly between max (quiet) and min
// (busy) lifetime durations.
func (a *Activity) Lifetime(min, max time.Duration) time.Duration {
	if min <= 0 || max <= 0 || min >= max {
		return max
	}
	level := a.Level()
	span := max - min
	step := span / time.Duration(MaxLevel-MinLevel)
	return max - time.Duration(level-MinLevel)*step
}

// prune drops samples older than the window. Caller holds the lock.
func (a *Activity) prune(now time.Time) {
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.samples) && !a.samples[i].After(cutoff) {
		i++
	}
	if i > 0 {
		a.samples = append(a.samples[:0], a.samples[i:]...)
	}
}

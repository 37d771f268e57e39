// Package model defines the core domain types for drift.
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength bounds the rendered message body.
const MaxTextLength = 500

// Validation errors.
var (
	ErrEmptyID     = errors.New("message id is required")
	ErrEmptyText   = errors.New("message text is required")
	ErrTextTooLong = errors.New("message text exceeds maximum length")
	ErrNoSpawnTime = errors.New("message spawn time is required")
)

// Direction identifies a reaction direction.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether the direction is one of the known values.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Reactions holds the vote counters for a message.
type Reactions struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

// Add returns a copy with the given direction incremented.
func (r Reactions) Add(direction Direction) Reactions {
	switch direction {
	case DirectionUp:
		r.Up++
	case DirectionDown:
		r.Down++
	}
	return r
}

// Message is the central entity: a transient chat message whose on-screen
// position is derived entirely from SpawnTime and the wall clock.
type Message struct {
	// ID is stable across reloads and is the dedup key for redelivered events.
	ID string `json:"id"`

	// Text and Author are immutable after creation.
	Text   string `json:"text"`
	Author string `json:"author"`

	// SpawnTime is the authoritative origin timestamp the whole trajectory is
	// computed from. Set once, never mutated.
	SpawnTime time.Time `json:"spawn_time"`

	// Lifetime is fixed at ingestion from the activity level at that instant.
	// Expiry is strictly SpawnTime + Lifetime, independent of arrival order.
	Lifetime time.Duration `json:"lifetime"`

	// Lane is the vertical slot assigned once and released on expiry.
	Lane int `json:"lane"`

	// IsUserMessage marks locally-sent messages. Affects styling only.
	IsUserMessage bool `json:"is_user_message,omitempty"`

	// Reactions caches the latest counts for rendering. The authoritative
	// values live on the remote side; on conflict the remote wins.
	Reactions Reactions `json:"reactions"`

	// ReactionVersion is the sequence number of the last authoritative
	// reaction update applied. Updates with a lower version are stale and
	// are dropped (last-writer-wins keyed by version, not arrival order).
	ReactionVersion int64 `json:"reaction_version,omitempty"`
}

// Validate checks the fields required for ingestion.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(m.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if m.SpawnTime.IsZero() {
		return ErrNoSpawnTime
	}
	return nil
}

// Progress returns the normalized elapsed-lifetime fraction, clamped to [0,1].
func (m *Message) Progress(now time.Time) float64 {
	if m.Lifetime <= 0 {
		return 1
	}
	p := float64(now.Sub(m.SpawnTime)) / float64(m.Lifetime)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Expired reports whether the message has reached the end of its lifetime.
func (m *Message) Expired(now time.Time) bool {
	return now.Sub(m.SpawnTime) >= m.Lifetime
}

// ExpiresAt returns the instant the message must leave the active set.
func (m *Message) ExpiresAt() time.Time {
	return m.SpawnTime.Add(m.Lifetime)
}

// Package position computes on-screen message placement as a pure function
// of elapsed time. The calculator has no side effects and no hidden state:
// identical inputs always yield identical output, which is what makes
// restoration after a reload reproduce the exact pre-reload position.
package position

import (
	"hash/fnv"
	"math"
	"time"
)

// Traversal geometry defaults, in viewport percent. Messages start fully
// off-screen on the right and end fully off-screen on the left.
const (
	DefaultStartX = 105.0
	DefaultEndX   = -35.0

	// The vertical band excludes reserved header/footer chrome.
	DefaultBandTop    = 12.0
	DefaultBandBottom = 88.0

	DefaultJitterPercent = 2.5
)

// Position is the rendered location of a message at a given instant.
type Position struct {
	// HorizontalPercent is the left offset in viewport percent. May be
	// outside [0,100] while the message is entering or leaving the screen.
	HorizontalPercent float64

	// VerticalPercent is the top offset in viewport percent.
	VerticalPercent float64

	// Progress is the normalized elapsed-lifetime fraction in [0,1].
	Progress float64

	// Expired is true once Progress reaches 1. Expired messages must be
	// removed from the active set and never re-rendered.
	Expired bool
}

// Calculator derives message positions from trajectory geometry.
type Calculator struct {
	StartX        float64
	EndX          float64
	BandTop       float64
	BandBottom    float64
	JitterPercent float64

	// Lanes is the size of the lane pool the vertical band is divided over.
	Lanes int
}

// NewCalculator returns a calculator with default geometry for a pool of
// the given size.
func NewCalculator(lanes int) Calculator {
	if lanes <= 0 {
		lanes = 1
	}
	return Calculator{
		StartX:        DefaultStartX,
		EndX:          DefaultEndX,
		BandTop:       DefaultBandTop,
		BandBottom:    DefaultBandBottom,
		JitterPercent: DefaultJitterPercent,
		Lanes:         lanes,
	}
}

// Compute returns where the message identified by id sits at now, given its
// fixed spawn time, lane and lifetime. Safe to call at arbitrary frequency.
func (c Calculator) Compute(spawnTime time.Time, lane int, id string, now time.Time, lifetime time.Duration) Position {
	progress := 1.0
	if lifetime > 0 {
		progress = float64(now.Sub(spawnTime)) / float64(lifetime)
	}
	if progress < 0 {
		progress = 0
	}
	expired := progress >= 1
	if progress > 1 {
		progress = 1
	}

	eased := easeOutQuart(progress)

	return Position{
		HorizontalPercent: c.StartX - eased*(c.StartX-c.EndX),
		VerticalPercent:   c.laneCenter(lane) + c.jitter(id),
		Progress:          progress,
		Expired:           expired,
	}
}

// easeOutQuart decelerates the traversal near the end. Any monotonic easing
// over [0,1] with fixed endpoints would do; this matches the rendered feel.
func easeOutQuart(p float64) float64 {
	return 1 - math.Pow(1-p, 4)
}

// laneCenter distributes lanes evenly across the safe vertical band.
func (c Calculator) laneCenter(lane int) float64 {
	lanes := c.Lanes
	if lanes <= 0 {
		lanes = 1
	}
	slot := lane % lanes
	if slot < 0 {
		slot += lanes
	}
	height := (c.BandBottom - c.BandTop) / float64(lanes)
	return c.BandTop + (float64(slot)+0.5)*height
}

// jitter derives a small deterministic vertical offset from the message id.
// Hash-seeded rather than random so repeated restorations place the same
// message identically.
func (c Calculator) jitter(id string) float64 {
	if c.JitterPercent == 0 || id == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	// Map the hash onto [-1, 1].
	unit := float64(h.Sum32())/float64(math.MaxUint32)*2 - 1
	return unit * c.JitterPercent
}

// Package schedule triggers message expiry at exact wall-clock moments.
// Expiry is authoritative here: the render loop polls positions for
// smoothness but never decides removal. A single goroutine dispatches
// callbacks off a min-heap of deadlines rather than arming one OS timer
// per message, which bounds resource usage under high message volume.
package schedule

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/driftchat/drift/internal/logging"
	"github.com/rs/zerolog"
)

// Driver errors.
var (
	ErrDriverAlreadyRunning = errors.New("driver already running")
	ErrDriverNotRunning     = errors.New("driver not running")
)

// idleWait is the timer horizon used when nothing is scheduled.
const idleWait = time.Hour

// ExpireFunc is invoked when a message's deadline passes. It runs on the
// driver goroutine and must not block.
type ExpireFunc func(id string)

// entry is a scheduled deadline, indexed for heap removal.
type entry struct {
	id    string
	at    time.Time
	index int
}

// deadlineHeap is a min-heap ordered by deadline.
type deadlineHeap []*entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Driver schedules per-message expiry callbacks.
type Driver struct {
	fire   ExpireFunc
	logger zerolog.Logger

	mu      sync.Mutex
	heap    deadlineHeap
	entries map[string]*entry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	done    chan struct{}
}

// NewDriver creates a driver that calls fire when a deadline passes.
func NewDriver(fire ExpireFunc) *Driver {
	return &Driver{
		fire:    fire,
		logger:  logging.Component("schedule"),
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins the dispatch loop.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrDriverAlreadyRunning
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.running = true

	go d.run()
	return nil
}

// Stop halts the dispatch loop. Pending deadlines are kept and resume if
// the driver is started again.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDriverNotRunning
	}
	d.running = false
	d.cancel()
	done := d.done
	d.mu.Unlock()

	<-done
	return nil
}

// Schedule arms (or re-arms) the deadline for a message id.
func (d *Driver) Schedule(id string, at time.Time) {
	d.mu.Lock()
	if e, ok := d.entries[id]; ok {
		e.at = at
		heap.Fix(&d.heap, e.index)
	} else {
		e := &entry{id: id, at: at}
		d.entries[id] = e
		heap.Push(&d.heap, e)
	}
	d.mu.Unlock()

	d.wakeUp()
}

// Cancel removes the deadline for a message id. Double-cancel and
// cancelling an unknown id are no-ops.
func (d *Driver) Cancel(id string) {
	d.mu.Lock()
	e, ok := d.entries[id]
	if ok {
		heap.Remove(&d.heap, e.index)
		delete(d.entries, id)
	}
	d.mu.Unlock()

	if ok {
		d.wakeUp()
	}
}

// Pending returns the number of armed deadlines.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// wakeUp nudges the loop to re-evaluate its next deadline.
func (d *Driver) wakeUp() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run is the dispatch loop.
func (d *Driver) run() {
	defer close(d.done)

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		due, wait := d.collectDue()

		for _, id := range due {
			d.fire(id)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// collectDue pops every deadline at or before now and returns the wait
// until the next one.
func (d *Driver) collectDue() ([]string, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var due []string
	for d.heap.Len() > 0 && !d.heap[0].at.After(now) {
		e := heap.Pop(&d.heap).(*entry)
		delete(d.entries, e.id)
		due = append(due, e.id)
	}

	wait := idleWait
	if d.heap.Len() > 0 {
		wait = d.heap[0].at.Sub(now)
	}
	return due, wait
}

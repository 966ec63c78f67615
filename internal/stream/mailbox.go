// Package stream feeds camera frames to a single analyzer worker.
//
// The producer publishes into a one-slot Mailbox and never blocks. If the
// worker is still busy when the next frame arrives, the pending frame is
// replaced and released. A slow worker therefore sees fewer frames instead
// of a growing queue.
package stream

import (
	"sync"
	"time"

	"github.com/MeKo-Tech/qrscan/internal/frame"
)

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Published        uint64
	Consumed         uint64
	Dropped          uint64
	ConsecutiveDrops uint64
	LastConsumedAt   time.Time
}

// Mailbox is a single-slot, overwrite-on-publish frame handoff.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  frame.Frame
	closed bool
	stats  Stats
	now    func() time.Time
}

// NewMailbox returns an open mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{now: time.Now}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish hands f to the worker without blocking. A frame still waiting in
// the slot is released and counted as dropped. Publishing to a closed
// mailbox releases f and returns false.
func (m *Mailbox) Publish(f frame.Frame) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = f.Close()
		return false
	}

	stale := m.frame
	m.frame = f
	m.stats.Published++
	if stale != nil {
		m.stats.Dropped++
		m.stats.ConsecutiveDrops++
	}
	m.cond.Signal()
	m.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	return true
}

// Next blocks until a frame is available and hands ownership to the caller.
// It returns nil once the mailbox is closed.
func (m *Mailbox) Next() frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil
	}

	f := m.frame
	m.frame = nil
	m.stats.Consumed++
	m.stats.ConsecutiveDrops = 0
	m.stats.LastConsumedAt = m.now()
	return f
}

// Close wakes the worker and releases any pending frame. It is idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.frame
	m.frame = nil
	if pending != nil {
		m.stats.Dropped++
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	if pending != nil {
		_ = pending.Close()
	}
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns a snapshot of the counters.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

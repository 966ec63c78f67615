// Package common provides timing and runtime statistics shared by the
// analyzer, the CLI and the server.
package common

import (
	"fmt"
	"time"
)

// Timer measures a single span against an injectable clock.
type Timer struct {
	name    string
	now     func() time.Time
	start   time.Time
	elapsed time.Duration
}

// NewNamedTimer starts a timer on the wall clock.
func NewNamedTimer(name string) *Timer {
	return NewTimerWithClock(name, time.Now)
}

// NewTimerWithClock starts a timer reading now. Analyzer tests pass a fake
// clock so decode durations are deterministic.
func NewTimerWithClock(name string, now func() time.Time) *Timer {
	return &Timer{name: name, now: now, start: now()}
}

// Stop records and returns the time since the timer started. Calling Stop
// again extends the span.
func (t *Timer) Stop() time.Duration {
	t.elapsed = t.now().Sub(t.start)
	return t.elapsed
}

// Name returns the label given at construction.
func (t *Timer) Name() string { return t.name }

func (t *Timer) String() string {
	if t.name == "" {
		return t.elapsed.String()
	}
	return fmt.Sprintf("%s: %v", t.name, t.elapsed)
}

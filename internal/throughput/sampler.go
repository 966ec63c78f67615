// Package throughput measures how many frames per second the analyzer
// processes.
package throughput

import (
	"log/slog"
	"time"
)

// DefaultEvery is the number of frames per measurement window.
const DefaultEvery = 10

// Sample is one completed measurement window.
type Sample struct {
	Frames  int
	Elapsed time.Duration
	FPS     float64
}

// Clock returns the current time. time.Now carries a monotonic reading,
// which keeps measurements immune to wall clock adjustments.
type Clock func() time.Time

// Sampler counts ticks and emits one Sample every N of them. It is purely
// observational and not safe for concurrent use; the analyzer ticks it from
// its single worker.
type Sampler struct {
	every  int
	clock  Clock
	emit   func(Sample)
	count  int
	start  time.Time
	logger *slog.Logger
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithEvery sets the window size. Values below one are ignored.
func WithEvery(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.every = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(c Clock) Option {
	return func(s *Sampler) { s.clock = c }
}

// WithEmit replaces the default log emitter.
func WithEmit(fn func(Sample)) Option {
	return func(s *Sampler) { s.emit = fn }
}

// WithLogger sets the logger used by the default emitter.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// New returns a sampler measuring every DefaultEvery frames. The clock is
// read once here and then only when a window closes.
func New(opts ...Option) *Sampler {
	s := &Sampler{every: DefaultEvery, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.emit == nil {
		s.emit = s.log
	}
	s.start = s.clock()
	return s
}

func (s *Sampler) log(sample Sample) {
	s.logger.Debug("Analysis FPS",
		"fps", sample.FPS,
		"frames", sample.Frames,
		"elapsed_ms", sample.Elapsed.Milliseconds())
}

// Tick records one processed frame. When a window completes it emits and
// returns the sample, then starts the next window from the current time.
// The first window starts when the sampler is created.
func (s *Sampler) Tick() (Sample, bool) {
	s.count++
	if s.count < s.every {
		return Sample{}, false
	}

	now := s.clock()
	elapsed := now.Sub(s.start)
	sample := Sample{Frames: s.count, Elapsed: elapsed}
	if elapsed > 0 {
		sample.FPS = float64(s.count) / elapsed.Seconds()
	}
	s.count = 0
	s.start = now
	s.emit(sample)
	return sample, true
}

// Every returns the window size.
func (s *Sampler) Every() int { return s.every }

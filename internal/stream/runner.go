package stream

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
)

// Analyzer processes one frame and releases it.
type Analyzer interface {
	Analyze(ctx context.Context, f frame.Frame) error
}

// Runner is the single worker draining a Mailbox into an Analyzer.
type Runner struct {
	analyzer Analyzer
	mailbox  *Mailbox
	logger   *slog.Logger
	onError  func(error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithErrorHandler receives per-frame errors the runner recovers from.
func WithErrorHandler(fn func(error)) RunnerOption {
	return func(r *Runner) { r.onError = fn }
}

// NewRunner creates a runner for a and m.
func NewRunner(a Analyzer, m *Mailbox, opts ...RunnerOption) *Runner {
	r := &Runner{analyzer: a, mailbox: m}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run analyzes frames one at a time until the mailbox is closed or ctx is
// done, which closes the mailbox. Frame-level errors are logged and the
// stream continues; an unsupported rotation stops the runner and is
// returned because it means the producer is misconfigured.
func (r *Runner) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.mailbox.Close)
	defer stop()

	for {
		f := r.mailbox.Next()
		if f == nil {
			return nil
		}

		err := r.analyzer.Analyze(ctx, f)
		switch {
		case err == nil:
		case errors.Is(err, geometry.ErrUnsupportedRotation):
			r.mailbox.Close()
			r.logger.Error("Stopping frame stream", "error", err)
			return err
		default:
			r.logger.Warn("Frame analysis failed", "error", err)
			if r.onError != nil {
				r.onError(err)
			}
		}
	}
}

// Package analyzer drives one decode attempt per camera frame.
//
// For every frame the Analyzer asks its Cropper for the scan region, packs
// that region into an NV21 luminance buffer, hands it to the barcode
// decoder and reports a successful decode through the result callback.
// The decoder is reset after every attempt and the frame is released
// exactly once on every path.
//
// An Analyzer is not safe for concurrent Analyze calls. Frames are expected
// from a single worker, one at a time; stream.Runner provides that worker.
// Processing frames in parallel would require a decoder per goroutine and
// a synchronized throughput sampler.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/MeKo-Tech/qrscan/internal/barcode"
	"github.com/MeKo-Tech/qrscan/internal/common"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/throughput"
	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

// Result is a decoded symbol located in frame coordinates.
type Result struct {
	barcode.Result
	// Crop is the frame region the symbol was decoded from.
	Crop     image.Rectangle
	Rotation int
	// Sequence counts processed frames, starting at 1.
	Sequence uint64
}

// ResultFunc receives each successful decode. It runs on the analyzer's
// goroutine before the decoder is reset.
type ResultFunc func(Result)

// Analyzer is the per-frame decode driver.
type Analyzer struct {
	decoder     barcode.Decoder
	cropper     Cropper
	onResult    ResultFunc
	logger      *slog.Logger
	sampler     *throughput.Sampler
	observer    Observer
	snapshotDir string
	snapshotID  string
	clock       func() time.Time
	seq         uint64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithSampler replaces the default throughput sampler.
func WithSampler(s *throughput.Sampler) Option {
	return func(a *Analyzer) { a.sampler = s }
}

// WithObserver registers a per-frame outcome hook.
func WithObserver(o Observer) Option {
	return func(a *Analyzer) { a.observer = o }
}

// WithSnapshotDir saves the crop of every decoded frame as PNG
// into dir.
func WithSnapshotDir(dir string) Option {
	return func(a *Analyzer) { a.snapshotDir = dir }
}

// WithSnapshotID names this analyzer's snapshots so several analyzers can
// share one snapshot dir. New picks a random id when unset.
func WithSnapshotID(id string) Option {
	return func(a *Analyzer) { a.snapshotID = id }
}

// WithClock sets the clock used to time decode attempts.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.clock = now }
}

// New creates an Analyzer. onResult may be nil.
func New(decoder barcode.Decoder, cropper Cropper, onResult ResultFunc, opts ...Option) (*Analyzer, error) {
	if decoder == nil {
		return nil, errors.New("analyzer: decoder is required")
	}
	if cropper == nil {
		return nil, errors.New("analyzer: cropper is required")
	}
	a := &Analyzer{
		decoder:  decoder,
		cropper:  cropper,
		onResult: onResult,
		observer: nopObserver{},
		clock:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.sampler == nil {
		a.sampler = throughput.New(throughput.WithLogger(a.logger))
	}
	if a.onResult == nil {
		a.onResult = func(Result) {}
	}
	if a.snapshotID == "" {
		a.snapshotID = uuid.NewString()
	}
	return a, nil
}

// Analyze processes one frame and releases it before returning.
//
// A frame without a readable symbol is not an error. Malformed frames
// return an error wrapping yuv.ErrMalformedFrame; the caller should skip
// the frame and keep streaming. geometry.ErrUnsupportedRotation signals a
// caller bug and should stop the stream.
func (a *Analyzer) Analyze(ctx context.Context, f frame.Frame) (err error) {
	if f == nil {
		a.observer.Observe(OutcomeMalformed, 0)
		return fmt.Errorf("%w: nil frame", yuv.ErrMalformedFrame)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("analyzer: release frame: %w", cerr)
		}
	}()

	rotation := f.Rotation()
	if err := geometry.CheckRotation(rotation); err != nil {
		a.observer.Observe(OutcomeError, 0)
		return err
	}

	crop, ok, err := a.cropper.Crop(f.Width(), f.Height(), rotation)
	if err != nil {
		a.observer.Observe(OutcomeError, 0)
		return fmt.Errorf("analyzer: crop: %w", err)
	}
	if !ok {
		a.observer.Observe(OutcomeSkipped, 0)
		return nil
	}

	a.seq++
	seq := a.seq
	defer a.sampler.Tick()
	defer a.decoder.Reset()

	lum, err := yuv.ToNV21(f, crop)
	if err != nil {
		a.observer.Observe(OutcomeMalformed, 0)
		a.logger.Debug("Dropping malformed frame", "seq", seq, "error", err)
		return err
	}

	timer := common.NewTimerWithClock("decode", a.clock)
	res, err := a.decoder.Decode(ctx, lum)
	took := timer.Stop()
	switch {
	case errors.Is(err, barcode.ErrNotFound):
		a.observer.Observe(OutcomeMiss, took)
		return nil
	case err != nil:
		a.observer.Observe(OutcomeError, took)
		return fmt.Errorf("analyzer: decode: %w", err)
	}

	a.observer.Observe(OutcomeDecoded, took)
	out := Result{
		Result:   res.Offset(crop.Min),
		Crop:     crop,
		Rotation: rotation,
		Sequence: seq,
	}
	a.logger.Debug("Decoded symbol",
		"seq", seq,
		"format", res.Format.String(),
		"crop", crop.String(),
		"decode_ms", took.Milliseconds())

	if a.snapshotDir != "" {
		a.saveSnapshot(lum, seq)
	}
	a.onResult(out)
	return nil
}

// Processed returns the number of frames that reached the decoder stage.
func (a *Analyzer) Processed() uint64 { return a.seq }

func (a *Analyzer) saveSnapshot(lum *yuv.Luminance, seq uint64) {
	if err := os.MkdirAll(a.snapshotDir, 0o750); err != nil {
		a.logger.Warn("Failed to create snapshot dir", "dir", a.snapshotDir, "error", err)
		return
	}
	path := filepath.Join(a.snapshotDir, snapshotName(a.snapshotID, seq))
	if err := imaging.Save(lum.Image(), path); err != nil {
		a.logger.Warn("Failed to save snapshot", "path", path, "error", err)
	}
}

// snapshotName keeps names unique per analyzer; id is reduced to file-safe
// characters.
func snapshotName(id string, seq uint64) string {
	safe := []rune(id)
	for i, r := range safe {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			safe[i] = '_'
		}
	}
	return fmt.Sprintf("decoded_%s_%06d.png", string(safe), seq)
}

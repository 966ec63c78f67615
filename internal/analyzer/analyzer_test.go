package analyzer

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrscan/internal/barcode"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/throughput"
	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

// scriptedDecoder replays queued outcomes and records every call.
type scriptedDecoder struct {
	calls   []string
	results []barcode.Result
	errs    []error
	seen    []*yuv.Luminance
}

func (d *scriptedDecoder) push(r barcode.Result, err error) {
	d.results = append(d.results, r)
	d.errs = append(d.errs, err)
}

func (d *scriptedDecoder) Decode(_ context.Context, lum *yuv.Luminance) (barcode.Result, error) {
	d.calls = append(d.calls, "decode")
	d.seen = append(d.seen, lum)
	if len(d.results) == 0 {
		return barcode.Result{}, barcode.ErrNotFound
	}
	r, err := d.results[0], d.errs[0]
	d.results, d.errs = d.results[1:], d.errs[1:]
	return r, err
}

func (d *scriptedDecoder) Reset() { d.calls = append(d.calls, "reset") }

func (d *scriptedDecoder) count(name string) int {
	n := 0
	for _, c := range d.calls {
		if c == name {
			n++
		}
	}
	return n
}

// countingFrame wraps a buffer and counts release calls.
type countingFrame struct {
	*frame.Buffer
	closes int
}

func (f *countingFrame) Close() error {
	f.closes++
	return f.Buffer.Close()
}

func grayFrame(t *testing.T, w, h, rotation int) *countingFrame {
	t.Helper()
	data := make([]byte, w*h)
	for i := range data {
		data[i] = byte(i)
	}
	b, err := frame.NewBuffer(w, h, []frame.Plane{{Data: data, RowStride: w, PixelStride: 1}}, frame.WithRotation(rotation))
	require.NoError(t, err)
	return &countingFrame{Buffer: b}
}

func yuvFrame(t *testing.T, w, h int) *countingFrame {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	b, err := frame.FromImage(img, frame.BuildOptions{Layout: frame.LayoutNV21, RowPadding: 8})
	require.NoError(t, err)
	return &countingFrame{Buffer: b}
}

func percentTarget(t *testing.T, p int) *Target {
	t.Helper()
	target, err := NewTarget(p)
	require.NoError(t, err)
	return target
}

type recorder struct {
	outcomes []Outcome
}

func (r *recorder) Observe(o Outcome, _ time.Duration) { r.outcomes = append(r.outcomes, o) }

func quietSampler() *throughput.Sampler {
	return throughput.New(throughput.WithEmit(func(throughput.Sample) {}))
}

func TestAnalyze_SuccessInvokesCallbackThenResets(t *testing.T) {
	dec := &scriptedDecoder{}
	dec.push(barcode.Result{Text: "hello", Format: barcode.FormatQR, Points: []barcode.Point{{X: 1, Y: 2}}}, nil)

	var got []Result
	a, err := New(dec, PercentCropper{Target: percentTarget(t, 50)}, func(r Result) {
		dec.calls = append(dec.calls, "callback")
		got = append(got, r)
	}, WithSampler(quietSampler()))
	require.NoError(t, err)

	f := grayFrame(t, 640, 480, 0)
	require.NoError(t, a.Analyze(context.Background(), f))

	assert.Equal(t, []string{"decode", "callback", "reset"}, dec.calls)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, image.Rect(200, 120, 440, 360), got[0].Crop)
	assert.Equal(t, []barcode.Point{{X: 201, Y: 122}}, got[0].Points, "points are in frame coordinates")
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, 1, f.closes)
	assert.True(t, f.Released())
}

func TestAnalyze_MissResetsWithoutCallback(t *testing.T) {
	dec := &scriptedDecoder{}
	called := false
	a, err := New(dec, PercentCropper{Target: percentTarget(t, 60)}, func(Result) { called = true },
		WithSampler(quietSampler()))
	require.NoError(t, err)

	f := grayFrame(t, 320, 240, 90)
	require.NoError(t, a.Analyze(context.Background(), f))

	assert.False(t, called)
	assert.Equal(t, []string{"decode", "reset"}, dec.calls)
	assert.Equal(t, 1, f.closes)
}

func TestAnalyze_ResetOncePerAttempt(t *testing.T) {
	dec := &scriptedDecoder{}
	dec.push(barcode.Result{Text: "a"}, nil)
	dec.push(barcode.Result{}, barcode.ErrNotFound)
	dec.push(barcode.Result{Text: "b"}, nil)
	dec.push(barcode.Result{}, errors.New("reader exploded"))

	a, err := New(dec, FullFrame{}, nil, WithSampler(quietSampler()))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_ = a.Analyze(context.Background(), grayFrame(t, 64, 48, 0))
	}
	assert.Equal(t, 4, dec.count("decode"))
	assert.Equal(t, 4, dec.count("reset"))
	for i := 0; i < len(dec.calls); i += 2 {
		assert.Equal(t, []string{"decode", "reset"}, dec.calls[i:i+2])
	}
}

func TestAnalyze_NoTargetReleasesWithoutProcessing(t *testing.T) {
	dec := &scriptedDecoder{}
	rec := &recorder{}
	target := percentTarget(t, 0)
	a, err := New(dec, PercentCropper{Target: target}, nil, WithObserver(rec), WithSampler(quietSampler()))
	require.NoError(t, err)

	f := grayFrame(t, 64, 48, 0)
	require.NoError(t, a.Analyze(context.Background(), f))
	assert.Equal(t, 1, f.closes)
	assert.Empty(t, dec.calls)
	assert.Equal(t, []Outcome{OutcomeSkipped}, rec.outcomes)
	assert.Zero(t, a.Processed())

	require.NoError(t, target.SetPercent(50))
	f = grayFrame(t, 64, 48, 0)
	require.NoError(t, a.Analyze(context.Background(), f))
	assert.Equal(t, 1, f.closes)
	assert.Equal(t, uint64(1), a.Processed())
}

func TestAnalyze_MalformedFrameIsRecoverable(t *testing.T) {
	dec := &scriptedDecoder{}
	dec.push(barcode.Result{Text: "after"}, nil)
	rec := &recorder{}
	var got []string
	a, err := New(dec, FullFrame{}, func(r Result) { got = append(got, r.Text) },
		WithObserver(rec), WithSampler(quietSampler()))
	require.NoError(t, err)

	bad := grayFrame(t, 64, 48, 0)
	bad.Planes()[0].RowStride = 0
	err = a.Analyze(context.Background(), bad)
	require.ErrorIs(t, err, yuv.ErrMalformedFrame)
	assert.Equal(t, 1, bad.closes)
	assert.Empty(t, got)
	assert.Equal(t, []string{"reset"}, dec.calls)

	good := grayFrame(t, 64, 48, 0)
	require.NoError(t, a.Analyze(context.Background(), good))
	assert.Equal(t, []string{"after"}, got)
	assert.Equal(t, []Outcome{OutcomeMalformed, OutcomeDecoded}, rec.outcomes)
}

func TestAnalyze_HugeDeclaredFrameIsMalformed(t *testing.T) {
	dec := &scriptedDecoder{}
	rec := &recorder{}
	a, err := New(dec, PercentCropper{Target: percentTarget(t, 60)}, nil,
		WithObserver(rec), WithSampler(quietSampler()))
	require.NoError(t, err)

	tiny := func() frame.Plane { return frame.Plane{Data: make([]byte, 16), RowStride: 4, PixelStride: 1} }
	b, err := frame.NewBuffer(1_000_000_000, 1_000_000_000, []frame.Plane{tiny(), tiny(), tiny()})
	require.NoError(t, err)
	f := &countingFrame{Buffer: b}

	assert.NotPanics(t, func() {
		err = a.Analyze(context.Background(), f)
	})
	require.ErrorIs(t, err, yuv.ErrMalformedFrame)
	assert.Equal(t, 1, f.closes)
	assert.Zero(t, dec.count("decode"))
	assert.Equal(t, []Outcome{OutcomeMalformed}, rec.outcomes)
}

func TestAnalyze_DecodeFailureStillReleases(t *testing.T) {
	dec := &scriptedDecoder{}
	dec.push(barcode.Result{}, errors.New("boom"))
	a, err := New(dec, FullFrame{}, nil, WithSampler(quietSampler()))
	require.NoError(t, err)

	f := grayFrame(t, 64, 48, 0)
	err = a.Analyze(context.Background(), f)
	require.Error(t, err)
	assert.NotErrorIs(t, err, barcode.ErrNotFound)
	assert.Equal(t, 1, f.closes)
	assert.Equal(t, 1, dec.count("reset"))
}

func TestAnalyze_UnsupportedRotationPropagates(t *testing.T) {
	dec := &scriptedDecoder{}
	target := percentTarget(t, 50)
	target.SetOverlay(geometry.Overlay{Size: image.Pt(640, 480), Scan: image.Rect(0, 0, 100, 100)})

	for _, c := range []Cropper{PercentCropper{Target: target}, OverlayCropper{Target: target}} {
		a, err := New(dec, c, nil, WithSampler(quietSampler()))
		require.NoError(t, err)

		f := grayFrame(t, 64, 48, 45)
		err = a.Analyze(context.Background(), f)
		require.ErrorIs(t, err, geometry.ErrUnsupportedRotation)
		assert.Equal(t, 1, f.closes)
	}
	assert.Empty(t, dec.calls)
}

func TestAnalyze_NilFrame(t *testing.T) {
	a, err := New(&scriptedDecoder{}, FullFrame{}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, a.Analyze(context.Background(), nil), yuv.ErrMalformedFrame)
}

func TestAnalyze_ConvertsCropToNV21(t *testing.T) {
	dec := &scriptedDecoder{}
	a, err := New(dec, PercentCropper{Target: percentTarget(t, 50)}, nil, WithSampler(quietSampler()))
	require.NoError(t, err)

	require.NoError(t, a.Analyze(context.Background(), yuvFrame(t, 64, 48)))
	require.Len(t, dec.seen, 1)
	lum := dec.seen[0]
	assert.Equal(t, yuv.LayoutNV21, lum.Layout)
	assert.Equal(t, 24, lum.Width)
	assert.Equal(t, 24, lum.Height)
	assert.Len(t, lum.Data, 24*24*3/2)
}

func TestAnalyze_SamplerTicksPerProcessedFrame(t *testing.T) {
	samples := 0
	sampler := throughput.New(throughput.WithEvery(3), throughput.WithEmit(func(throughput.Sample) { samples++ }))
	target := percentTarget(t, 0)
	a, err := New(&scriptedDecoder{}, PercentCropper{Target: target}, nil, WithSampler(sampler))
	require.NoError(t, err)

	// Skipped frames are not processed and do not count.
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Analyze(context.Background(), grayFrame(t, 32, 32, 0)))
	}
	assert.Zero(t, samples)

	require.NoError(t, target.SetPercent(100))
	for i := 0; i < 6; i++ {
		require.NoError(t, a.Analyze(context.Background(), grayFrame(t, 32, 32, 0)))
	}
	assert.Equal(t, 2, samples)
}

func TestAnalyze_ObserverReceivesDecodeDuration(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(5 * time.Millisecond)
		return now
	}
	var durations []time.Duration
	obs := ObserverFunc(func(_ Outcome, d time.Duration) { durations = append(durations, d) })

	a, err := New(&scriptedDecoder{}, FullFrame{}, nil, WithClock(clock), WithObserver(obs), WithSampler(quietSampler()))
	require.NoError(t, err)
	require.NoError(t, a.Analyze(context.Background(), grayFrame(t, 16, 16, 0)))
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, durations)
}

func TestAnalyze_SnapshotOnDecode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	dec := &scriptedDecoder{}
	dec.push(barcode.Result{Text: "snap"}, nil)

	a, err := New(dec, FullFrame{}, nil, WithSnapshotDir(dir), WithSnapshotID("cam-1"), WithSampler(quietSampler()))
	require.NoError(t, err)
	require.NoError(t, a.Analyze(context.Background(), grayFrame(t, 16, 16, 0)))

	_, err = os.Stat(filepath.Join(dir, "decoded_cam-1_000001.png"))
	require.NoError(t, err)
}

func TestAnalyze_SnapshotsFromSeparateAnalyzersShareDir(t *testing.T) {
	dir := t.TempDir()
	newSnapshotting := func(opts ...Option) *Analyzer {
		dec := &scriptedDecoder{}
		dec.push(barcode.Result{Text: "snap"}, nil)
		opts = append(opts, WithSnapshotDir(dir), WithSampler(quietSampler()))
		a, err := New(dec, FullFrame{}, nil, opts...)
		require.NoError(t, err)
		return a
	}

	analyzers := []*Analyzer{
		newSnapshotting(WithSnapshotID("session-a")),
		newSnapshotting(WithSnapshotID("session-b")),
		newSnapshotting(),
		newSnapshotting(),
	}
	for _, a := range analyzers {
		require.NoError(t, a.Analyze(context.Background(), grayFrame(t, 16, 16, 0)))
	}

	snaps, err := filepath.Glob(filepath.Join(dir, "*.png"))
	require.NoError(t, err)
	assert.Len(t, snaps, len(analyzers))
}

func TestSnapshotName(t *testing.T) {
	assert.Equal(t, "decoded_abc-1_000007.png", snapshotName("abc-1", 7))
	assert.Equal(t, "decoded____x_000001.png", snapshotName("../x", 1))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, FullFrame{}, nil)
	require.Error(t, err)
	_, err = New(&scriptedDecoder{}, nil, nil)
	require.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "decoded", OutcomeDecoded.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "malformed", OutcomeMalformed.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

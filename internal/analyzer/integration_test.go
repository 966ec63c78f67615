package analyzer

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrscan/internal/barcode"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/testutil"
)

func newZXing(t *testing.T) *barcode.ZXingDecoder {
	t.Helper()
	dec, err := barcode.NewDecoder(barcode.Options{Formats: []barcode.Format{barcode.FormatQR}})
	require.NoError(t, err)
	return dec
}

func TestAnalyzer_DecodesQRFromPaddedNV21(t *testing.T) {
	target := percentTarget(t, 70)
	var got []Result
	a, err := New(newZXing(t), PercentCropper{Target: target}, func(r Result) { got = append(got, r) },
		WithSampler(quietSampler()))
	require.NoError(t, err)

	f := testutil.QRFrame(t, testutil.DefaultSceneConfig("attestation:42"),
		frame.BuildOptions{Layout: frame.LayoutNV21, RowPadding: 24})
	require.NoError(t, a.Analyze(context.Background(), f))
	assert.True(t, f.Released())

	require.Len(t, got, 1)
	assert.Equal(t, "attestation:42", got[0].Text)
	assert.Equal(t, barcode.FormatQR, got[0].Format)
	assert.True(t, got[0].BBox.In(got[0].Crop), "symbol box lies inside the crop in frame coordinates")
}

func TestAnalyzer_CodeOutsideCropIsMissed(t *testing.T) {
	scene := testutil.DefaultSceneConfig("corner")
	scene.CodeSize = 120
	scene.Offset = image.Pt(-240, -170)

	var got []Result
	a, err := New(newZXing(t), PercentCropper{Target: percentTarget(t, 40)}, func(r Result) { got = append(got, r) },
		WithSampler(quietSampler()))
	require.NoError(t, err)

	f := testutil.QRFrame(t, scene, frame.BuildOptions{Layout: frame.LayoutI420})
	require.NoError(t, a.Analyze(context.Background(), f))
	assert.Empty(t, got)

	// The same frame decodes once the whole sensor is examined.
	full, err := New(newZXing(t), FullFrame{}, func(r Result) { got = append(got, r) }, WithSampler(quietSampler()))
	require.NoError(t, err)
	require.NoError(t, full.Analyze(context.Background(), testutil.QRFrame(t, scene, frame.BuildOptions{Layout: frame.LayoutI420})))
	require.Len(t, got, 1)
	assert.Equal(t, "corner", got[0].Text)
}

func TestAnalyzer_OverlayModeRotatedSensor(t *testing.T) {
	// A portrait display over a landscape sensor mounted at 90 degrees.
	scene := testutil.DefaultSceneConfig("rotated")
	scene.Size = testutil.ImageSize{Width: 480, Height: 640}
	scene.Rotation = 90

	target := &Target{}
	target.SetOverlay(geometry.Overlay{Size: image.Pt(480, 640), Scan: image.Rect(80, 160, 400, 480)})

	var got []Result
	a, err := New(newZXing(t), OverlayCropper{Target: target}, func(r Result) { got = append(got, r) },
		WithSampler(quietSampler()))
	require.NoError(t, err)

	f := testutil.QRFrame(t, scene, frame.BuildOptions{Layout: frame.LayoutNV21, Rotation: 90})
	require.Equal(t, 640, f.Width())
	require.NoError(t, a.Analyze(context.Background(), f))

	require.Len(t, got, 1)
	assert.Equal(t, "rotated", got[0].Text)
	assert.Equal(t, 90, got[0].Rotation)
}

func TestAnalyzer_StreamOfFramesKeepsDecoding(t *testing.T) {
	var got []string
	a, err := New(newZXing(t), PercentCropper{Target: percentTarget(t, 80)}, func(r Result) { got = append(got, r.Text) },
		WithSampler(quietSampler()))
	require.NoError(t, err)

	payloads := []string{"one", "", "two", "", "three"}
	for _, p := range payloads {
		require.NoError(t, a.Analyze(context.Background(),
			testutil.QRFrame(t, testutil.DefaultSceneConfig(p), frame.BuildOptions{Layout: frame.LayoutNV21})))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.Equal(t, uint64(5), a.Processed())
}

func BenchmarkAnalyze_QRFrame(b *testing.B) {
	img, err := testutil.GenerateScene(testutil.DefaultSceneConfig("benchmark"))
	require.NoError(b, err)
	src, err := frame.FromImage(img, frame.BuildOptions{Layout: frame.LayoutNV21, RowPadding: 32})
	require.NoError(b, err)

	dec, err := barcode.NewDecoder(barcode.Options{Formats: []barcode.Format{barcode.FormatQR}})
	require.NoError(b, err)
	target, err := NewTarget(70)
	require.NoError(b, err)

	decoded := 0
	a, err := New(dec, PercentCropper{Target: target}, func(Result) { decoded++ }, WithSampler(quietSampler()))
	require.NoError(b, err)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f, _ := frame.NewBuffer(src.Width(), src.Height(), src.Planes())
		if err := a.Analyze(ctx, f); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	assert.Equal(b, b.N, decoded)
}

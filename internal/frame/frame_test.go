package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestBuffer_CloseReleasesOnce(t *testing.T) {
	calls := 0
	b, err := NewBuffer(2, 2, []Plane{{Data: make([]byte, 4), RowStride: 2, PixelStride: 1}},
		WithRelease(func() { calls++ }), WithRotation(90))
	require.NoError(t, err)
	assert.Equal(t, 90, b.Rotation())
	assert.False(t, b.Released())

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Close(), ErrReleased)
	assert.Equal(t, 1, calls)
	assert.True(t, b.Released())
}

func TestNewBuffer_RejectsBadInput(t *testing.T) {
	_, err := NewBuffer(-1, 2, []Plane{{}})
	require.Error(t, err)

	_, err = NewBuffer(2, 2, nil)
	require.Error(t, err)

	_, err = NewBuffer(2, 2, make([]Plane, 4))
	require.Error(t, err)
}

func TestFromImage_Layouts(t *testing.T) {
	img := solidImage(6, 4, color.White)

	tests := []struct {
		name        string
		opts        BuildOptions
		planes      int
		chromaRS    int
		chromaPS    int
		lumaRS      int
		lumaDataLen int
	}{
		{name: "gray", opts: BuildOptions{Layout: LayoutGray}, planes: 1, lumaRS: 6, lumaDataLen: 24},
		{name: "i420", opts: BuildOptions{Layout: LayoutI420}, planes: 3, chromaRS: 3, chromaPS: 1, lumaRS: 6, lumaDataLen: 24},
		{name: "i420 padded", opts: BuildOptions{Layout: LayoutI420, RowPadding: 5}, planes: 3, chromaRS: 8, chromaPS: 1, lumaRS: 11, lumaDataLen: 44},
		{name: "nv21", opts: BuildOptions{Layout: LayoutNV21}, planes: 3, chromaRS: 6, chromaPS: 2, lumaRS: 6, lumaDataLen: 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FromImage(img, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, 6, f.Width())
			assert.Equal(t, 4, f.Height())

			planes := f.Planes()
			require.Len(t, planes, tt.planes)
			assert.Equal(t, tt.lumaRS, planes[0].RowStride)
			assert.Len(t, planes[0].Data, tt.lumaDataLen)
			assert.Equal(t, byte(255), planes[0].Data[0])
			for _, p := range planes[1:] {
				assert.Equal(t, tt.chromaRS, p.RowStride)
				assert.Equal(t, tt.chromaPS, p.PixelStride)
				assert.Equal(t, byte(128), p.Data[0])
			}
		})
	}
}

func TestFromImage_NV21InterleavesVU(t *testing.T) {
	red := solidImage(2, 2, color.RGBA{R: 255, A: 255})
	f, err := FromImage(red, BuildOptions{Layout: LayoutNV21})
	require.NoError(t, err)

	_, cb, cr := color.RGBToYCbCr(255, 0, 0)
	planes := f.Planes()
	// the V view starts the shared buffer, the U view is offset by one
	assert.Equal(t, cr, planes[2].Data[0])
	assert.Equal(t, cb, planes[2].Data[1])
	assert.Equal(t, cb, planes[1].Data[0])
}

func TestFromImage_Errors(t *testing.T) {
	_, err := FromImage(nil, BuildOptions{})
	require.Error(t, err)

	_, err = FromImage(solidImage(2, 2, color.Black), BuildOptions{RowPadding: -1})
	require.Error(t, err)

	_, err = FromImage(solidImage(2, 2, color.Black), BuildOptions{Layout: Layout(42)})
	require.Error(t, err)
}

func TestParseLayout(t *testing.T) {
	for in, want := range map[string]Layout{"i420": LayoutI420, "yuv": LayoutI420, "nv21": LayoutNV21, "gray": LayoutGray} {
		got, err := ParseLayout(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEmpty(t, got.String())
	}
	_, err := ParseLayout("rgb")
	require.Error(t, err)
}

func TestReadRaw(t *testing.T) {
	// 4x2 luma followed by 2x1 chroma
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 20, 21, 30, 31}

	f, err := ReadRaw(bytes.NewReader(data), 4, 2, LayoutI420)
	require.NoError(t, err)
	planes := f.Planes()
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, planes[0].Data)
	assert.Equal(t, []byte{20, 21}, planes[1].Data)
	assert.Equal(t, []byte{30, 31}, planes[2].Data)

	f, err = ReadRaw(bytes.NewReader(data), 4, 2, LayoutNV21)
	require.NoError(t, err)
	planes = f.Planes()
	assert.Equal(t, byte(21), planes[1].Data[0])
	assert.Equal(t, byte(20), planes[2].Data[0])
	assert.Equal(t, 2, planes[1].PixelStride)

	_, err = ReadRaw(bytes.NewReader(data[:5]), 4, 2, LayoutI420)
	require.Error(t, err)

	_, err = ReadRaw(bytes.NewReader(data), 0, 2, LayoutGray)
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "frame.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(8, 6, color.Black)))
	require.NoError(t, os.WriteFile(pngPath, buf.Bytes(), 0o600))

	f, err := LoadFile(pngPath, LoadOptions{BuildOptions: BuildOptions{Layout: LayoutNV21, Rotation: 180}})
	require.NoError(t, err)
	assert.Equal(t, 8, f.Width())
	assert.Equal(t, 180, f.Rotation())

	rawPath := filepath.Join(dir, "frame.gray")
	require.NoError(t, os.WriteFile(rawPath, make([]byte, 16), 0o600))
	f, err = LoadFile(rawPath, LoadOptions{Width: 4, Height: 4})
	require.NoError(t, err)
	assert.Len(t, f.Planes(), 1)

	_, err = LoadFile(filepath.Join(dir, "frame.txt"), LoadOptions{})
	require.Error(t, err)
	_, err = LoadFile("", LoadOptions{})
	require.Error(t, err)
	_, err = LoadFile(filepath.Join(dir, "missing.png"), LoadOptions{})
	require.Error(t, err)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("a.JPG"))
	assert.True(t, IsSupported("a.nv21"))
	assert.False(t, IsSupported("a.pdf"))
}

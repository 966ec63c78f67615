package yuv

import (
	"bytes"
	"image"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestToNV21_OutputSizeProperty verifies the output is always w*h*12/8 bytes
// for any valid stride configuration.
func TestToNV21_OutputSizeProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("output size matches bits per pixel", prop.ForAll(
		func(halfW, halfH, rowPad, pixelStride int) bool {
			w, h := halfW*2, halfH*2
			s := newSamples(w, h)
			lum, err := ToNV21(s.layout(t, rowPad, pixelStride), image.Rect(0, 0, w, h))
			if err != nil {
				return false
			}
			return len(lum.Data) == w*h*LayoutNV21.BitsPerPixel()/8
		},
		gen.IntRange(1, 24),
		gen.IntRange(1, 24),
		gen.IntRange(0, 16),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}

// TestToNV21_TightLumaCopyProperty verifies a tightly packed plane is copied
// byte for byte for any aligned crop.
func TestToNV21_TightLumaCopyProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("tight luma crop is a direct copy", prop.ForAll(
		func(x0, y0, cropW, cropH int) bool {
			const w, h = 32, 24
			left, top := x0*2, y0*2
			right, bottom := left+cropW*2, top+cropH*2
			if right > w || bottom > h {
				return true
			}
			s := newSamples(w, h)
			crop := image.Rect(left, top, right, bottom)
			lum, err := ToNV21(s.layout(t, 0, 1), crop)
			if err != nil {
				return false
			}
			for r := 0; r < crop.Dy(); r++ {
				src := s.y[(top+r)*w+left : (top+r)*w+right]
				dst := lum.Data[r*crop.Dx() : (r+1)*crop.Dx()]
				if !bytes.Equal(src, dst) {
					return false
				}
			}
			return bytes.Equal(lum.Data, s.expectedNV21(crop))
		},
		gen.IntRange(0, 15),
		gen.IntRange(0, 11),
		gen.IntRange(1, 16),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

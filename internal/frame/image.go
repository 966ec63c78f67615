package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Layout describes how chroma is stored in a capture.
type Layout int

const (
	// LayoutI420 stores U and V in separate planes with pixel stride 1.
	LayoutI420 Layout = iota
	// LayoutNV21 stores V and U interleaved in one buffer; each chroma plane
	// view reports pixel stride 2, as camera HALs commonly do.
	LayoutNV21
	// LayoutGray stores luma only.
	LayoutGray
)

func (l Layout) String() string {
	switch l {
	case LayoutI420:
		return "i420"
	case LayoutNV21:
		return "nv21"
	case LayoutGray:
		return "gray"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout maps a layout name to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "i420", "yuv420p", "yuv":
		return LayoutI420, nil
	case "nv21":
		return LayoutNV21, nil
	case "gray", "grey", "y":
		return LayoutGray, nil
	default:
		return 0, fmt.Errorf("frame: unknown layout %q", s)
	}
}

// BuildOptions controls how an image is laid out as a capture.
type BuildOptions struct {
	Layout   Layout
	Rotation int
	// RowPadding adds unused bytes at the end of every row of every plane.
	RowPadding int
}

// FromImage converts img into a planar 4:2:0 capture.
func FromImage(img image.Image, opts BuildOptions, frameOpts ...Option) (*Buffer, error) {
	if img == nil {
		return nil, errors.New("frame: nil image")
	}
	if opts.RowPadding < 0 {
		return nil, fmt.Errorf("frame: negative row padding %d", opts.RowPadding)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := ChromaSize(w, h)

	yRS := w + opts.RowPadding
	luma := make([]byte, yRS*h)
	cb := make([]int, cw*ch)
	cr := make([]int, cw*ch)
	counts := make([]int, cw*ch)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.YCbCrModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.YCbCr)
			luma[y*yRS+x] = c.Y
			i := (y/2)*cw + x/2
			cb[i] += int(c.Cb)
			cr[i] += int(c.Cr)
			counts[i]++
		}
	}

	planes := []Plane{{Data: luma, RowStride: yRS, PixelStride: 1}}
	switch opts.Layout {
	case LayoutGray:
	case LayoutI420:
		cRS := cw + opts.RowPadding
		u := make([]byte, cRS*ch)
		v := make([]byte, cRS*ch)
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				i := y*cw + x
				u[y*cRS+x] = average(cb[i], counts[i])
				v[y*cRS+x] = average(cr[i], counts[i])
			}
		}
		planes = append(planes,
			Plane{Data: u, RowStride: cRS, PixelStride: 1},
			Plane{Data: v, RowStride: cRS, PixelStride: 1},
		)
	case LayoutNV21:
		cRS := 2*cw + opts.RowPadding
		vu := make([]byte, cRS*ch)
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				i := y*cw + x
				vu[y*cRS+2*x] = average(cr[i], counts[i])
				vu[y*cRS+2*x+1] = average(cb[i], counts[i])
			}
		}
		planes = append(planes,
			Plane{Data: vu[1:], RowStride: cRS, PixelStride: 2},
			Plane{Data: vu, RowStride: cRS, PixelStride: 2},
		)
	default:
		return nil, fmt.Errorf("frame: unsupported layout %v", opts.Layout)
	}

	frameOpts = append([]Option{WithRotation(opts.Rotation)}, frameOpts...)
	return NewBuffer(w, h, planes, frameOpts...)
}

func average(sum, n int) byte {
	if n == 0 {
		return 128
	}
	return byte((sum + n/2) / n)
}

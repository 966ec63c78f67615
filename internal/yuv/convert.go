// Package yuv converts planar captures into contiguous luminance buffers.
//
// ToNV21 is the only place in the module that accounts for row and pixel
// strides; everything downstream works on tightly packed buffers.
package yuv

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/bits"

	"github.com/MeKo-Tech/qrscan/internal/frame"
)

// ErrMalformedFrame reports a capture whose geometry cannot be read safely.
var ErrMalformedFrame = errors.New("yuv: malformed frame")

// Layout identifies the arrangement of a Luminance buffer.
type Layout int

const (
	// LayoutNV21 is full-resolution luma followed by interleaved V,U pairs.
	LayoutNV21 Layout = iota
	// LayoutGray is row-major luma only.
	LayoutGray
)

func (l Layout) String() string {
	if l == LayoutGray {
		return "gray"
	}
	return "nv21"
}

// BitsPerPixel returns the average storage cost of one pixel.
func (l Layout) BitsPerPixel() int {
	if l == LayoutGray {
		return 8
	}
	return 12
}

// Size returns the number of bytes a width x height buffer occupies.
func Size(width, height int, layout Layout) int {
	return width * height * layout.BitsPerPixel() / 8
}

// Luminance is a contiguous buffer ready for decoding.
type Luminance struct {
	Data   []byte
	Width  int
	Height int
	Layout Layout
}

// ToNV21 copies the crop region of f into a new semi-planar buffer.
//
// Planes are read in Y, U, V order. U samples land at odd offsets and V
// samples at even offsets of the chroma section, producing V,U pairs. A
// single-plane capture yields a LayoutGray buffer instead.
func ToNV21(f frame.Frame, crop image.Rectangle) (*Luminance, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	planes := f.Planes()
	layout := LayoutNV21
	switch len(planes) {
	case 1:
		layout = LayoutGray
	case 3:
	default:
		return nil, fmt.Errorf("%w: expected 1 or 3 planes, got %d", ErrMalformedFrame, len(planes))
	}

	w, h := crop.Dx(), crop.Dy()
	if w < 0 || h < 0 {
		return nil, fmt.Errorf("%w: inverted crop %v", ErrMalformedFrame, crop)
	}
	if w == 0 || h == 0 {
		return &Luminance{Data: []byte{}, Width: w, Height: h, Layout: layout}, nil
	}
	if !crop.In(image.Rect(0, 0, f.Width(), f.Height())) {
		return nil, fmt.Errorf("%w: crop %v outside %dx%d frame", ErrMalformedFrame, crop, f.Width(), f.Height())
	}
	if layout == LayoutNV21 && (crop.Min.X%2 != 0 || crop.Min.Y%2 != 0) {
		return nil, fmt.Errorf("%w: crop origin %v not aligned to chroma grid", ErrMalformedFrame, crop.Min)
	}

	// Every plane is bounds checked before the output is allocated, so
	// declared dimensions larger than the plane buffers cannot force a huge
	// allocation.
	copies := make([]planeCopy, len(planes))
	for i, p := range planes {
		c := planeCopy{plane: p}
		shift := 0
		switch i {
		case 0:
			c.offset, c.outStride = 0, 1
		case 1:
			c.offset, c.outStride, shift = w*h+1, 2, 1
		case 2:
			c.offset, c.outStride, shift = w*h, 2, 1
		}
		origin := image.Pt(crop.Min.X>>shift, crop.Min.Y>>shift)
		c.region = image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w>>shift, h>>shift))}
		if err := c.check(); err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
		copies[i] = c
	}

	data := make([]byte, Size(w, h, layout))
	for i, c := range copies {
		if err := c.copyTo(data); err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
	}

	return &Luminance{Data: data, Width: w, Height: h, Layout: layout}, nil
}

// planeCopy moves the samples of region into the output starting at
// offset, advancing outStride bytes per sample.
type planeCopy struct {
	plane     frame.Plane
	region    image.Rectangle
	offset    int
	outStride int
	// Set by check.
	start, span int
}

// check validates strides and the byte extent of region against the plane
// buffer. All products are overflow checked.
func (c *planeCopy) check() error {
	p := c.plane
	if p.RowStride <= 0 || p.PixelStride <= 0 {
		return fmt.Errorf("%w: row stride %d, pixel stride %d", ErrMalformedFrame, p.RowStride, p.PixelStride)
	}
	w, h := c.region.Dx(), c.region.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	tooLarge := func() error {
		return fmt.Errorf("%w: %dx%d region exceeds the %d byte plane", ErrMalformedFrame, w, h, len(p.Data))
	}
	span, ok := mulAdd(w-1, p.PixelStride, 1)
	if !ok {
		return tooLarge()
	}
	if h > 1 && p.RowStride < span {
		return fmt.Errorf("%w: row stride %d shorter than row span %d", ErrMalformedFrame, p.RowStride, span)
	}
	rowStart, ok := mulAdd(p.RowStride, c.region.Min.Y, 0)
	if !ok {
		return tooLarge()
	}
	start, ok := mulAdd(p.PixelStride, c.region.Min.X, rowStart)
	if !ok {
		return tooLarge()
	}
	lastRow, ok := mulAdd(h-1, p.RowStride, start)
	if !ok {
		return tooLarge()
	}
	end, ok := mulAdd(1, span, lastRow)
	if !ok {
		return tooLarge()
	}
	if end > len(p.Data) {
		return fmt.Errorf("%w: plane holds %d bytes, need %d", ErrMalformedFrame, len(p.Data), end)
	}
	c.start, c.span = start, span
	return nil
}

func (c *planeCopy) copyTo(dst []byte) error {
	p := c.plane
	w, h := c.region.Dx(), c.region.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	offset, outStride := c.offset, c.outStride
	if last := offset + (w*h-1)*outStride; last >= len(dst) {
		return fmt.Errorf("%w: output overflow at %d", ErrMalformedFrame, last)
	}

	pos := c.start
	for row := 0; row < h; row++ {
		src := p.Data[pos : pos+c.span]
		if p.PixelStride == 1 && outStride == 1 {
			offset += copy(dst[offset:offset+w], src)
		} else {
			for col := 0; col < w; col++ {
				dst[offset] = src[col*p.PixelStride]
				offset += outStride
			}
		}
		pos += p.RowStride
	}
	return nil
}

// mulAdd returns a*b+c for non-negative operands, reporting false when the
// result does not fit in an int.
func mulAdd(a, b, c int) (int, bool) {
	if a < 0 || b < 0 || c < 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	sum, carry := bits.Add64(lo, uint64(c), 0)
	if carry != 0 || sum > math.MaxInt {
		return 0, false
	}
	return int(sum), true
}

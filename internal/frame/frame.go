// Package frame models camera captures as borrowed planar YUV views.
//
// A Frame is owned by whoever captured it. Consumers borrow it for the
// duration of a single processing call and must call Close exactly once
// when done, after which the underlying buffers may be reused.
package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrReleased is returned when a frame is closed more than once.
var ErrReleased = errors.New("frame: already released")

// Plane holds the raw bytes of one color channel.
//
// RowStride is the byte distance between consecutive rows and may exceed
// the row width. PixelStride is the byte distance between consecutive
// samples within a row; interleaved chroma reports 2.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Frame is an immutable view over one capture.
//
// Planes are ordered Y, U (Cb), V (Cr). A luma-only capture has a single
// plane. Chroma planes are subsampled by two in each dimension.
type Frame interface {
	Width() int
	Height() int
	// Rotation is the sensor rotation in degrees relative to the natural
	// device orientation.
	Rotation() int
	Planes() []Plane
	Close() error
}

// Buffer is a Frame backed by caller-owned plane slices.
type Buffer struct {
	width    int
	height   int
	rotation int
	planes   []Plane

	onRelease func()
	released  atomic.Bool
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithRotation sets the sensor rotation reported by the frame.
func WithRotation(degrees int) Option {
	return func(b *Buffer) { b.rotation = degrees }
}

// WithRelease registers a hook invoked when the frame is closed.
func WithRelease(fn func()) Option {
	return func(b *Buffer) { b.onRelease = fn }
}

// NewBuffer wraps planes into a Frame. The plane slices are not copied.
func NewBuffer(width, height int, planes []Plane, opts ...Option) (*Buffer, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("frame: invalid dimensions %dx%d", width, height)
	}
	if len(planes) == 0 || len(planes) > 3 {
		return nil, fmt.Errorf("frame: expected 1 to 3 planes, got %d", len(planes))
	}
	b := &Buffer{width: width, height: height, planes: planes}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Buffer) Width() int      { return b.width }
func (b *Buffer) Height() int     { return b.height }
func (b *Buffer) Rotation() int   { return b.rotation }
func (b *Buffer) Planes() []Plane { return b.planes }

// Close releases the frame back to its owner.
func (b *Buffer) Close() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	if b.onRelease != nil {
		b.onRelease()
	}
	return nil
}

// Released reports whether Close has been called.
func (b *Buffer) Released() bool { return b.released.Load() }

// ChromaSize returns the dimensions of a 4:2:0 chroma plane.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

package server

import (
	"errors"
	"fmt"
	"image"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
)

// PlaneMessage is one color plane on the wire.
type PlaneMessage struct {
	Data        []byte `msgpack:"data"`
	RowStride   int    `msgpack:"row_stride"`
	PixelStride int    `msgpack:"pixel_stride"`
}

// OverlayMessage carries the on-screen scan target for overlay crop mode.
type OverlayMessage struct {
	Width  int `msgpack:"width"`
	Height int `msgpack:"height"`
	Left   int `msgpack:"left"`
	Top    int `msgpack:"top"`
	Right  int `msgpack:"right"`
	Bottom int `msgpack:"bottom"`
}

// PreviewMessage carries the overlay square and preview resolution from
// which the crop percentage is derived.
type PreviewMessage struct {
	Square int `msgpack:"square"`
	Width  int `msgpack:"width"`
	Height int `msgpack:"height"`
}

// FrameMessage is a binary websocket message holding one capture. The
// target fields are optional and update the session's scan target before
// the frame is queued.
type FrameMessage struct {
	Width       int             `msgpack:"width"`
	Height      int             `msgpack:"height"`
	Rotation    int             `msgpack:"rotation"`
	Planes      []PlaneMessage  `msgpack:"planes"`
	CropPercent int             `msgpack:"crop_percent,omitempty"`
	Preview     *PreviewMessage `msgpack:"preview,omitempty"`
	Overlay     *OverlayMessage `msgpack:"overlay,omitempty"`
}

// NewFrameMessage describes f for the wire. Plane data is not copied.
func NewFrameMessage(f frame.Frame) FrameMessage {
	planes := f.Planes()
	msg := FrameMessage{
		Width:    f.Width(),
		Height:   f.Height(),
		Rotation: f.Rotation(),
		Planes:   make([]PlaneMessage, len(planes)),
	}
	for i, p := range planes {
		msg.Planes[i] = PlaneMessage{Data: p.Data, RowStride: p.RowStride, PixelStride: p.PixelStride}
	}
	return msg
}

// Marshal encodes the message as msgpack.
func (m FrameMessage) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("server: encode frame message: %w", err)
	}
	return data, nil
}

// DecodeFrameMessage parses a binary websocket payload.
func DecodeFrameMessage(data []byte) (*FrameMessage, error) {
	if len(data) == 0 {
		return nil, errors.New("server: empty frame message")
	}
	var m FrameMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("server: decode frame message: %w", err)
	}
	return &m, nil
}

// Frame wraps the message planes into a frame. Stride and bounds checks
// are left to the converter so malformed captures surface as per-frame
// errors from the analyzer.
func (m *FrameMessage) Frame(opts ...frame.Option) (*frame.Buffer, error) {
	planes := make([]frame.Plane, len(m.Planes))
	for i, p := range m.Planes {
		planes[i] = frame.Plane{Data: p.Data, RowStride: p.RowStride, PixelStride: p.PixelStride}
	}
	opts = append([]frame.Option{frame.WithRotation(m.Rotation)}, opts...)
	return frame.NewBuffer(m.Width, m.Height, planes, opts...)
}

// ApplyTarget copies any target update carried by the message into t.
func (m *FrameMessage) ApplyTarget(t *analyzer.Target) error {
	if m.Preview != nil {
		if err := t.SetPreview(m.Preview.Square, m.Preview.Width, m.Preview.Height); err != nil {
			return err
		}
	}
	if m.CropPercent != 0 {
		if err := t.SetPercent(m.CropPercent); err != nil {
			return err
		}
	}
	if o := m.Overlay; o != nil {
		ov := geometry.Overlay{
			Size: image.Pt(o.Width, o.Height),
			Scan: image.Rect(o.Left, o.Top, o.Right, o.Bottom),
		}
		if ov.Size.X <= 0 || ov.Size.Y <= 0 || ov.Scan.Empty() {
			return fmt.Errorf("%w: overlay %v in %v", geometry.ErrInvalidGeometry, ov.Scan, ov.Size)
		}
		t.SetOverlay(ov)
	}
	return nil
}

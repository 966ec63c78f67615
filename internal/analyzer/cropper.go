package analyzer

import (
	"fmt"
	"image"
	"strings"
	"sync/atomic"

	"github.com/MeKo-Tech/qrscan/internal/geometry"
)

// Cropper chooses the frame region to decode. ok is false while no scan
// target is known yet; such frames are released without processing.
type Cropper interface {
	Crop(width, height, rotation int) (r image.Rectangle, ok bool, err error)
}

// Target holds the last-known scan target published by the preview and
// overlay collaborators. One writer and the analyzer may use it
// concurrently.
type Target struct {
	percent atomic.Int32
	overlay atomic.Pointer[geometry.Overlay]
}

// NewTarget returns a target with the given initial percentage. Zero leaves
// it unset.
func NewTarget(percent int) (*Target, error) {
	t := &Target{}
	if percent == 0 {
		return t, nil
	}
	if err := t.SetPercent(percent); err != nil {
		return nil, err
	}
	return t, nil
}

// SetPercent publishes a new scan target percentage.
func (t *Target) SetPercent(percent int) error {
	if percent < 1 || percent > 100 {
		return fmt.Errorf("%w: %d", geometry.ErrInvalidPercent, percent)
	}
	t.percent.Store(int32(percent)) //nolint:gosec // G115: bounded above
	return nil
}

// SetPreview derives the percentage from the overlay square and the preview
// surface size, the same way the camera session sizes its preview.
func (t *Target) SetPreview(squareSize, previewWidth, previewHeight int) error {
	p, err := geometry.CropPercent(squareSize, previewWidth, previewHeight)
	if err != nil {
		return err
	}
	if p == 0 {
		return fmt.Errorf("%w: square %d too small", geometry.ErrInvalidPercent, squareSize)
	}
	return t.SetPercent(p)
}

// Percent returns the last published percentage, or 0 when unset.
func (t *Target) Percent() int { return int(t.percent.Load()) }

// SetOverlay publishes the on-screen scan rectangle.
func (t *Target) SetOverlay(ov geometry.Overlay) {
	t.overlay.Store(&ov)
}

// Overlay returns the last published overlay.
func (t *Target) Overlay() (geometry.Overlay, bool) {
	ov := t.overlay.Load()
	if ov == nil {
		return geometry.Overlay{}, false
	}
	return *ov, true
}

// Clear forgets both the percentage and the overlay.
func (t *Target) Clear() {
	t.percent.Store(0)
	t.overlay.Store(nil)
}

// PercentCropper crops a centered square sized by the target percentage.
// The percentage is already normalized for rotation.
type PercentCropper struct {
	Target *Target
}

func (c PercentCropper) Crop(width, height, _ int) (image.Rectangle, bool, error) {
	p := c.Target.Percent()
	if p == 0 {
		return image.Rectangle{}, false, nil
	}
	r, err := geometry.CenteredCrop(width, height, p)
	if err != nil {
		return image.Rectangle{}, false, err
	}
	return geometry.AlignEven(r), true, nil
}

// OverlayCropper maps the on-screen scan rectangle into sensor space.
// Parts of the rectangle that fall outside the frame are cut off.
type OverlayCropper struct {
	Target *Target
}

func (c OverlayCropper) Crop(width, height, rotation int) (image.Rectangle, bool, error) {
	ov, ok := c.Target.Overlay()
	if !ok {
		return image.Rectangle{}, false, nil
	}
	r, err := geometry.RotatedCrop(width, height, rotation, ov)
	if err != nil {
		return image.Rectangle{}, false, err
	}
	r = geometry.AlignEven(r.Intersect(image.Rect(0, 0, width, height)))
	if r.Empty() {
		return image.Rectangle{}, false, nil
	}
	return r, true, nil
}

// FullFrame decodes the whole frame.
type FullFrame struct{}

func (FullFrame) Crop(width, height, _ int) (image.Rectangle, bool, error) {
	return geometry.AlignEven(image.Rect(0, 0, width, height)), true, nil
}

// Crop modes accepted by NewCropper.
const (
	ModePercent = "percent"
	ModeOverlay = "overlay"
	ModeFull    = "full"
)

// NewCropper returns the cropper for a configured mode.
func NewCropper(mode string, target *Target) (Cropper, error) {
	switch strings.ToLower(mode) {
	case ModePercent, "":
		return PercentCropper{Target: target}, nil
	case ModeOverlay:
		return OverlayCropper{Target: target}, nil
	case ModeFull:
		return FullFrame{}, nil
	default:
		return nil, fmt.Errorf("analyzer: unknown crop mode %q", mode)
	}
}

// Package geometry maps the on-screen scan target onto sensor coordinates.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrUnsupportedRotation is returned for rotations other than 0, 90,
	// 180 and 270 degrees. It signals a caller contract violation.
	ErrUnsupportedRotation = errors.New("geometry: unsupported rotation")
	// ErrInvalidPercent is returned for crop percentages outside 1..100.
	ErrInvalidPercent = errors.New("geometry: crop percent out of range")
	// ErrInvalidGeometry is returned for non-positive frame or overlay sizes.
	ErrInvalidGeometry = errors.New("geometry: invalid dimensions")
)

// Overlay describes the scan target as drawn on screen.
type Overlay struct {
	// Size is the overlay view size in display pixels.
	Size image.Point
	// Scan is the highlighted target rectangle inside the overlay view.
	Scan image.Rectangle
}

// CheckRotation validates a sensor rotation.
func CheckRotation(rotation int) error {
	switch rotation {
	case 0, 90, 180, 270:
		return nil
	default:
		return fmt.Errorf("%w: %d degrees", ErrUnsupportedRotation, rotation)
	}
}

// fractions is the scan rectangle normalized to the preview surface.
type fractions struct {
	x, y, w, h float64
}

// previewFractions letterboxes the sensor image into the overlay and
// normalizes the scan rectangle against the derived preview size.
func previewFractions(width, height, rotation int, ov Overlay) fractions {
	ow, oh := float64(ov.Size.X), float64(ov.Size.Y)
	scan := ov.Scan

	// The preview keeps the sensor aspect ratio along the axis the display
	// does not fix. Multiplying before dividing keeps exact ratios exact.
	if rotation == 0 || rotation == 180 {
		previewH := ow * float64(height) / float64(width)
		dy := (previewH - oh) / 2
		return fractions{
			x: float64(scan.Min.X) / ow,
			y: (dy + float64(scan.Min.Y)) / previewH,
			w: float64(scan.Dx()) / ow,
			h: float64(scan.Dy()) / previewH,
		}
	}

	previewW := oh * float64(height) / float64(width)
	dx := (previewW - ow) / 2
	return fractions{
		x: (dx + float64(scan.Min.X)) / previewW,
		y: float64(scan.Min.Y) / oh,
		w: float64(scan.Dx()) / previewW,
		h: float64(scan.Dy()) / oh,
	}
}

func checkDims(width, height int, ov Overlay) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: frame %dx%d", ErrInvalidGeometry, width, height)
	}
	if ov.Size.X <= 0 || ov.Size.Y <= 0 {
		return fmt.Errorf("%w: overlay %v", ErrInvalidGeometry, ov.Size)
	}
	return nil
}

// RotatedCrop returns the sensor-space rectangle showing the same scene
// region as the overlay's scan rectangle.
//
// Each rotation has its own projection. 90 and 270 swap axes and mirror
// one of them; 180 mirrors both.
func RotatedCrop(width, height, rotation int, ov Overlay) (image.Rectangle, error) {
	if err := CheckRotation(rotation); err != nil {
		return image.Rectangle{}, err
	}
	if err := checkDims(width, height, ov); err != nil {
		return image.Rectangle{}, err
	}

	fr := previewFractions(width, height, rotation, ov)
	w, h := float64(width), float64(height)

	var x, y, pw, ph int
	switch rotation {
	case 0:
		x = int(fr.x * w)
		pw = int(fr.w * w)
		y = int(fr.y * h)
		ph = int(fr.h * h)
	case 180:
		pw = int(fr.w * w)
		x = int(w - fr.x*w - float64(pw))
		ph = int(fr.h * h)
		y = int(h - fr.y*h - float64(ph))
	case 90:
		x = int(fr.y * w)
		pw = int(fr.h * w)
		ph = int(fr.w * h)
		y = height - int(fr.x*h) - ph
	case 270:
		pw = int(fr.h * w)
		ph = int(fr.w * h)
		x = int(w - fr.y*w - float64(pw))
		y = int(fr.x * h)
	}
	return image.Rect(x, y, x+pw, y+ph), nil
}

// ProjectToDisplay is the inverse of RotatedCrop: it maps a sensor-space
// rectangle back into the overlay's display coordinates.
func ProjectToDisplay(crop image.Rectangle, width, height, rotation int, ov Overlay) (image.Rectangle, error) {
	if err := CheckRotation(rotation); err != nil {
		return image.Rectangle{}, err
	}
	if err := checkDims(width, height, ov); err != nil {
		return image.Rectangle{}, err
	}

	w, h := float64(width), float64(height)
	cx, cy := float64(crop.Min.X), float64(crop.Min.Y)
	cw, ch := float64(crop.Dx()), float64(crop.Dy())

	var fr fractions
	switch rotation {
	case 0:
		fr = fractions{x: cx / w, y: cy / h, w: cw / w, h: ch / h}
	case 180:
		fr = fractions{x: (w - cx - cw) / w, y: (h - cy - ch) / h, w: cw / w, h: ch / h}
	case 90:
		fr = fractions{x: (h - cy - ch) / h, y: cx / w, w: ch / h, h: cw / w}
	case 270:
		fr = fractions{x: cy / h, y: (w - cx - cw) / w, w: ch / h, h: cw / w}
	}

	ow, oh := float64(ov.Size.X), float64(ov.Size.Y)
	var left, top, rw, rh float64
	if rotation == 0 || rotation == 180 {
		previewH := ow * h / w
		dy := (previewH - oh) / 2
		left = fr.x * ow
		top = fr.y*previewH - dy
		rw = fr.w * ow
		rh = fr.h * previewH
	} else {
		previewW := oh * h / w
		dx := (previewW - ow) / 2
		left = fr.x*previewW - dx
		top = fr.y * oh
		rw = fr.w * previewW
		rh = fr.h * oh
	}

	x0, y0 := int(math.Round(left)), int(math.Round(top))
	return image.Rect(x0, y0, x0+int(math.Round(rw)), y0+int(math.Round(rh))), nil
}

// CenteredCrop returns a centered square covering percent of the smaller
// frame dimension. The percentage is already rotation-normalized by the
// caller, so no rotation handling is needed.
func CenteredCrop(width, height, percent int) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: frame %dx%d", ErrInvalidGeometry, width, height)
	}
	if percent < 1 || percent > 100 {
		return image.Rectangle{}, fmt.Errorf("%w: %d", ErrInvalidPercent, percent)
	}
	size := min(width, height) * percent / 100
	return image.Rect(
		(width-size)/2,
		(height-size)/2,
		(width+size)/2,
		(height+size)/2,
	), nil
}

// CropPercent derives the scan target percentage from the overlay square
// size and the preview surface resolution.
func CropPercent(squareSize, previewWidth, previewHeight int) (int, error) {
	side := min(previewWidth, previewHeight)
	if side <= 0 || squareSize <= 0 {
		return 0, fmt.Errorf("%w: square %d in %dx%d preview", ErrInvalidGeometry, squareSize, previewWidth, previewHeight)
	}
	return min(squareSize*100/side, 100), nil
}

// AlignEven moves the origin of r down to even coordinates and trims its
// size to even values so that 4:2:0 chroma samples line up with luma.
func AlignEven(r image.Rectangle) image.Rectangle {
	r = r.Canon()
	minPt := image.Pt(r.Min.X&^1, r.Min.Y&^1)
	size := image.Pt(r.Dx()&^1, r.Dy()&^1)
	return image.Rectangle{Min: minPt, Max: minPt.Add(size)}
}

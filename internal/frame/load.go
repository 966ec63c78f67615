package frame

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
)

// SupportedImageExtensions lists encoded image formats accepted by LoadFile.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// rawExtensions maps raw capture dumps to their layout.
var rawExtensions = map[string]Layout{
	".i420": LayoutI420,
	".yuv":  LayoutI420,
	".nv21": LayoutNV21,
	".gray": LayoutGray,
	".y":    LayoutGray,
}

// LoadOptions controls LoadFile.
type LoadOptions struct {
	BuildOptions
	// Width and Height are required for raw captures, which carry no header.
	Width  int
	Height int
}

// IsSupported reports whether path has an extension LoadFile understands.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := rawExtensions[ext]; ok {
		return true
	}
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// LoadFile reads an encoded image or a raw capture dump from disk.
func LoadFile(path string, opts LoadOptions) (*Buffer, error) {
	if path == "" {
		return nil, errors.New("frame: empty path")
	}
	if !IsSupported(path) {
		return nil, fmt.Errorf("frame: unsupported format: %s", filepath.Ext(path))
	}

	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided capture path is expected
	if err != nil {
		return nil, fmt.Errorf("frame: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if layout, ok := rawExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return ReadRaw(f, opts.Width, opts.Height, layout, WithRotation(opts.Rotation))
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("frame: decode %s: %w", path, err)
	}
	return FromImage(img, opts.BuildOptions)
}

// ReadRaw reads one tightly packed capture of the given layout from r.
func ReadRaw(r io.Reader, width, height int, layout Layout, opts ...Option) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame: raw capture needs dimensions, got %dx%d", width, height)
	}
	cw, ch := ChromaSize(width, height)
	lumaSize := width * height

	size := lumaSize
	if layout != LayoutGray {
		size += 2 * cw * ch
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("frame: read %s capture (%d bytes): %w", layout, size, err)
	}

	planes := []Plane{{Data: buf[:lumaSize], RowStride: width, PixelStride: 1}}
	switch layout {
	case LayoutGray:
	case LayoutI420:
		u := buf[lumaSize : lumaSize+cw*ch]
		v := buf[lumaSize+cw*ch:]
		planes = append(planes,
			Plane{Data: u, RowStride: cw, PixelStride: 1},
			Plane{Data: v, RowStride: cw, PixelStride: 1},
		)
	case LayoutNV21:
		vu := buf[lumaSize:]
		planes = append(planes,
			Plane{Data: vu[1:], RowStride: 2 * cw, PixelStride: 2},
			Plane{Data: vu, RowStride: 2 * cw, PixelStride: 2},
		)
	default:
		return nil, fmt.Errorf("frame: unsupported layout %v", layout)
	}
	return NewBuffer(width, height, planes, opts...)
}

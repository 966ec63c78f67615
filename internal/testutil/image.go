package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/qrscan/internal/frame"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common camera preview sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	LargeSize  = ImageSize{1280, 720}
)

// SceneConfig describes a synthetic camera scene.
type SceneConfig struct {
	// Payload is encoded as a QR code. Empty means no code in the scene.
	Payload string
	// CodeSize is the edge length of the rendered code including quiet zone.
	CodeSize int
	// Offset moves the code away from the scene center.
	Offset     image.Point
	Size       ImageSize
	Background color.Color
	// Caption is drawn below the code to give the binarizer some clutter.
	Caption string
	// Rotation turns the whole scene by 0, 90, 180 or 270 degrees
	// counter-clockwise, the way a sensor mounted at an angle sees it.
	Rotation int
}

// DefaultSceneConfig returns a VGA scene with a centered code.
func DefaultSceneConfig(payload string) SceneConfig {
	return SceneConfig{
		Payload:    payload,
		CodeSize:   200,
		Size:       MediumSize,
		Background: color.White,
		Caption:    "scan me",
	}
}

// QRCode renders payload as a square QR code with its quiet zone.
func QRCode(payload string, size int) (image.Image, error) {
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return matrix, nil
}

// GenerateScene renders a scene per config.
func GenerateScene(config SceneConfig) (*image.NRGBA, error) {
	bg := config.Background
	if bg == nil {
		bg = color.White
	}
	canvas := imaging.New(config.Size.Width, config.Size.Height, bg)

	if config.Payload != "" {
		code, err := QRCode(config.Payload, config.CodeSize)
		if err != nil {
			return nil, err
		}
		cb := code.Bounds()
		at := image.Pt(
			(config.Size.Width-cb.Dx())/2+config.Offset.X,
			(config.Size.Height-cb.Dy())/2+config.Offset.Y,
		)
		canvas = imaging.Paste(canvas, code, at)
	}

	if config.Caption != "" {
		drawCaption(canvas, config)
	}

	switch config.Rotation {
	case 0:
		return canvas, nil
	case 90:
		return imaging.Rotate90(canvas), nil
	case 180:
		return imaging.Rotate180(canvas), nil
	case 270:
		return imaging.Rotate270(canvas), nil
	default:
		return nil, fmt.Errorf("unsupported scene rotation %d", config.Rotation)
	}
}

func drawCaption(dst draw.Image, config SceneConfig) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, config.Caption).Ceil()
	lineHeight := face.Metrics().Height.Ceil()
	x := (config.Size.Width - width) / 2
	y := config.Size.Height - lineHeight

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(config.Caption)
}

// QRFrame renders a scene and packs it into a frame with the given layout.
func QRFrame(t *testing.T, config SceneConfig, opts frame.BuildOptions) *frame.Buffer {
	t.Helper()

	img, err := GenerateScene(config)
	require.NoError(t, err, "Failed to generate scene")

	f, err := frame.FromImage(img, opts)
	require.NoError(t, err, "Failed to build frame")
	return f
}

// SaveImage writes img to path, creating parent directories. The format
// follows the extension.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, imaging.Save(img, path), "Failed to save image %s", path)
}

// WriteQRFile renders a scene to dir/name and returns the full path.
func WriteQRFile(t *testing.T, dir, name string, config SceneConfig) string {
	t.Helper()

	img, err := GenerateScene(config)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	SaveImage(t, img, path)
	return path
}

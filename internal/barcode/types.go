package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

// ErrNotFound reports a frame without a readable symbol. It is the expected
// outcome for most frames and never indicates a fault.
var ErrNotFound = errors.New("barcode: no symbol found")

// ErrUnsupportedFormat reports a known symbology the decoder backend cannot
// read.
var ErrUnsupportedFormat = errors.New("barcode: format not supported by backend")

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatAztec
	FormatPDF417
	FormatCode128
	FormatCode39
	FormatEAN8
	FormatEAN13
	FormatUPCA
	FormatUPCE
	FormatITF
	FormatCodabar
)

var formatNames = map[Format]string{
	FormatQR:         "qr",
	FormatDataMatrix: "datamatrix",
	FormatAztec:      "aztec",
	FormatPDF417:     "pdf417",
	FormatCode128:    "code128",
	FormatCode39:     "code39",
	FormatEAN8:       "ean8",
	FormatEAN13:      "ean13",
	FormatUPCA:       "upca",
	FormatUPCE:       "upce",
	FormatITF:        "itf",
	FormatCodabar:    "codabar",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the format by name.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFormat accepts the canonical name and common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "qrcode", "qr-code":
		return FormatQR, nil
	case "datamatrix", "data-matrix":
		return FormatDataMatrix, nil
	case "aztec":
		return FormatAztec, nil
	case "pdf417":
		return FormatPDF417, nil
	case "code128", "code-128":
		return FormatCode128, nil
	case "code39", "code-39":
		return FormatCode39, nil
	case "ean8", "ean-8":
		return FormatEAN8, nil
	case "ean13", "ean-13":
		return FormatEAN13, nil
	case "upca", "upc-a":
		return FormatUPCA, nil
	case "upce", "upc-e":
		return FormatUPCE, nil
	case "itf", "interleaved2of5", "i2/5":
		return FormatITF, nil
	case "codabar":
		return FormatCodabar, nil
	default:
		return FormatUnknown, fmt.Errorf("barcode: unknown format %q", s)
	}
}

// ParseFormats parses a list of format names, rejecting unknown entries.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f, err := ParseFormat(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Options controls decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means QR only.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// PureBarcode hints that the input holds nothing but an unrotated symbol.
	PureBarcode bool
}

// Point is an integer point in image coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result represents a decoded symbol.
type Result struct {
	Format Format          `json:"format"`
	Text   string          `json:"text"`
	Points []Point         `json:"points,omitempty"` // finder or corner points, luminance coordinates
	BBox   image.Rectangle `json:"-"`
}

// Offset returns a copy of r with points and box shifted by d.
func (r Result) Offset(d image.Point) Result {
	out := r
	if len(r.Points) > 0 {
		out.Points = make([]Point, len(r.Points))
		for i, p := range r.Points {
			out.Points[i] = Point{X: p.X + d.X, Y: p.Y + d.Y}
		}
	}
	out.BBox = r.BBox.Add(d)
	return out
}

// Decoder attempts one decode per call. Implementations are not safe for
// concurrent use.
type Decoder interface {
	Decode(ctx context.Context, lum *yuv.Luminance) (Result, error)
	// Reset clears state carried over from the previous attempt.
	Reset()
}

package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

type namedReader struct {
	format Format
	reader gozxing.Reader
}

// ZXingDecoder decodes with gozxing readers, one per requested format, tried
// in the order the formats were given.
type ZXingDecoder struct {
	readers []namedReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewDecoder returns a gozxing-backed decoder. Without formats it searches
// for QR codes only.
func NewDecoder(opts Options) (*ZXingDecoder, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []Format{FormatQR}
	}

	d := &ZXingDecoder{hints: make(map[gozxing.DecodeHintType]interface{})}
	seen := make(map[Format]bool, len(formats))
	zxFormats := make([]gozxing.BarcodeFormat, 0, len(formats))
	for _, f := range formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		r, err := newReader(f)
		if err != nil {
			return nil, err
		}
		bf, _ := mapFormatToZXing(f)
		zxFormats = append(zxFormats, bf)
		d.readers = append(d.readers, namedReader{format: f, reader: r})
	}

	d.hints[gozxing.DecodeHintType_POSSIBLE_FORMATS] = zxFormats
	if opts.TryHarder {
		d.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if opts.PureBarcode {
		d.hints[gozxing.DecodeHintType_PURE_BARCODE] = true
	}
	return d, nil
}

func newReader(f Format) (gozxing.Reader, error) {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader(), nil
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader(), nil
	case FormatAztec:
		return aztec.NewAztecReader(), nil
	case FormatPDF417:
		// gozxing ships no PDF417 reader.
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f)
	case FormatCode128:
		return oned.NewCode128Reader(), nil
	case FormatCode39:
		return oned.NewCode39Reader(), nil
	case FormatEAN8:
		return oned.NewEAN8Reader(), nil
	case FormatEAN13:
		return oned.NewEAN13Reader(), nil
	case FormatUPCA:
		return oned.NewUPCAReader(), nil
	case FormatUPCE:
		return oned.NewUPCEReader(), nil
	case FormatITF:
		return oned.NewITFReader(), nil
	case FormatCodabar:
		return oned.NewCodaBarReader(), nil
	default:
		return nil, fmt.Errorf("barcode: no reader for format %v", f)
	}
}

// Formats returns the formats the decoder searches, in order.
func (d *ZXingDecoder) Formats() []Format {
	out := make([]Format, len(d.readers))
	for i, r := range d.readers {
		out[i] = r.format
	}
	return out
}

// Decode runs the readers over the luma plane of lum. Only the first
// Width*Height bytes are read, so NV21 and Gray buffers are both accepted.
func (d *ZXingDecoder) Decode(ctx context.Context, lum *yuv.Luminance) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if lum == nil || lum.Width == 0 || lum.Height == 0 {
		return Result{}, ErrNotFound
	}

	source, err := gozxing.NewPlanarYUVLuminanceSource(
		lum.Data, lum.Width, lum.Height, 0, 0, lum.Width, lum.Height, false)
	if err != nil {
		return Result{}, fmt.Errorf("barcode: luminance source: %w", err)
	}
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return Result{}, fmt.Errorf("barcode: binary bitmap: %w", err)
	}

	for _, nr := range d.readers {
		r, err := nr.reader.Decode(bitmap, d.hints)
		if err == nil && r != nil {
			return toResult(r), nil
		}
		if err != nil && !isMiss(err) {
			return Result{}, fmt.Errorf("barcode: %s reader: %w", nr.format, err)
		}
	}
	return Result{}, ErrNotFound
}

// Reset clears the state of every reader.
func (d *ZXingDecoder) Reset() {
	for _, nr := range d.readers {
		nr.reader.Reset()
	}
}

// isMiss reports whether err is one of the exceptions gozxing raises when
// a symbol is absent, damaged or fails its checksum.
func isMiss(err error) bool {
	var notFound gozxing.NotFoundException
	var format gozxing.FormatException
	var checksum gozxing.ChecksumException
	return errors.As(err, &notFound) || errors.As(err, &format) || errors.As(err, &checksum)
}

func toResult(r *gozxing.Result) Result {
	var points []Point
	if pts := r.GetResultPoints(); len(pts) > 0 {
		points = make([]Point, 0, len(pts))
		for _, p := range pts {
			points = append(points, Point{X: int(p.GetX()), Y: int(p.GetY())})
		}
	}
	return Result{
		Format: mapFormatFromZXing(r.GetBarcodeFormat()),
		Text:   r.GetText(),
		Points: points,
		BBox:   rectFromPoints(points),
	}
}

func mapFormatToZXing(f Format) (gozxing.BarcodeFormat, bool) {
	switch f {
	case FormatQR:
		return gozxing.BarcodeFormat_QR_CODE, true
	case FormatDataMatrix:
		return gozxing.BarcodeFormat_DATA_MATRIX, true
	case FormatAztec:
		return gozxing.BarcodeFormat_AZTEC, true
	case FormatPDF417:
		return gozxing.BarcodeFormat_PDF_417, true
	case FormatCode128:
		return gozxing.BarcodeFormat_CODE_128, true
	case FormatCode39:
		return gozxing.BarcodeFormat_CODE_39, true
	case FormatEAN8:
		return gozxing.BarcodeFormat_EAN_8, true
	case FormatEAN13:
		return gozxing.BarcodeFormat_EAN_13, true
	case FormatUPCA:
		return gozxing.BarcodeFormat_UPC_A, true
	case FormatUPCE:
		return gozxing.BarcodeFormat_UPC_E, true
	case FormatITF:
		return gozxing.BarcodeFormat_ITF, true
	case FormatCodabar:
		return gozxing.BarcodeFormat_CODABAR, true
	default:
		return 0, false
	}
}

func mapFormatFromZXing(bf gozxing.BarcodeFormat) Format {
	switch bf {
	case gozxing.BarcodeFormat_QR_CODE:
		return FormatQR
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return FormatDataMatrix
	case gozxing.BarcodeFormat_AZTEC:
		return FormatAztec
	case gozxing.BarcodeFormat_PDF_417:
		return FormatPDF417
	case gozxing.BarcodeFormat_CODE_128:
		return FormatCode128
	case gozxing.BarcodeFormat_CODE_39:
		return FormatCode39
	case gozxing.BarcodeFormat_EAN_8:
		return FormatEAN8
	case gozxing.BarcodeFormat_EAN_13:
		return FormatEAN13
	case gozxing.BarcodeFormat_UPC_A:
		return FormatUPCA
	case gozxing.BarcodeFormat_UPC_E:
		return FormatUPCE
	case gozxing.BarcodeFormat_ITF:
		return FormatITF
	case gozxing.BarcodeFormat_CODABAR:
		return FormatCodabar
	default:
		return FormatUnknown
	}
}

func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX, minY = min(minX, p.X), min(minY, p.Y)
		maxX, maxY = max(maxX, p.X), max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

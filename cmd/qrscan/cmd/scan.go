package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
	"github.com/MeKo-Tech/qrscan/internal/barcode"
	"github.com/MeKo-Tech/qrscan/internal/batch"
	"github.com/MeKo-Tech/qrscan/internal/common"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/stream"
	"github.com/MeKo-Tech/qrscan/internal/throughput"
)

// ErrNoCode is returned when no input contained a readable symbol.
var ErrNoCode = errors.New("no code found")

// scanOutput is one decoded symbol in command output.
type scanOutput struct {
	File     string          `json:"file"`
	Format   string          `json:"format"`
	Text     string          `json:"text"`
	Points   []barcode.Point `json:"points,omitempty"`
	Crop     [4]int          `json:"crop"`
	Rotation int             `json:"rotation"`
}

// scanReport is the JSON document written by the scan command.
type scanReport struct {
	Results    []scanOutput `json:"results"`
	Errors     []string     `json:"errors,omitempty"`
	Frames     int          `json:"frames"`
	DurationMs int64        `json:"duration_ms"`
}

// scanOptions are the per-invocation settings that have no config key.
type scanOptions struct {
	layout     string
	rotation   int
	padding    int
	width      int
	height     int
	overlay    string
	all        bool
	outputFile string
	discover   batch.DiscoverOptions
}

func newScanCommand(a *app) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan FILE|DIR...",
		Short: "Decode QR codes from images or raw frame captures",
		Long: `Run image files or raw capture dumps through the frame analyzer.

Arguments may be files or directories. Supported inputs are JPEG, PNG and BMP images as well as headerless
.nv21, .i420 and .y captures, which need --width and --height. Images are
packed into the layout given by --layout before analysis so the same
conversion path as live camera frames is exercised.

By default the scan stops at the first decoded symbol, like a scanner
screen that closes on success. Use --all to report every file.

Examples:
  qrscan scan ticket.png
  qrscan scan frames/*.nv21 --width 1280 --height 720 --rotation 90
  qrscan scan shelf.jpg --crop-mode overlay --overlay 480,640,80,160,400,480
  qrscan scan captures/ -r --include '*.nv21' --width 640 --height 480 --all
  qrscan scan *.png --all --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, args, opts)
		},
	}

	cmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	cmd.Flags().String("crop-mode", analyzer.ModePercent, "crop mode: percent, overlay or full")
	cmd.Flags().Int("crop-percent", 60, "scan target size as a percentage of the shorter frame side")
	cmd.Flags().StringSlice("formats", []string{"qr"}, "symbologies to decode (qr, datamatrix, aztec, code128, ean13, ...)")
	cmd.Flags().Bool("try-harder", false, "spend more time looking for a symbol")
	cmd.Flags().String("snapshot-dir", "", "directory to write a PNG of every decoded crop")
	cmd.Flags().Int("sample-every", 10, "throughput measurement window in frames")

	cmd.Flags().StringVar(&opts.layout, "layout", "nv21", "planar layout images are packed into: nv21, i420 or gray")
	cmd.Flags().IntVar(&opts.rotation, "rotation", 0, "sensor rotation in degrees (0, 90, 180, 270)")
	cmd.Flags().IntVar(&opts.padding, "padding", 0, "row padding in bytes added to every plane of packed images")
	cmd.Flags().IntVar(&opts.width, "width", 0, "frame width for raw captures")
	cmd.Flags().IntVar(&opts.height, "height", 0, "frame height for raw captures")
	cmd.Flags().StringVar(&opts.overlay, "overlay", "",
		"overlay view and scan rectangle as W,H,LEFT,TOP,RIGHT,BOTTOM (overlay crop mode)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "scan every file instead of stopping at the first result")
	cmd.Flags().BoolVarP(&opts.discover.Recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().StringSliceVar(&opts.discover.Include, "include", nil, "file patterns to include from directories (e.g. *.nv21)")
	cmd.Flags().StringSliceVar(&opts.discover.Exclude, "exclude", nil, "file patterns to exclude")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "output file (default: stdout)")

	a.flagKeys(cmd, map[string]string{
		"output.format":        "format",
		"scanner.crop_mode":    "crop-mode",
		"scanner.crop_percent": "crop-percent",
		"scanner.formats":      "formats",
		"scanner.try_harder":   "try-harder",
		"scanner.snapshot_dir": "snapshot-dir",
		"scanner.sample_every": "sample-every",
	})
	return cmd
}

// parseOverlay parses W,H,LEFT,TOP,RIGHT,BOTTOM.
func parseOverlay(s string) (geometry.Overlay, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return geometry.Overlay{}, fmt.Errorf("invalid overlay %q: want W,H,LEFT,TOP,RIGHT,BOTTOM", s)
	}
	var v [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geometry.Overlay{}, fmt.Errorf("invalid overlay %q: %w", s, err)
		}
		v[i] = n
	}
	ov := geometry.Overlay{Size: image.Pt(v[0], v[1]), Scan: image.Rect(v[2], v[3], v[4], v[5])}
	if ov.Size.X <= 0 || ov.Size.Y <= 0 || ov.Scan.Empty() {
		return geometry.Overlay{}, fmt.Errorf("invalid overlay %q: empty view or scan rectangle", s)
	}
	return ov, nil
}

// waitFrame reports when the worker has released a frame.
type waitFrame struct {
	frame.Frame
	once sync.Once
	done chan struct{}
}

func (w *waitFrame) Close() error {
	err := w.Frame.Close()
	w.once.Do(func() { close(w.done) })
	return err
}

func (a *app) runScan(cmd *cobra.Command, args []string, opts *scanOptions) error {
	cfg := a.cfg
	logger := a.logger

	files, err := batch.Discover(args, opts.discover)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no input files found")
	}

	decOpts, err := cfg.DecoderOptions()
	if err != nil {
		return err
	}
	decoder, err := barcode.NewDecoder(decOpts)
	if err != nil {
		return err
	}
	target, err := analyzer.NewTarget(cfg.Scanner.CropPercent)
	if err != nil {
		return err
	}
	if opts.overlay != "" {
		ov, err := parseOverlay(opts.overlay)
		if err != nil {
			return err
		}
		target.SetOverlay(ov)
	}
	cropper, err := analyzer.NewCropper(cfg.Scanner.CropMode, target)
	if err != nil {
		return err
	}
	layout, err := frame.ParseLayout(opts.layout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// The worker writes report while the loop below waits for the frame it
	// published; current only changes between frames.
	var (
		current string
		report  scanReport
	)
	onResult := func(r analyzer.Result) {
		report.Results = append(report.Results, scanOutput{
			File:     current,
			Format:   r.Format.String(),
			Text:     r.Text,
			Points:   r.Points,
			Crop:     [4]int{r.Crop.Min.X, r.Crop.Min.Y, r.Crop.Dx(), r.Crop.Dy()},
			Rotation: r.Rotation,
		})
		if !opts.all {
			cancel()
		}
	}

	anOpts := []analyzer.Option{
		analyzer.WithLogger(logger),
		analyzer.WithSampler(throughput.New(
			throughput.WithEvery(cfg.Scanner.SampleEvery),
			throughput.WithLogger(logger),
		)),
	}
	if cfg.Scanner.SnapshotDir != "" {
		anOpts = append(anOpts, analyzer.WithSnapshotDir(cfg.Scanner.SnapshotDir))
	}
	an, err := analyzer.New(decoder, cropper, onResult, anOpts...)
	if err != nil {
		return err
	}

	mailbox := stream.NewMailbox()
	runner := stream.NewRunner(an, mailbox,
		stream.WithLogger(logger),
		stream.WithErrorHandler(func(err error) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", current, err))
		}),
	)
	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	stats := common.RunStats{Name: "scan", MemoryBefore: common.GetMemoryStats()}
	timer := common.NewNamedTimer("scan")
	loadOpts := frame.LoadOptions{
		BuildOptions: frame.BuildOptions{Layout: layout, Rotation: opts.rotation, RowPadding: opts.padding},
		Width:        opts.width,
		Height:       opts.height,
	}

	var loadErrs []string
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		f, err := frame.LoadFile(path, loadOpts)
		if err != nil {
			logger.Warn("Skipping input", "file", path, "error", err)
			loadErrs = append(loadErrs, err.Error())
			continue
		}

		wf := &waitFrame{Frame: f, done: make(chan struct{})}
		current = path
		stats.Frames++
		if !mailbox.Publish(wf) {
			break
		}
		select {
		case <-wf.done:
		case <-ctx.Done():
		}
	}

	cancel()
	err = <-runErr
	stats.Duration = timer.Stop()
	stats.MemoryAfter = common.GetMemoryStats()
	stats.Decoded = len(report.Results)

	report.Errors = append(loadErrs, report.Errors...)
	report.Frames = stats.Frames
	report.DurationMs = stats.Duration.Milliseconds()

	if cfg.Verbose {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), stats.String())
	}
	if err != nil {
		return fmt.Errorf("scan stopped: %w", err)
	}

	if werr := a.writeScanOutput(cmd, opts.outputFile, cfg.Output.Format, report); werr != nil {
		return werr
	}
	if len(report.Results) == 0 {
		return ErrNoCode
	}
	return nil
}

func (a *app) writeScanOutput(cmd *cobra.Command, path, format string, report scanReport) error {
	var out io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := createOutputFile(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	switch format {
	case "json":
		if report.Results == nil {
			report.Results = []scanOutput{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		for _, r := range report.Results {
			if _, err := fmt.Fprintln(out, r.Text); err != nil {
				return err
			}
		}
		for _, e := range report.Errors {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "error:", e)
		}
		return nil
	}
}

// createOutputFile creates path and any missing parent directories.
func createOutputFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // G304: user-selected output path
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

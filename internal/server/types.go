package server

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
	"github.com/MeKo-Tech/qrscan/internal/barcode"
	"github.com/MeKo-Tech/qrscan/internal/common"
	"github.com/MeKo-Tech/qrscan/internal/throughput"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	corsOrigin string
	maxMessage int64
	started    time.Time

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	CORSOrigin   string
	MaxMessageMB int64
	Decoder      barcode.Options
	CropMode     string
	CropPercent  int
	SampleEvery  int
	SnapshotDir  string
	Logger       *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string             `json:"status"`
	Version  string             `json:"version,omitempty"`
	Time     string             `json:"time"`
	Uptime   string             `json:"uptime"`
	Sessions int                `json:"sessions"`
	Memory   common.MemoryStats `json:"memory"`
}

// Rect is a rectangle in frame pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func newRect(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// ScanResult is one decoded symbol.
type ScanResult struct {
	Format   string          `json:"format"`
	Text     string          `json:"text"`
	Points   []barcode.Point `json:"points,omitempty"`
	Crop     Rect            `json:"crop"`
	Rotation int             `json:"rotation"`
	Sequence uint64          `json:"sequence,omitempty"`
}

func newScanResult(r analyzer.Result) ScanResult {
	return ScanResult{
		Format:   r.Format.String(),
		Text:     r.Text,
		Points:   r.Points,
		Crop:     newRect(r.Crop),
		Rotation: r.Rotation,
		Sequence: r.Sequence,
	}
}

// ScanResponse is returned by the image upload endpoint.
type ScanResponse struct {
	Success bool        `json:"success"`
	Found   bool        `json:"found"`
	Result  *ScanResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	TookMs  int64       `json:"took_ms"`
}

// NewServer creates a new scan server instance.
func NewServer(config Config) (*Server, error) {
	// Fail fast on decoder and cropper settings before accepting clients.
	if _, err := barcode.NewDecoder(config.Decoder); err != nil {
		return nil, err
	}
	target, err := analyzer.NewTarget(config.CropPercent)
	if err != nil {
		return nil, err
	}
	if _, err := analyzer.NewCropper(config.CropMode, target); err != nil {
		return nil, err
	}
	if config.MaxMessageMB <= 0 {
		return nil, fmt.Errorf("server: max message size must be positive, got %d MB", config.MaxMessageMB)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        config,
		logger:     logger,
		corsOrigin: config.CORSOrigin,
		maxMessage: config.MaxMessageMB * 1024 * 1024,
		started:    time.Now(),
		sessions:   make(map[string]context.CancelFunc),
	}, nil
}

// Close stops every open frame session and waits for their workers.
func (s *Server) Close() error {
	s.mu.Lock()
	for _, cancel := range s.sessions {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// SessionCount returns the number of open websocket sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) addSession(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.sessions[id] = cancel
	s.mu.Unlock()
	s.wg.Add(1)
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.wg.Done()
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan/image", s.corsMiddleware(s.scanImageHandler))
	mux.HandleFunc("/ws/frames", s.framesWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// newAnalyzer builds the per-session decode chain. Every session owns its
// decoder, cropper and sampler so sessions never share mutable state. id
// names the session's snapshots; empty picks a random one.
func (s *Server) newAnalyzer(id string, cropper analyzer.Cropper, onResult analyzer.ResultFunc, logger *slog.Logger) (*analyzer.Analyzer, error) {
	dec, err := barcode.NewDecoder(s.cfg.Decoder)
	if err != nil {
		return nil, err
	}
	sampler := throughput.New(
		throughput.WithEvery(s.cfg.SampleEvery),
		throughput.WithEmit(func(sample throughput.Sample) {
			analysisFPS.Set(sample.FPS)
			logger.Debug("Analysis FPS", "fps", sample.FPS, "frames", sample.Frames)
		}),
	)
	opts := []analyzer.Option{
		analyzer.WithLogger(logger),
		analyzer.WithSampler(sampler),
		analyzer.WithObserver(frameObserver{}),
	}
	if s.cfg.SnapshotDir != "" {
		opts = append(opts, analyzer.WithSnapshotDir(s.cfg.SnapshotDir), analyzer.WithSnapshotID(id))
	}
	return analyzer.New(dec, cropper, onResult, opts...)
}

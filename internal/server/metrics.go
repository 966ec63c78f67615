package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Frame analysis metrics
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrscan_frames_total",
			Help: "Total number of analyzed frames by outcome",
		},
		[]string{"outcome"}, // decoded, miss, skipped, malformed, error
	)

	decodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrscan_decode_duration_seconds",
			Help:    "Barcode decode duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	framesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrscan_frames_dropped_total",
			Help: "Frames overwritten or discarded before analysis",
		},
	)

	analysisFPS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrscan_analysis_fps",
			Help: "Most recent analysis throughput sample in frames per second",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrscan_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrscan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// frameObserver feeds analyzer outcomes into the frame metrics.
type frameObserver struct{}

func (frameObserver) Observe(o analyzer.Outcome, took time.Duration) {
	framesTotal.WithLabelValues(o.String()).Inc()
	if o == analyzer.OutcomeDecoded || o == analyzer.OutcomeMiss {
		decodeDuration.Observe(took.Seconds())
	}
}

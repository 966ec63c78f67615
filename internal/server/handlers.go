package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	_ "golang.org/x/image/bmp"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
	"github.com/MeKo-Tech/qrscan/internal/common"
	"github.com/MeKo-Tech/qrscan/internal/frame"
	"github.com/MeKo-Tech/qrscan/internal/geometry"
	"github.com/MeKo-Tech/qrscan/internal/version"
	"github.com/MeKo-Tech/qrscan/internal/yuv"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:   "healthy",
		Version:  version.Version,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: s.SessionCount(),
		Memory:   common.GetMemoryStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}

// scanImageHandler decodes the first symbol in an uploaded still image.
// The whole image is examined unless crop_percent is given.
func (s *Server) scanImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Set content length limit
	r.Body = http.MaxBytesReader(w, r.Body, s.maxMessage)

	// Parse multipart form
	if err := r.ParseMultipartForm(s.maxMessage); err != nil {
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	// Get uploaded file
	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	imageData, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return
	}

	rotation, err := formInt(r, "rotation")
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	percent, err := formInt(r, "crop_percent")
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var cropper analyzer.Cropper = analyzer.FullFrame{}
	if percent != 0 {
		target, err := analyzer.NewTarget(percent)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		cropper = analyzer.PercentCropper{Target: target}
	}

	f, err := frame.FromImage(img, frame.BuildOptions{Layout: frame.LayoutGray, Rotation: rotation})
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var found *ScanResult
	an, err := s.newAnalyzer("", cropper, func(res analyzer.Result) {
		sr := newScanResult(res)
		found = &sr
	}, s.logger)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	timer := common.NewNamedTimer("scan")
	err = an.Analyze(r.Context(), f)
	took := timer.Stop()
	switch {
	case errors.Is(err, geometry.ErrUnsupportedRotation), errors.Is(err, yuv.ErrMalformedFrame):
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.writeErrorResponse(w, fmt.Sprintf("Scan failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	response := ScanResponse{Success: true, Found: found != nil, Result: found, TookMs: took.Milliseconds()}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode scan response", "error", err)
	}
}

// formInt reads an optional integer form value. Missing values are zero.
func formInt(r *http.Request, key string) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ScanResponse{
		Success: false,
		Error:   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Log error, but can't send another response
		s.logger.Error("Failed to write error response", "error", err)
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrscan/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the frame analysis server",
		Long: `Start an HTTP server that analyzes camera frames streamed over websockets.

The server provides the following endpoints:
  GET  /ws/frames  - Websocket; binary msgpack frames in, JSON results out
  POST /scan/image - Decode an uploaded image
  GET  /health     - Health check endpoint
  GET  /metrics    - Prometheus metrics

Every websocket connection gets its own analyzer. Frames that arrive while
the previous one is still being decoded replace each other.

Examples:
  qrscan serve
  qrscan serve --port 8080
  qrscan serve --host 0.0.0.0 --port 3000 --crop-mode overlay`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd)
		},
	}

	cmd.Flags().StringP("host", "H", "localhost", "server host")
	cmd.Flags().IntP("port", "p", 8080, "server port")
	cmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	cmd.Flags().Int("max-message-mb", 16, "maximum websocket message and upload size in MB")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	cmd.Flags().String("crop-mode", "percent", "crop mode: percent, overlay or full")
	cmd.Flags().Int("crop-percent", 60, "initial scan target percentage for new sessions")
	cmd.Flags().StringSlice("formats", []string{"qr"}, "symbologies to decode")
	cmd.Flags().String("snapshot-dir", "", "directory to write a PNG of every decoded crop")

	a.flagKeys(cmd, map[string]string{
		"server.host":             "host",
		"server.port":             "port",
		"server.cors_origin":      "cors-origin",
		"server.max_message_mb":   "max-message-mb",
		"server.shutdown_timeout": "shutdown-timeout",
		"scanner.crop_mode":       "crop-mode",
		"scanner.crop_percent":    "crop-percent",
		"scanner.formats":         "formats",
		"scanner.snapshot_dir":    "snapshot-dir",
	})
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	cfg := a.cfg
	logger := a.logger

	decOpts, err := cfg.DecoderOptions()
	if err != nil {
		return err
	}

	scanServer, err := server.NewServer(server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		CORSOrigin:   cfg.Server.CORSOrigin,
		MaxMessageMB: int64(cfg.Server.MaxMessageMB),
		Decoder:      decOpts,
		CropMode:     cfg.Scanner.CropMode,
		CropPercent:  cfg.Scanner.CropPercent,
		SampleEvery:  cfg.Scanner.SampleEvery,
		SnapshotDir:  cfg.Scanner.SnapshotDir,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           scanServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting scan server", "host", cfg.Server.Host, "port", cfg.Server.Port, "config", a.GetConfigSource())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err, ok := <-serveErr:
		if ok {
			_ = scanServer.Close()
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("Starting graceful shutdown", "timeout", cfg.Server.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server first
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Hijacked websocket connections are not covered by Shutdown.
	if err := scanServer.Close(); err != nil {
		logger.Error("Server cleanup error", "error", err)
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

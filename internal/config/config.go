package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/qrscan/internal/analyzer"
	"github.com/MeKo-Tech/qrscan/internal/barcode"
)

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Scanner: ScannerConfig{
			Formats:     []string{"qr"},
			TryHarder:   false,
			CropMode:    analyzer.ModePercent,
			CropPercent: 60,
			SampleEvery: 10,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxMessageMB:    16,
			ShutdownTimeout: 10 * time.Second,
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	validModes := []string{analyzer.ModePercent, analyzer.ModeOverlay, analyzer.ModeFull}
	if !slices.Contains(validModes, c.Scanner.CropMode) {
		return fmt.Errorf("invalid crop mode: %s (must be one of: %s)", c.Scanner.CropMode, strings.Join(validModes, ", "))
	}
	if c.Scanner.CropPercent < 1 || c.Scanner.CropPercent > 100 {
		return fmt.Errorf("invalid crop percent: %d (must be between 1 and 100)", c.Scanner.CropPercent)
	}
	if c.Scanner.SampleEvery <= 0 {
		return fmt.Errorf("invalid sample window: %d (must be positive)", c.Scanner.SampleEvery)
	}
	if _, err := barcode.ParseFormats(c.Scanner.Formats); err != nil {
		return fmt.Errorf("invalid scanner formats: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxMessageMB <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be positive)", c.Server.MaxMessageMB)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v (must be positive)", c.Server.ShutdownTimeout)
	}

	return nil
}

// DecoderOptions maps the scanner section onto barcode decoder options.
func (c *Config) DecoderOptions() (barcode.Options, error) {
	formats, err := barcode.ParseFormats(c.Scanner.Formats)
	if err != nil {
		return barcode.Options{}, err
	}
	return barcode.Options{Formats: formats, TryHarder: c.Scanner.TryHarder}, nil
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

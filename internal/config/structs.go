package config

import "time"

// Config represents the complete configuration for the qrscan application.
// It covers the scan and serve commands and supports loading from
// configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Frame analysis
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner" json:"scanner"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
}

// ScannerConfig controls cropping and decoding.
type ScannerConfig struct {
	// Formats lists the symbologies to search, e.g. qr, datamatrix.
	Formats   []string `mapstructure:"formats" yaml:"formats" json:"formats"`
	TryHarder bool     `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	// CropMode is percent, overlay or full.
	CropMode    string `mapstructure:"crop_mode" yaml:"crop_mode" json:"crop_mode"`
	CropPercent int    `mapstructure:"crop_percent" yaml:"crop_percent" json:"crop_percent"`
	// SampleEvery is the throughput measurement window in frames.
	SampleEvery int `mapstructure:"sample_every" yaml:"sample_every" json:"sample_every"`
	// SnapshotDir receives a PNG of every decoded crop when set.
	SnapshotDir string `mapstructure:"snapshot_dir" yaml:"snapshot_dir" json:"snapshot_dir"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string        `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxMessageMB    int           `mapstructure:"max_message_mb" yaml:"max_message_mb" json:"max_message_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

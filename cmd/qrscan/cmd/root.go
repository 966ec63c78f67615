package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/qrscan/internal/config"
	"github.com/MeKo-Tech/qrscan/internal/version"
)

// app carries the configuration state shared by one command tree.
type app struct {
	// Configuration file path.
	cfgFile string
	v       *viper.Viper
	loader  *config.Loader
	cfg     *config.Config
	logger  *slog.Logger
	// bindings maps viper keys to flag names per subcommand. Subcommands
	// share keys, so only the executing command is bound.
	bindings map[*cobra.Command]map[string]string
}

// NewRootCommand builds the qrscan command tree. Every call returns an
// independent tree with its own viper instance, so tests can execute
// commands repeatedly without leaking flag state.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	a := &app{
		v:        v,
		loader:   config.NewLoaderWithViper(v),
		bindings: make(map[*cobra.Command]map[string]string),
	}

	rootCmd := &cobra.Command{
		Use:   "qrscan",
		Short: "Real-time QR code frame analysis",
		Long: `qrscan finds and decodes QR codes in camera frames.

Frames are cropped to the on-screen scan target, packed into a luminance
buffer and handed to the barcode decoder one at a time. Frames that arrive
while the decoder is busy are dropped rather than queued.

This tool provides:
- Scanning of images and raw NV21/I420 capture dumps
- A websocket server for live frame streams
- Prometheus metrics for frame outcomes and throughput

Examples:
  qrscan scan photo.png
  qrscan scan capture.nv21 --width 640 --height 480 --rotation 90
  qrscan serve --port 8080`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bindFlags(cmd.Flags(), a.bindings[cmd]); err != nil {
				return err
			}
			if err := a.initConfig(); err != nil {
				return err
			}
			a.setupLogging(cmd.ErrOrStderr())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "qrscan version "+version.String())
				return nil
			}
			// If no version flag, show help
			return cmd.Help()
		},
	}

	// Global flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/qrscan, /etc/qrscan)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	if err := a.bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"verbose":   "verbose",
		"log_level": "log-level",
	}); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newScanCommand(a), newServeCommand(a), newConfigCommand(a))
	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlags binds viper keys to flags of the same command.
func (a *app) bindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// flagKeys registers the viper keys cmd's flags override when it runs.
func (a *app) flagKeys(cmd *cobra.Command, keys map[string]string) {
	a.bindings[cmd] = keys
}

// initConfig reads in config file and ENV variables if set. Bound flags
// are resolved during the same pass.
func (a *app) initConfig() error {
	var err error
	if a.cfgFile != "" {
		// Use config file from the flag
		a.cfg, err = a.loader.LoadWithFile(a.cfgFile)
	} else {
		// Search for config in default locations
		a.cfg, err = a.loader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// setupLogging installs a JSON slog handler. Logs go to stderr so scan
// results on stdout stay machine readable.
func (a *app) setupLogging(w io.Writer) {
	var logLevel slog.Level
	if a.cfg.Verbose {
		logLevel = slog.LevelDebug
	} else {
		switch a.cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
	}

	a.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(a.logger)
}

// GetConfigSource returns the config file that was read, if any.
func (a *app) GetConfigSource() string {
	if used := a.loader.GetConfigFileUsed(); used != "" {
		return used
	}
	return "defaults"
}

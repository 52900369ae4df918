package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hyperengineering/vitalsync/internal/config"
	"github.com/hyperengineering/vitalsync/pkg/vitalsync"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "vitalsync",
	Short:        "VitalSync - offline-first observation capture and sync",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides VITALSYNC_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the --config file when given, otherwise the default
// location, and installs the configured logger writing to w.
func loadConfig(w io.Writer) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(newLogger(cfg.Log, w))
	slog.Debug("configuration loaded", "level", cfg.Log.Level, "format", cfg.Log.Format)
	return cfg, nil
}

// openClient loads configuration and opens the local client. Logs go to
// stderr so command output stays machine readable.
func openClient(cmd *cobra.Command) (*vitalsync.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	client, err := vitalsync.New(vitalsync.FromConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open client: %w", err)
	}
	return client, cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sqlwatch",
	Short: "Periodic SQL health checks with alerting",
	Long: "sqlwatch runs read-only diagnostic queries (probes) against a database on a schedule, " +
		"applies a threshold predicate to the result rows and delivers alerts to pluggable sinks.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ~/.config/sqlwatch/config.yaml, /etc/sqlwatch/config.yaml)")
	registerOptionFlags(rootCmd)
}

// loadConfig resolves the config file and overlays option flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Resolve(cfgFile)
	if err != nil {
		return nil, err
	}
	applyOptionFlags(cmd, cfg)
	return cfg, nil
}

// setupLogger builds the process logger: text on a terminal, JSON otherwise,
// unless options.log_format says which.
func setupLogger(opts config.Options) (*slog.Logger, error) {
	return newLogger(os.Stderr, opts.LogLevel, opts.LogFormat, isatty.IsTerminal(os.Stderr.Fd()))
}

func newLogger(w io.Writer, level, format string, tty bool) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "", "auto":
		if tty {
			return slog.New(slog.NewTextHandler(w, opts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

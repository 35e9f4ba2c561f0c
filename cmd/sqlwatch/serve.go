package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/app"
	"github.com/sznuper/sqlwatch/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run probes on their schedules until interrupted",
	Long: "Starts the scheduler and runs every probe on its interval or cron schedule until SIGINT or SIGTERM. " +
		"With --watch the config file is reloaded when it changes.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg.Options)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if addr := cfg.Options.MetricsAddr; addr != "" {
			go serveMetrics(ctx, addr, logger)
		}

		if !watch {
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			err = a.Serve(ctx)
			return errors.Join(err, a.Close())
		}

		changes, err := app.WatchFile(ctx, cfg.Path, logger)
		if err != nil {
			return err
		}
		logger.Info("watching config for changes", "path", cfg.Path)

		first := cfg
		load := func(ctx context.Context) (*app.App, error) {
			c := first
			first = nil
			if c == nil {
				var err error
				if c, err = config.Resolve(cfg.Path); err != nil {
					return nil, err
				}
				applyOptionFlags(cmd, c)
			}
			return app.New(ctx, c, logger)
		}
		return app.ServeWithReload(ctx, changes, load, logger)
	},
}

func init() {
	serveCmd.Flags().Bool("watch", false, "reload when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

// serveMetrics exposes Prometheus metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

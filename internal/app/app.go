// Package app assembles a runnable sqlwatch instance from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/sznuper/sqlwatch/internal/config"
	"github.com/sznuper/sqlwatch/internal/database"
	"github.com/sznuper/sqlwatch/internal/notify"
	"github.com/sznuper/sqlwatch/internal/probe"
	"github.com/sznuper/sqlwatch/internal/query"
	"github.com/sznuper/sqlwatch/internal/runner"
	"github.com/sznuper/sqlwatch/internal/scheduler"
)

// App is a loaded configuration wired to a database and a set of sinks.
type App struct {
	Config     *config.Config
	Registry   *probe.Registry
	DB         database.Executor
	Runner     *runner.Runner
	Dispatcher *notify.Dispatcher

	logger *slog.Logger
}

// New builds an App from cfg: it compiles the probes, opens the database
// pool and creates the sinks. Close releases all of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg, err := BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	timeout, err := config.ParseDuration(cfg.Options.StatementTimeout)
	if err != nil {
		return nil, fmt.Errorf("options.statement_timeout: %w", err)
	}

	dispatcher, err := BuildDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, database.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		_ = dispatcher.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Database.Driver, err)
	}

	return &App{
		Config:     cfg,
		Registry:   reg,
		DB:         db,
		Runner:     runner.New(db, logger, runner.Options{StatementTimeout: timeout, Globals: cfg.Globals}),
		Dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Serve runs the scheduler until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("starting scheduler", "probes", a.Registry.Len(), "sinks", a.Dispatcher.Sinks())
	return scheduler.New(a.Runner, a.Dispatcher, a.logger).Run(ctx, a.Registry.List())
}

// Close closes the sinks and the database pool.
func (a *App) Close() error {
	return errors.Join(a.Dispatcher.Close(), a.DB.Close())
}

// BuildRegistry resolves every probe's query and registers the probes in
// config order.
func BuildRegistry(cfg *config.Config) (*probe.Registry, error) {
	reg := probe.NewRegistry()
	dir := cfg.QueriesDir()
	for _, pc := range cfg.Probes {
		p, err := buildProbe(pc, dir, cfg.Database.Driver)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildProbe(pc config.Probe, queriesDir, driver string) (*probe.Probe, error) {
	resolved, err := query.Resolve(pc.Query, queriesDir, query.Pin{Hash: pc.SHA256.Hash, Disabled: pc.SHA256.Disabled})
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", pc.Name, err)
	}
	cooldown, err := config.ParseDuration(pc.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("probe %q: cooldown: %w", pc.Name, err)
	}
	source := resolved.Path
	if source == "" {
		source = "inline"
	}
	return probe.New(probe.Spec{
		Name:      pc.Name,
		SQL:       resolved.SQL,
		Params:    pc.Params,
		Predicate: pc.Predicate,
		Severity:  pc.Severity,
		Interval:  pc.Interval(),
		Cron:      pc.Cron,
		Timeout:   pc.Timeout(),
		Label:     pc.Label,
		Template:  pc.Template,
		Cooldown:  cooldown,
		Notify:    pc.Notify,
		Source:    source,
		Driver:    driver,
	})
}

// BuildDispatcher creates the configured sinks, or a single console sink
// when none are configured.
func BuildDispatcher(cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	var sinks []notify.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	for _, name := range slices.Sorted(maps.Keys(cfg.Sinks)) {
		sc := cfg.Sinks[name]
		s, err := notify.NewSink(name, notify.SinkDef{URL: sc.URL, Params: sc.Params, Template: sc.Template}, cfg.Globals)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notify.NewConsoleSink("console", nil, "", cfg.Globals))
	}

	policy, err := retryPolicy(cfg.Delivery)
	if err != nil {
		closeAll()
		return nil, err
	}

	fallback, err := notify.NewFallbackLog(cfg.Options.FallbackLog)
	if err != nil {
		closeAll()
		return nil, err
	}

	return notify.NewDispatcher(sinks, policy, fallback, logger), nil
}

func retryPolicy(d config.Delivery) (notify.RetryPolicy, error) {
	initial, err := config.ParseDuration(d.InitialBackoff)
	if err != nil {
		return notify.RetryPolicy{}, fmt.Errorf("delivery.initial_backoff: %w", err)
	}
	maxBackoff, err := config.ParseDuration(d.MaxBackoff)
	if err != nil {
		return notify.RetryPolicy{}, fmt.Errorf("delivery.max_backoff: %w", err)
	}
	policy := notify.DefaultRetryPolicy()
	if d.MaxAttempts > 0 {
		policy.MaxAttempts = d.MaxAttempts
	}
	if initial > 0 {
		policy.InitialBackoff = initial
	}
	if maxBackoff > 0 {
		policy.MaxBackoff = maxBackoff
	}
	return policy, nil
}

package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sznuper/sqlwatch/internal/config"
	"github.com/sznuper/sqlwatch/internal/database"
	"github.com/sznuper/sqlwatch/internal/notify"
	"github.com/sznuper/sqlwatch/internal/probe"
	"github.com/sznuper/sqlwatch/internal/query"
	"github.com/sznuper/sqlwatch/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildRegistry(t *testing.T) {
	dir := t.TempDir()
	sql := "SELECT relname, n_dead_tup FROM pg_stat_user_tables"
	writeFile(t, dir, "dead.sql", sql)

	cfg := &config.Config{
		Options: config.Options{QueriesDir: dir},
		Probes: []config.Probe{
			{
				Name:            "dead-tuple-check",
				Query:           "file://dead.sql",
				SHA256:          config.SHA256{Hash: query.Hash([]byte(sql))},
				Predicate:       "n_dead_tup > 1000",
				IntervalSeconds: 60,
				Cooldown:        "15m",
			},
			{
				Name:      "inline",
				Query:     "SELECT count(*) AS n FROM pg_stat_activity",
				Predicate: "n > 100",
				Cron:      "*/5 * * * *",
				Severity:  "critical",
			},
		},
	}

	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("len = %d, want 2", reg.Len())
	}

	p, ok := reg.Get("dead-tuple-check")
	if !ok {
		t.Fatal("probe not registered")
	}
	if p.SQL != sql || p.Source != filepath.Join(dir, "dead.sql") {
		t.Errorf("sql = %q source = %q", p.SQL, p.Source)
	}
	if p.Interval != time.Minute || p.Cooldown != 15*time.Minute {
		t.Errorf("interval = %s cooldown = %s", p.Interval, p.Cooldown)
	}

	in, _ := reg.Get("inline")
	if in.Source != "inline" || in.Severity != probe.SeverityCritical || in.Trigger() != "cron */5 * * * *" {
		t.Errorf("inline probe = %+v", in)
	}
}

func TestBuildRegistry_PinMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q.sql", "SELECT 1 AS v")
	cfg := &config.Config{
		Options: config.Options{QueriesDir: dir},
		Probes: []config.Probe{{
			Name: "pinned", Query: "file://q.sql", SHA256: config.SHA256{Hash: "deadbeef"},
			Predicate: "v > 0", IntervalSeconds: 1,
		}},
	}
	if _, err := BuildRegistry(cfg); err == nil {
		t.Fatal("expected sha256 mismatch error")
	}
}

func TestBuildRegistry_RejectsWrites(t *testing.T) {
	cfg := &config.Config{Probes: []config.Probe{{
		Name: "vacuum", Query: "VACUUM ANALYZE orders", Predicate: "row_count > 0", IntervalSeconds: 1,
	}}}
	if _, err := BuildRegistry(cfg); err == nil {
		t.Fatal("expected read-only violation")
	}
}

func TestBuildRegistry_Duplicate(t *testing.T) {
	p := config.Probe{Name: "twice", Query: "SELECT 1 AS v", Predicate: "v > 0", IntervalSeconds: 1}
	_, err := BuildRegistry(&config.Config{Probes: []config.Probe{p, p}})
	var dup *probe.DuplicateProbeError
	if !errors.As(err, &dup) || dup.Name != "twice" {
		t.Fatalf("err = %v, want *DuplicateProbeError", err)
	}
}

func TestBuildDispatcher_DefaultConsole(t *testing.T) {
	d, err := BuildDispatcher(&config.Config{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if got := d.Sinks(); len(got) != 1 || got[0] != "console" {
		t.Errorf("sinks = %v, want [console]", got)
	}
}

func TestBuildDispatcher_Configured(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Options: config.Options{FallbackLog: filepath.Join(dir, "fallback.jsonl")},
		Sinks: map[string]config.Sink{
			"log":  {URL: "file://" + filepath.Join(dir, "alerts.jsonl")},
			"chat": {URL: "logger://"},
		},
	}
	d, err := BuildDispatcher(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if got := d.Sinks(); len(got) != 2 || got[0] != "chat" || got[1] != "log" {
		t.Errorf("sinks = %v, want [chat log]", got)
	}
}

func TestBuildDispatcher_BadSink(t *testing.T) {
	cfg := &config.Config{Sinks: map[string]config.Sink{"bad": {URL: "nope"}}}
	if _, err := BuildDispatcher(cfg, testLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetryPolicy(t *testing.T) {
	p, err := retryPolicy(config.Delivery{MaxAttempts: 5, InitialBackoff: "1s"})
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxAttempts != 5 || p.InitialBackoff != time.Second || p.MaxBackoff != notify.DefaultRetryPolicy().MaxBackoff {
		t.Errorf("policy = %+v", p)
	}
	if _, err := retryPolicy(config.Delivery{MaxBackoff: "later"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestWatchFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "a: 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := WatchFile(ctx, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Unrelated files in the same directory are ignored.
	writeFile(t, dir, "other.yaml", "b: 2\n")
	select {
	case <-changes:
		t.Fatal("unexpected change for unrelated file")
	case <-time.After(2 * reloadDebounce):
	}

	writeFile(t, dir, "config.yaml", "a: 2\n")
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signalled")
	}
}

type okExecutor struct{ closed atomic.Int64 }

func (e *okExecutor) Execute(context.Context, string, []any, time.Duration) (*database.ResultSet, error) {
	return &database.ResultSet{Columns: []string{"v"}, Rows: []database.Row{{"v": int64(1)}}}, nil
}
func (e *okExecutor) Ping(context.Context) error { return nil }
func (e *okExecutor) Close() error               { e.closed.Add(1); return nil }

func fakeApp(t *testing.T, db *okExecutor) *App {
	t.Helper()
	cfg := &config.Config{Probes: []config.Probe{{
		Name: "v", Query: "SELECT 1 AS v", Predicate: "v > 5", IntervalSeconds: 0.01,
	}}}
	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	logger := testLogger()
	return &App{
		Config:     cfg,
		Registry:   reg,
		DB:         db,
		Runner:     runner.New(db, logger, runner.Options{}),
		Dispatcher: notify.NewDispatcher([]notify.Sink{notify.NewConsoleSink("console", &bytes.Buffer{}, "", nil)}, notify.RetryPolicy{}, notify.NewFallbackWriter(&bytes.Buffer{}), logger),
		logger:     logger,
	}
}

func TestServeWithReload(t *testing.T) {
	var loads atomic.Int64
	var dbs []*okExecutor
	load := func(context.Context) (*App, error) {
		n := loads.Add(1)
		if n == 3 {
			return nil, errors.New("broken config")
		}
		db := &okExecutor{}
		dbs = append(dbs, db)
		return fakeApp(t, db), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- ServeWithReload(ctx, changes, load, testLogger()) }()

	changes <- struct{}{} // reload succeeds
	changes <- struct{}{} // reload fails, current app kept
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeWithReload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("did not stop")
	}

	if loads.Load() != 3 {
		t.Errorf("loads = %d, want 3", loads.Load())
	}
	if len(dbs) != 2 {
		t.Fatalf("apps built = %d, want 2", len(dbs))
	}
	for i, db := range dbs {
		if db.closed.Load() != 1 {
			t.Errorf("app %d closed %d times, want 1", i, db.closed.Load())
		}
	}
}

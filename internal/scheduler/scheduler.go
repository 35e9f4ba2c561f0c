// Package scheduler runs probes on their schedules and hands alerts to the
// dispatcher.
package scheduler

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sznuper/sqlwatch/internal/metrics"
	"github.com/sznuper/sqlwatch/internal/notify"
	"github.com/sznuper/sqlwatch/internal/probe"
	"github.com/sznuper/sqlwatch/internal/runner"
)

// Evaluator runs a probe once.
type Evaluator interface {
	RunProbe(ctx context.Context, p *probe.Probe) runner.Result
}

// Emitter delivers an alert to the named sinks (all sinks when empty).
type Emitter interface {
	Emit(ctx context.Context, a notify.Alert, targets []string) error
}

// Status is the observable state of one scheduled probe.
type Status struct {
	State     probe.State // idle or running
	Last      probe.State // outcome of the last completed run
	LastRun   time.Time
	LastAlert time.Time
	Runs      int
	Skipped   int
}

type entry struct {
	probe *probe.Probe
	guard sync.Mutex // held while an evaluation is in flight

	mu     sync.Mutex
	status Status
}

// Scheduler owns one cron loop over a fixed set of probes. Each probe runs
// in its own goroutine and at most one evaluation per probe is in flight;
// a run that comes due while the previous one is still going is skipped.
type Scheduler struct {
	eval   Evaluator
	emit   Emitter
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a Scheduler.
func New(eval Evaluator, emit Emitter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		eval:    eval,
		emit:    emit,
		logger:  logger,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Run schedules probes and blocks until ctx is cancelled. Interval probes
// run immediately and then every interval; cron probes wait for their next
// match. On cancellation, in-flight queries are cancelled and Run returns
// once every worker has finished.
func (s *Scheduler) Run(ctx context.Context, probes iter.Seq[*probe.Probe]) error {
	c := cron.New(cron.WithLogger(cronLogger{s.logger}))

	var immediate []*entry
	for p := range probes {
		e := &entry{probe: p, status: Status{State: probe.StateIdle}}
		s.mu.Lock()
		s.entries[p.Name] = e
		s.mu.Unlock()

		c.Schedule(p.Schedule, cron.FuncJob(func() { s.dispatch(ctx, e) }))
		if p.Cron == "" {
			immediate = append(immediate, e)
		}
		s.logger.Info("probe scheduled", "probe", p.Name, "trigger", p.Trigger(), "severity", p.Severity)
	}

	c.Start()
	for _, e := range immediate {
		s.dispatch(ctx, e)
	}

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-c.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Status returns the status of the named probe.
func (s *Scheduler) Status(name string) (Status, bool) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, true
}

// dispatch starts an evaluation of e unless one is already in flight.
func (s *Scheduler) dispatch(ctx context.Context, e *entry) {
	if ctx.Err() != nil {
		return
	}
	if !e.guard.TryLock() {
		e.mu.Lock()
		e.status.Skipped++
		e.mu.Unlock()
		metrics.ProbeSkippedTotal.WithLabelValues(e.probe.Name).Inc()
		s.logger.Warn("probe still running, skipping this run", "probe", e.probe.Name)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.guard.Unlock()
		s.evaluate(ctx, e)
	}()
}

func (s *Scheduler) evaluate(ctx context.Context, e *entry) {
	p := e.probe
	e.setState(probe.StateRunning)
	metrics.ProbeRunning.WithLabelValues(p.Name).Set(1)
	defer metrics.ProbeRunning.WithLabelValues(p.Name).Set(0)

	res := s.eval.RunProbe(ctx, p)

	now := s.now()
	e.mu.Lock()
	e.status.State = probe.StateIdle
	e.status.Last = res.State
	e.status.LastRun = res.StartedAt
	e.status.Runs++
	lastAlert := e.status.LastAlert
	e.mu.Unlock()

	if res.Alert == nil {
		return
	}
	if withinCooldown(lastAlert, p.Cooldown, now) {
		metrics.AlertsSuppressedTotal.WithLabelValues(p.Name).Inc()
		s.logger.Info("alert suppressed by cooldown", "probe", p.Name, "cooldown", p.Cooldown, "last_alert", lastAlert)
		return
	}

	e.mu.Lock()
	e.status.LastAlert = now
	e.mu.Unlock()

	if err := s.emit.Emit(ctx, *res.Alert, p.Notify); err != nil {
		s.logger.Error("alert delivery failed", "probe", p.Name, "cycle", res.CycleID, "error", err)
	}
}

func (e *entry) setState(st probe.State) {
	e.mu.Lock()
	e.status.State = st
	e.mu.Unlock()
}

// withinCooldown reports whether an alert raised at last still silences
// alerts at now. A zero cooldown never silences.
func withinCooldown(last time.Time, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) < cooldown
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

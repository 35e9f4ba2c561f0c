// Package runner evaluates probes: it executes the probe query, applies the
// predicate to the rows and turns the outcome into a Result and, when
// needed, an Alert.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sznuper/sqlwatch/internal/database"
	"github.com/sznuper/sqlwatch/internal/metrics"
	"github.com/sznuper/sqlwatch/internal/notify"
	"github.com/sznuper/sqlwatch/internal/predicate"
	"github.com/sznuper/sqlwatch/internal/probe"
)

// DefaultTimeout bounds a statement when neither the probe nor the options
// set a timeout.
const DefaultTimeout = 30 * time.Second

// maxLabels caps how many breaching rows are named in a message.
const maxLabels = 5

// Options configure a Runner.
type Options struct {
	// StatementTimeout applies to probes without their own timeout.
	StatementTimeout time.Duration
	// Globals are exposed to message templates as {{globals.*}}.
	Globals map[string]any
}

// Runner evaluates probes against one database.
type Runner struct {
	db      database.Executor
	logger  *slog.Logger
	timeout time.Duration
	globals map[string]any
	now     func() time.Time
}

// New creates a Runner.
func New(db database.Executor, logger *slog.Logger, opts Options) *Runner {
	timeout := opts.StatementTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		db:      db,
		logger:  logger,
		timeout: timeout,
		globals: opts.Globals,
		now:     time.Now,
	}
}

// Timeout returns the statement timeout used for p.
func (r *Runner) Timeout(p *probe.Probe) time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return r.timeout
}

// RunAll evaluates every probe once, in order.
func (r *Runner) RunAll(ctx context.Context, probes iter.Seq[*probe.Probe]) []Result {
	var results []Result
	for p := range probes {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.RunProbe(ctx, p))
	}
	return results
}

// RunProbe executes p once and evaluates its predicate.
func (r *Runner) RunProbe(ctx context.Context, p *probe.Probe) Result {
	start := r.now()
	result := Result{
		Probe:     p.Name,
		CycleID:   uuid.NewString(),
		Severity:  p.Severity,
		StartedAt: start,
		State:     probe.StateRunning,
	}
	log := r.logger.With("probe", p.Name, "cycle", result.CycleID)

	defer func() {
		metrics.ProbeRunsTotal.WithLabelValues(p.Name, string(result.State)).Inc()
		metrics.ProbeDuration.WithLabelValues(p.Name).Observe(result.Duration.Seconds())
		if result.Alert != nil {
			metrics.AlertsTotal.WithLabelValues(p.Name, result.Alert.Severity, result.Alert.Kind).Inc()
		}
	}()

	timeout := r.Timeout(p)
	log.Debug("executing probe", "timeout", timeout, "source", p.Source)

	rs, err := r.db.Execute(ctx, p.SQL, p.Params, timeout)
	if err != nil {
		execErr := &ProbeExecutionError{
			Probe:     p.Name,
			Timeout:   errors.Is(err, database.ErrTimeout),
			Cancelled: ctx.Err() != nil,
			Err:       err,
		}
		if execErr.Cancelled {
			execErr.Timeout = false
		}
		result.fail(execErr, StageExecute, r.now())

		if execErr.Cancelled {
			log.Info("probe cancelled", "error", err)
			return result
		}
		log.Error("probe execution failed", "timeout", execErr.Timeout, "error", err)
		result.Alert = r.newAlert(p, result, probe.SeverityCritical, notify.KindExecution, executionMessage(execErr, timeout))
		return result
	}
	result.Columns = rs.Columns
	result.Rows = rs.Rows

	expr, err := p.Expr()
	var outcome predicate.Outcome
	if err == nil {
		outcome, err = expr.Evaluate(rs.Columns, rs.Rows, p.Label)
	}
	if err != nil {
		predErr := &PredicateError{Probe: p.Name, Predicate: p.Predicate, Err: err}
		result.fail(predErr, StagePredicate, r.now())
		log.Error("probe misconfigured", "kind", "predicate", "predicate", p.Predicate, "error", err)
		result.Alert = r.newAlert(p, result, probe.SeverityWarning, notify.KindPredicate,
			fmt.Sprintf("probe misconfigured: predicate %q: %v", p.Predicate, err))
		return result
	}
	result.Outcome = outcome
	result.Duration = r.now().Sub(start)

	if !outcome.Breached {
		result.State = probe.StateOK
		log.Debug("probe ok", "rows", outcome.RowCount, "duration", result.Duration)
		return result
	}

	result.State = probe.StateAlert
	a := r.newAlert(p, result, p.Severity, notify.KindBreach, breachMessage(expr, outcome))
	a.Predicate = expr.String()
	a.Metric = expr.Metric
	a.Value = predicate.FormatNumber(outcome.Observed)
	a.Threshold = predicate.FormatNumber(expr.Threshold)
	a.Labels = breachLabels(outcome)

	if p.Template != "" {
		msg, err := notify.Render(p.Template, notify.BuildTemplateData(r.globals, *a))
		if err != nil {
			log.Warn("probe template failed, using default message", "error", err)
		} else {
			a.Message = msg
		}
	}
	result.Alert = a
	log.Info("probe breached", "severity", p.Severity, "value", a.Value, "predicate", a.Predicate, "breaches", len(outcome.Breaches))
	return result
}

func (res *Result) fail(err error, stage string, now time.Time) {
	res.State = probe.StateFailed
	res.Err = err
	res.ErrStage = stage
	res.Duration = now.Sub(res.StartedAt)
}

func (r *Runner) newAlert(p *probe.Probe, res Result, sev probe.Severity, kind, msg string) *notify.Alert {
	return &notify.Alert{
		ID:        uuid.NewString(),
		Probe:     p.Name,
		CycleID:   res.CycleID,
		Timestamp: res.StartedAt.UTC(),
		Severity:  string(sev),
		Kind:      kind,
		Message:   msg,
		Predicate: p.Predicate,
	}
}

func executionMessage(err *ProbeExecutionError, timeout time.Duration) string {
	if err.Timeout {
		return fmt.Sprintf("query timed out after %s", timeout)
	}
	return fmt.Sprintf("query failed: %v", err.Err)
}

// breachMessage renders e.g. "dead_percent = 31.9 (dead_percent > 25) on orders, users".
func breachMessage(expr predicate.Expr, out predicate.Outcome) string {
	msg := fmt.Sprintf("%s = %s (%s)", expr.Metric, predicate.FormatNumber(out.Observed), expr)
	if labels := breachLabels(out); len(labels) > 0 {
		msg += " on " + strings.Join(labels, ", ")
		if extra := len(out.Breaches) - len(labels); extra > 0 {
			msg += fmt.Sprintf(" and %d more", extra)
		}
	}
	return msg
}

func breachLabels(out predicate.Outcome) []string {
	var labels []string
	for _, b := range out.Breaches {
		if b.Label == "" {
			continue
		}
		labels = append(labels, b.Label)
		if len(labels) == maxLabels {
			break
		}
	}
	return labels
}

// Package probe defines probes (named read-only diagnostic queries with an
// alert predicate) and the registry that holds them for a run.
package probe

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sznuper/sqlwatch/internal/predicate"
	"github.com/sznuper/sqlwatch/internal/query"
)

// Severity is the alert level a probe raises when its predicate breaches.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity name. Empty defaults to warning.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityWarning, nil
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("invalid severity %q: want info, warning or critical", s)
	}
}

// State is the per-probe evaluation state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateOK      State = "ok"
	StateAlert   State = "alert"
	StateFailed  State = "failed"
)

// Spec is the raw description of a probe, usually mapped from config.
type Spec struct {
	Name      string
	SQL       string
	Params    []any
	Predicate string
	Severity  string
	Interval  time.Duration
	Cron      string
	Timeout   time.Duration
	Label     string
	Template  string
	Cooldown  time.Duration
	Notify    []string
	Source    string // where the SQL came from, for display
	Driver    string // database driver whose quoting rules apply to SQL; empty checks them all
}

// Probe is an immutable, validated probe definition.
type Probe struct {
	Name      string
	SQL       string
	Params    []any
	Predicate string
	Severity  Severity
	Interval  time.Duration
	Cron      string
	Schedule  cron.Schedule
	Timeout   time.Duration
	Label     string
	Template  string
	Cooldown  time.Duration
	Notify    []string
	Source    string

	expr    predicate.Expr
	exprErr error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec and builds a Probe.
//
// A malformed predicate does not fail construction: the probe is still
// scheduled and every evaluation reports a predicate error, so operators see
// the misconfiguration as an alert instead of a silently missing probe. Use
// PredicateErr to surface it at load time.
func New(spec Spec) (*Probe, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("probe name is required")
	}
	if err := query.CheckReadOnly(spec.Driver, spec.SQL); err != nil {
		return nil, fmt.Errorf("probe %q: %w", spec.Name, err)
	}
	sev, err := ParseSeverity(spec.Severity)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", spec.Name, err)
	}
	if spec.Timeout < 0 {
		return nil, fmt.Errorf("probe %q: timeout must not be negative", spec.Name)
	}
	if spec.Cooldown < 0 {
		return nil, fmt.Errorf("probe %q: cooldown must not be negative", spec.Name)
	}

	p := &Probe{
		Name:      spec.Name,
		SQL:       spec.SQL,
		Params:    spec.Params,
		Predicate: spec.Predicate,
		Severity:  sev,
		Interval:  spec.Interval,
		Cron:      spec.Cron,
		Timeout:   spec.Timeout,
		Label:     spec.Label,
		Template:  spec.Template,
		Cooldown:  spec.Cooldown,
		Notify:    spec.Notify,
		Source:    spec.Source,
	}

	switch {
	case spec.Cron != "" && spec.Interval > 0:
		return nil, fmt.Errorf("probe %q: set either interval or cron, not both", spec.Name)
	case spec.Cron != "":
		sched, err := cronParser.Parse(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("probe %q: invalid cron %q: %w", spec.Name, spec.Cron, err)
		}
		p.Schedule = sched
	case spec.Interval > 0:
		p.Schedule = Every(spec.Interval)
	default:
		return nil, fmt.Errorf("probe %q: interval or cron is required", spec.Name)
	}

	p.expr, p.exprErr = predicate.Parse(spec.Predicate)
	return p, nil
}

// Expr returns the compiled predicate, or the error from compiling it.
func (p *Probe) Expr() (predicate.Expr, error) {
	return p.expr, p.exprErr
}

// PredicateErr reports a malformed predicate.
func (p *Probe) PredicateErr() error {
	return p.exprErr
}

// Trigger describes the schedule for display.
func (p *Probe) Trigger() string {
	if p.Cron != "" {
		return "cron " + p.Cron
	}
	return "every " + p.Interval.String()
}

// intervalSchedule fires at a fixed delay. cron.Every rounds to whole
// seconds, which is too coarse for sub-second intervals.
type intervalSchedule time.Duration

// Every returns a cron.Schedule with a fixed delay between activations.
func Every(d time.Duration) cron.Schedule {
	return intervalSchedule(d)
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

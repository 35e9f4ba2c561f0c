package runner

import (
	"errors"
	"time"

	"github.com/sznuper/sqlwatch/internal/database"
	"github.com/sznuper/sqlwatch/internal/notify"
	"github.com/sznuper/sqlwatch/internal/predicate"
	"github.com/sznuper/sqlwatch/internal/probe"
)

// Error stages.
const (
	StageExecute   = "execute"
	StagePredicate = "predicate"
)

// Result captures one evaluation of a probe. Errors are stored in
// Err/ErrStage rather than returned, so the caller always has something to
// display.
type Result struct {
	Probe     string
	CycleID   string
	Severity  probe.Severity
	StartedAt time.Time
	Duration  time.Duration
	State     probe.State
	Columns   []string
	Rows      []database.Row
	Outcome   predicate.Outcome
	Alert     *notify.Alert // nil when nothing should be delivered
	Err       error
	ErrStage  string // "execute", "predicate"
}

// Cancelled reports whether the run was interrupted by its caller rather
// than failing on its own.
func (r Result) Cancelled() bool {
	var pe *ProbeExecutionError
	return errors.As(r.Err, &pe) && pe.Cancelled
}

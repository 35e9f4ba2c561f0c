package runner

import "fmt"

// ProbeExecutionError reports a probe whose query could not be executed:
// a driver error, a statement timeout, or cancellation of the run.
type ProbeExecutionError struct {
	Probe     string
	Timeout   bool
	Cancelled bool
	Err       error
}

func (e *ProbeExecutionError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("probe %s: query timed out: %v", e.Probe, e.Err)
	case e.Cancelled:
		return fmt.Sprintf("probe %s: run cancelled: %v", e.Probe, e.Err)
	default:
		return fmt.Sprintf("probe %s: query failed: %v", e.Probe, e.Err)
	}
}

func (e *ProbeExecutionError) Unwrap() error { return e.Err }

// PredicateError reports a predicate that could not be compiled or applied
// to the rows a probe returned. It points at probe configuration, not at the
// monitored database.
type PredicateError struct {
	Probe     string
	Predicate string
	Err       error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("probe %s: predicate %q: %v", e.Probe, e.Predicate, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

package notify

import (
	"context"
	"fmt"
	"time"
)

// Alert kinds.
const (
	KindBreach    = "breach"
	KindExecution = "execution"
	KindPredicate = "predicate"
)

// Alert is a single notification produced by a probe evaluation.
type Alert struct {
	ID        string    `json:"id"`
	Probe     string    `json:"probe"`
	CycleID   string    `json:"cycle_id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Predicate string    `json:"predicate,omitempty"`
	Metric    string    `json:"metric,omitempty"`
	Value     string    `json:"value,omitempty"`
	Threshold string    `json:"threshold,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
}

// Key identifies one probe evaluation cycle; a sink delivers each key at
// most once.
func (a Alert) Key() string {
	return a.Probe + "/" + a.CycleID
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Probe, a.Message)
}

// Sink delivers alerts to one destination. Emit must be safe for concurrent
// use.
type Sink interface {
	Name() string
	Emit(ctx context.Context, a Alert) error
	Close() error
}

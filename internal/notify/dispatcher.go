package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sznuper/sqlwatch/internal/metrics"
)

// RetryPolicy bounds delivery retries per sink.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy makes three attempts, backing off from 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// SinkDeliveryError reports an alert that a sink failed to accept after all
// retries. The alert has been written to the fallback log.
type SinkDeliveryError struct {
	Sink     string
	Probe    string
	Attempts int
	Err      error
}

func (e *SinkDeliveryError) Error() string {
	return fmt.Sprintf("delivering %s alert to %s failed after %d attempts: %v", e.Probe, e.Sink, e.Attempts, e.Err)
}

func (e *SinkDeliveryError) Unwrap() error { return e.Err }

// Dispatcher fans alerts out to sinks with retries. It is safe for
// concurrent use by many probe evaluations.
type Dispatcher struct {
	sinks    map[string]Sink
	order    []string
	policy   RetryPolicy
	fallback *FallbackLog
	logger   *slog.Logger

	mu        sync.Mutex
	delivered map[string]string // sink + "\x00" + probe → last cycle id
}

// NewDispatcher creates a dispatcher over sinks. A nil fallback writes
// undeliverable alerts to stderr.
func NewDispatcher(sinks []Sink, policy RetryPolicy, fallback *FallbackLog, logger *slog.Logger) *Dispatcher {
	if fallback == nil {
		fallback, _ = NewFallbackLog("")
	}
	d := &Dispatcher{
		sinks:     make(map[string]Sink, len(sinks)),
		policy:    policy.normalized(),
		fallback:  fallback,
		logger:    logger,
		delivered: make(map[string]string),
	}
	for _, s := range sinks {
		d.sinks[s.Name()] = s
		d.order = append(d.order, s.Name())
	}
	return d
}

// Sinks returns sink names in configuration order.
func (d *Dispatcher) Sinks() []string {
	return append([]string(nil), d.order...)
}

// Has reports whether a sink with the given name exists.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.sinks[name]
	return ok
}

// Emit delivers a to the named sinks, or to every sink when targets is empty.
// Each (sink, probe, cycle) is delivered at most once; repeated calls for the
// same cycle are no-ops. Sinks are tried concurrently and independently.
func (d *Dispatcher) Emit(ctx context.Context, a Alert, targets []string) error {
	if len(targets) == 0 {
		targets = d.order
	}

	var errs []error
	sinks := make([]Sink, 0, len(targets))
	for _, name := range targets {
		sink, ok := d.sinks[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown sink %q", name))
			continue
		}
		sinks = append(sinks, sink)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, sink := range sinks {
		if !d.claim(sink.Name(), a) {
			d.logger.Debug("alert already delivered for cycle", "sink", sink.Name(), "probe", a.Probe, "cycle", a.CycleID)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.deliver(ctx, sink, a); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) claim(sink string, a Alert) bool {
	key := sink + "\x00" + a.Probe
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delivered[key] == a.CycleID {
		return false
	}
	d.delivered[key] = a.CycleID
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, a Alert) error {
	log := d.logger.With("sink", sink.Name(), "probe", a.Probe, "alert_id", a.ID)

	attempts := 0
	op := func() error {
		attempts++
		if err := sink.Emit(ctx, a); err != nil {
			metrics.SinkDeliveriesTotal.WithLabelValues(sink.Name(), "failed").Inc()
			return err
		}
		metrics.SinkDeliveriesTotal.WithLabelValues(sink.Name(), "success").Inc()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.policy.InitialBackoff
	bo.MaxInterval = d.policy.MaxBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.policy.MaxAttempts-1)), ctx)

	onRetry := func(err error, wait time.Duration) {
		log.Warn("delivery attempt failed, retrying", "attempt", attempts, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(op, policy, onRetry)
	if err == nil {
		log.Debug("alert delivered", "attempts", attempts)
		return nil
	}

	metrics.SinkFallbackTotal.WithLabelValues(sink.Name()).Inc()
	if ferr := d.fallback.Record(sink.Name(), a, attempts, err); ferr != nil {
		log.Error("writing fallback log failed", "error", ferr, "alert", a.String())
	}
	return &SinkDeliveryError{Sink: sink.Name(), Probe: a.Probe, Attempts: attempts, Err: err}
}

// Close closes every sink and the fallback log.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, name := range d.order {
		if err := d.sinks[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sink %s: %w", name, err))
		}
	}
	if err := d.fallback.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing fallback log: %w", err))
	}
	return errors.Join(errs...)
}

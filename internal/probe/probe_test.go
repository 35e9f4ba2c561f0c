package probe

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func testSpec(name string) Spec {
	return Spec{
		Name:      name,
		SQL:       "SELECT 1 AS dead_percent",
		Predicate: "dead_percent > 25",
		Severity:  "warning",
		Interval:  time.Minute,
	}
}

func mustProbe(t *testing.T, spec Spec) *Probe {
	t.Helper()
	p, err := New(spec)
	if err != nil {
		t.Fatalf("New(%q): %v", spec.Name, err)
	}
	return p
}

func TestNew_Valid(t *testing.T) {
	p := mustProbe(t, testSpec("dead-tuple-check"))
	if p.Severity != SeverityWarning {
		t.Errorf("severity = %q, want warning", p.Severity)
	}
	expr, err := p.Expr()
	if err != nil {
		t.Fatalf("unexpected predicate error: %v", err)
	}
	if expr.Metric != "dead_percent" || expr.Threshold != 25 {
		t.Errorf("expr = %+v", expr)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if next := p.Schedule.Next(start); !next.Equal(start.Add(time.Minute)) {
		t.Errorf("next = %v, want %v", next, start.Add(time.Minute))
	}
}

func TestNew_DefaultSeverity(t *testing.T) {
	spec := testSpec("p")
	spec.Severity = ""
	if p := mustProbe(t, spec); p.Severity != SeverityWarning {
		t.Errorf("severity = %q, want warning", p.Severity)
	}
}

func TestNew_Cron(t *testing.T) {
	spec := testSpec("nightly")
	spec.Interval = 0
	spec.Cron = "0 3 * * *"
	p := mustProbe(t, spec)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	if next := p.Schedule.Next(start); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	if p.Trigger() != "cron 0 3 * * *" {
		t.Errorf("trigger = %q", p.Trigger())
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		want   string
	}{
		{"no name", func(s *Spec) { s.Name = "" }, "name is required"},
		{"mutating query", func(s *Spec) { s.SQL = "DELETE FROM t" }, "read-only"},
		{"bad severity", func(s *Spec) { s.Severity = "fatal" }, "invalid severity"},
		{"no schedule", func(s *Spec) { s.Interval = 0 }, "interval or cron is required"},
		{"both schedules", func(s *Spec) { s.Cron = "@hourly" }, "not both"},
		{"bad cron", func(s *Spec) { s.Interval = 0; s.Cron = "every day" }, "invalid cron"},
		{"negative timeout", func(s *Spec) { s.Timeout = -time.Second }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec("p")
			tt.mutate(&spec)
			_, err := New(spec)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestNew_MalformedPredicateIsDeferred(t *testing.T) {
	spec := testSpec("p")
	spec.Predicate = "dead_percent >> 25"
	p := mustProbe(t, spec)
	if p.PredicateErr() == nil {
		t.Fatal("expected predicate error to be recorded")
	}
	if _, err := p.Expr(); err == nil {
		t.Fatal("Expr() should return the predicate error")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		if err := r.Register(mustProbe(t, testSpec(name))); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}
	if r.Len() != 3 {
		t.Errorf("len = %d, want 3", r.Len())
	}

	err := r.Register(mustProbe(t, testSpec("b")))
	var dup *DuplicateProbeError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *DuplicateProbeError", err)
	}
	if dup.Name != "b" {
		t.Errorf("dup name = %q, want b", dup.Name)
	}
	if r.Len() != 3 {
		t.Errorf("len after duplicate = %d, want 3", r.Len())
	}
}

func TestRegistry_ListOrderAndRestart(t *testing.T) {
	r := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}
	for _, name := range names {
		if err := r.Register(mustProbe(t, testSpec(name))); err != nil {
			t.Fatal(err)
		}
	}

	collect := func() []string {
		var got []string
		for p := range r.List() {
			got = append(got, p.Name)
		}
		return got
	}
	first := collect()
	second := collect()
	if !slices.Equal(first, names) {
		t.Errorf("first pass = %v, want %v", first, names)
	}
	if !slices.Equal(second, names) {
		t.Errorf("second pass = %v, want %v", second, names)
	}

	// Early break must not disturb later iterations.
	for p := range r.List() {
		if p.Name == "zeta" {
			break
		}
	}
	if got := collect(); !slices.Equal(got, names) {
		t.Errorf("after break = %v, want %v", got, names)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mustProbe(t, testSpec("second")))
	if p, ok := r.Get("second"); !ok || p.Name != "second" {
		t.Errorf("Get(second) = %v, %v", p, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should be false")
	}
}

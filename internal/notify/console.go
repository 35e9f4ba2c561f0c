package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleSink writes one rendered line per alert to a writer (stdout by
// default).
type ConsoleSink struct {
	name     string
	template string
	globals  map[string]any

	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink creates a console sink. A nil writer means os.Stdout.
func NewConsoleSink(name string, w io.Writer, tmpl string, globals map[string]any) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	return &ConsoleSink{name: name, template: tmpl, globals: globals, w: w}
}

func (s *ConsoleSink) Name() string { return s.name }

func (s *ConsoleSink) Emit(_ context.Context, a Alert) error {
	msg, err := Render(s.template, BuildTemplateData(s.globals, a))
	if err != nil {
		return fmt.Errorf("rendering template for %s: %w", s.name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintln(s.w, msg); err != nil {
		return fmt.Errorf("writing to %s: %w", s.name, err)
	}
	return nil
}

func (s *ConsoleSink) Close() error { return nil }

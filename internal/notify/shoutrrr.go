package notify

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrSink delivers rendered alert messages through a Shoutrrr service
// URL (slack, telegram, discord, smtp, generic webhooks, ...).
type ShoutrrrSink struct {
	name     string
	url      string
	template string
	globals  map[string]any
}

// NewShoutrrrSink validates the service URL and returns a sink for it.
// Params are merged into the URL query, overriding existing keys.
func NewShoutrrrSink(name string, def SinkDef, globals map[string]any) (*ShoutrrrSink, error) {
	full, err := applyParams(def.URL, def.Params)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}
	if _, err := shoutrrr.CreateSender(full); err != nil {
		return nil, fmt.Errorf("sink %s: invalid shoutrrr url: %w", name, err)
	}
	tmpl := def.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	return &ShoutrrrSink{name: name, url: full, template: tmpl, globals: globals}, nil
}

func (s *ShoutrrrSink) Name() string { return s.name }

// Emit renders the sink template and sends it. A sender is created per call
// so concurrent emits share no state.
func (s *ShoutrrrSink) Emit(_ context.Context, a Alert) error {
	msg, err := Render(s.template, BuildTemplateData(s.globals, a))
	if err != nil {
		return fmt.Errorf("rendering template for %s: %w", s.name, err)
	}

	sender, err := shoutrrr.CreateSender(s.url)
	if err != nil {
		return fmt.Errorf("creating sender for %s: %w", s.name, err)
	}

	params := types.Params{}
	errs := sender.Send(msg, &params)
	for _, e := range errs {
		if e != nil {
			return fmt.Errorf("sending to %s: %w", s.name, e)
		}
	}
	return nil
}

func (s *ShoutrrrSink) Close() error { return nil }

// applyParams merges params into the query string of a service URL.
func applyParams(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

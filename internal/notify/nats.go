package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	defaultNATSSubject = "sqlwatch.alerts"
	flushTimeout       = 10 * time.Second
)

// NATSSink publishes alerts as JSON on a NATS subject.
//
//	nats://host:4222?subject=sqlwatch.alerts
type NATSSink struct {
	name    string
	url     string
	subject string

	mu   sync.Mutex
	conn *nats.Conn
}

// NewNATSSink parses the sink URL. The connection is established on first use
// so a broker outage does not prevent startup.
func NewNATSSink(name string, def SinkDef) (*NATSSink, error) {
	u, err := url.Parse(def.URL)
	if err != nil {
		return nil, fmt.Errorf("sink %s: invalid nats url: %w", name, err)
	}
	subject := firstNonEmpty(def.Params["subject"], u.Query().Get("subject"), defaultNATSSubject)
	u.RawQuery = ""
	return &NATSSink{name: name, url: u.String(), subject: subject}, nil
}

func (s *NATSSink) Name() string { return s.name }

func (s *NATSSink) connect() (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	conn, err := nats.Connect(s.url, nats.Name("sqlwatch"))
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Emit publishes and flushes, so a nil error means the server received it.
func (s *NATSSink) Emit(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert for %s: %w", s.name, err)
	}
	conn, err := s.connect()
	if err != nil {
		return fmt.Errorf("connecting %s: %w", s.name, err)
	}
	if err := conn.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("sending to %s: %w", s.name, err)
	}
	if _, ok := ctx.Deadline(); ok {
		err = conn.FlushWithContext(ctx)
	} else {
		err = conn.FlushTimeout(flushTimeout)
	}
	if err != nil {
		return fmt.Errorf("flushing %s: %w", s.name, err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Drain()
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

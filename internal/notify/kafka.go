package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultKafkaTopic = "sqlwatch-alerts"

// KafkaSink produces alerts as JSON messages keyed by probe name.
//
//	kafka://broker1:9092/sqlwatch-alerts?brokers=broker2:9092,broker3:9092
type KafkaSink struct {
	name    string
	brokers []string
	writer  *kafka.Writer
}

// NewKafkaSink builds a synchronous writer. Retries are left to the
// dispatcher, so the writer makes a single attempt per emit.
func NewKafkaSink(name string, def SinkDef) (*KafkaSink, error) {
	u, err := url.Parse(def.URL)
	if err != nil {
		return nil, fmt.Errorf("sink %s: invalid kafka url: %w", name, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("sink %s: kafka url needs a broker host", name)
	}

	brokers := []string{u.Host}
	extra := firstNonEmpty(def.Params["brokers"], u.Query().Get("brokers"))
	for _, b := range strings.Split(extra, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	topic := firstNonEmpty(def.Params["topic"], strings.Trim(u.Path, "/"), defaultKafkaTopic)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
		WriteTimeout: 10 * time.Second,
		BatchSize:    1,
	}
	return &KafkaSink{name: name, brokers: brokers, writer: writer}, nil
}

func (s *KafkaSink) Name() string { return s.name }

func (s *KafkaSink) Emit(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert for %s: %w", s.name, err)
	}
	msg := kafka.Message{
		Key:   []byte(a.Probe),
		Value: payload,
		Time:  a.Timestamp,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("sending to %s: %w", s.name, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
)

const defaultRedisChannel = "sqlwatch:alerts"

// RedisSink publishes alerts as JSON to a Redis channel, or pushes them onto
// a list when mode=list.
//
//	redis://:password@host:6379/0?channel=sqlwatch:alerts&mode=publish
type RedisSink struct {
	name    string
	client  *redis.Client
	channel string
	list    bool
}

// NewRedisSink parses the sink URL and creates a lazily connecting client.
func NewRedisSink(name string, def SinkDef) (*RedisSink, error) {
	u, err := url.Parse(def.URL)
	if err != nil {
		return nil, fmt.Errorf("sink %s: invalid redis url: %w", name, err)
	}

	// go-redis rejects query options it does not know, so take ours out first.
	q := u.Query()
	channel := firstNonEmpty(def.Params["channel"], q.Get("channel"), defaultRedisChannel)
	mode := firstNonEmpty(def.Params["mode"], q.Get("mode"), "publish")
	q.Del("channel")
	q.Del("mode")
	u.RawQuery = q.Encode()

	if mode != "publish" && mode != "list" {
		return nil, fmt.Errorf("sink %s: redis mode must be publish or list, got %q", name, mode)
	}

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}

	return &RedisSink{
		name:    name,
		client:  redis.NewClient(opts),
		channel: channel,
		list:    mode == "list",
	}, nil
}

func (s *RedisSink) Name() string { return s.name }

func (s *RedisSink) Emit(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding alert for %s: %w", s.name, err)
	}
	if s.list {
		err = s.client.RPush(ctx, s.channel, payload).Err()
	} else {
		err = s.client.Publish(ctx, s.channel, payload).Err()
	}
	if err != nil {
		return fmt.Errorf("sending to %s: %w", s.name, err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package notify

import (
	"fmt"
	"net/url"
	"strings"
)

// SinkDef is a sink definition from config.
type SinkDef struct {
	URL      string
	Params   map[string]string
	Template string
}

// NewSink builds a sink from its URL scheme:
//
//	console://        stdout
//	file:///path      JSON lines file
//	redis://...       Redis PUBLISH / RPUSH
//	nats://...        NATS publish
//	kafka://...       Kafka produce
//	anything else     Shoutrrr service URL
func NewSink(name string, def SinkDef, globals map[string]any) (Sink, error) {
	scheme, _, ok := strings.Cut(def.URL, "://")
	if !ok {
		return nil, fmt.Errorf("sink %s: url %q has no scheme", name, def.URL)
	}

	switch scheme {
	case "console":
		return NewConsoleSink(name, nil, def.Template, globals), nil
	case "file":
		u, err := url.Parse(def.URL)
		if err != nil {
			return nil, fmt.Errorf("sink %s: invalid file url: %w", name, err)
		}
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, fmt.Errorf("sink %s: file url needs a path", name)
		}
		return NewFileSink(name, path)
	case "redis", "rediss":
		return NewRedisSink(name, def)
	case "nats":
		return NewNATSSink(name, def)
	case "kafka":
		return NewKafkaSink(name, def)
	default:
		return NewShoutrrrSink(name, def, globals)
	}
}

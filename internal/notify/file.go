package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// jsonLines appends JSON documents to a writer, one per line.
type jsonLines struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

func openJSONLines(path string) (*jsonLines, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &jsonLines{w: f, closer: f}, nil
}

func (j *jsonLines) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(data)
	return err
}

func (j *jsonLines) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// FileSink appends alerts as JSON lines to a local file.
type FileSink struct {
	name string
	out  *jsonLines
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(name, path string) (*FileSink, error) {
	out, err := openJSONLines(path)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", name, err)
	}
	return &FileSink{name: name, out: out}, nil
}

func (s *FileSink) Name() string { return s.name }

func (s *FileSink) Emit(_ context.Context, a Alert) error {
	if err := s.out.write(a); err != nil {
		return fmt.Errorf("writing to %s: %w", s.name, err)
	}
	return nil
}

func (s *FileSink) Close() error { return s.out.Close() }

// FallbackRecord is what the fallback log stores for an undeliverable alert.
type FallbackRecord struct {
	Time     time.Time `json:"time"`
	Sink     string    `json:"sink"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	Alert    Alert     `json:"alert"`
}

// FallbackLog keeps alerts whose delivery failed after every retry, so no
// alert is silently lost.
type FallbackLog struct {
	out *jsonLines
}

// NewFallbackLog writes to path, or to stderr when path is empty.
func NewFallbackLog(path string) (*FallbackLog, error) {
	if path == "" {
		return &FallbackLog{out: &jsonLines{w: os.Stderr}}, nil
	}
	out, err := openJSONLines(path)
	if err != nil {
		return nil, fmt.Errorf("fallback log: %w", err)
	}
	return &FallbackLog{out: out}, nil
}

// NewFallbackWriter writes fallback records to w.
func NewFallbackWriter(w io.Writer) *FallbackLog {
	return &FallbackLog{out: &jsonLines{w: w}}
}

// Record writes one line for an alert that sink could not deliver.
func (f *FallbackLog) Record(sink string, a Alert, attempts int, cause error) error {
	rec := FallbackRecord{
		Time:     time.Now().UTC(),
		Sink:     sink,
		Attempts: attempts,
		Alert:    a,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return f.out.write(rec)
}

func (f *FallbackLog) Close() error { return f.out.Close() }

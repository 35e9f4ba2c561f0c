package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewSink_Schemes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		url  string
		want string
	}{
		{"console://", "*notify.ConsoleSink"},
		{"file://" + filepath.Join(dir, "alerts.jsonl"), "*notify.FileSink"},
		{"redis://localhost:6379/0?channel=alerts", "*notify.RedisSink"},
		{"nats://localhost:4222?subject=alerts", "*notify.NATSSink"},
		{"kafka://localhost:9092/alerts", "*notify.KafkaSink"},
		{"logger://", "*notify.ShoutrrrSink"},
	}
	for _, tt := range tests {
		s, err := NewSink("s", SinkDef{URL: tt.url}, nil)
		if err != nil {
			t.Errorf("NewSink(%q): %v", tt.url, err)
			continue
		}
		if got := fmt.Sprintf("%T", s); got != tt.want {
			t.Errorf("NewSink(%q) = %s, want %s", tt.url, got, tt.want)
		}
		_ = s.Close()
	}
}

func TestNewSink_Errors(t *testing.T) {
	for _, u := range []string{
		"no-scheme",
		"notaservice://foo",
		"redis://localhost:6379?mode=stream",
		"kafka:///topic",
	} {
		if _, err := NewSink("s", SinkDef{URL: u}, nil); err == nil {
			t.Errorf("NewSink(%q): expected error", u)
		}
	}
}

func TestRedisSink_Options(t *testing.T) {
	s, err := NewRedisSink("r", SinkDef{URL: "redis://:secret@cache:6380/2?channel=db.alerts&mode=list"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	if s.channel != "db.alerts" || !s.list {
		t.Errorf("channel=%q list=%v", s.channel, s.list)
	}
	opts := s.client.Options()
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Errorf("redis options = addr %q db %d", opts.Addr, opts.DB)
	}
}

func TestKafkaSink_Brokers(t *testing.T) {
	s, err := NewKafkaSink("k", SinkDef{
		URL:    "kafka://b1:9092/pg-alerts",
		Params: map[string]string{"brokers": "b2:9092, b3:9092"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	if s.writer.Topic != "pg-alerts" {
		t.Errorf("topic = %q", s.writer.Topic)
	}
	if got := strings.Join(s.brokers, ","); got != "b1:9092,b2:9092,b3:9092" {
		t.Errorf("brokers = %q", got)
	}
}

func TestNATSSink_Subject(t *testing.T) {
	s, err := NewNATSSink("n", SinkDef{URL: "nats://bus:4222?subject=pg.alerts"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.subject != "pg.alerts" || s.url != "nats://bus:4222" {
		t.Errorf("subject=%q url=%q", s.subject, s.url)
	}
}

func TestConsoleSink_Emit(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink("console", &buf, "", map[string]any{"hostname": "db-01"})
	if err := s.Emit(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "[WARNING] dead-tuple-check: dead_percent = 31.9") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.jsonl")
	s, err := NewSink("file", SinkDef{URL: "file://" + path}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := sampleAlert()
	for range 2 {
		if err := s.Emit(context.Background(), a); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var got Alert
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if got.Probe != a.Probe || got.Value != "31.9" {
			t.Errorf("line %d = %+v", lines, got)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}
}

func TestShoutrrrSink_Logger(t *testing.T) {
	s, err := NewShoutrrrSink("log", SinkDef{URL: "logger://", Template: "{{alert.probe}}"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Emit(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShoutrrrSink_BadTemplate(t *testing.T) {
	s, err := NewShoutrrrSink("log", SinkDef{URL: "logger://", Template: "{{alert.probe | nope}}"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Emit(context.Background(), sampleAlert()); err == nil {
		t.Fatal("expected template error")
	}
}

func TestApplyParams(t *testing.T) {
	got, err := applyParams("telegram://token@telegram", map[string]string{
		"chats": "-100123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "telegram://token@telegram?chats=-100123" {
		t.Errorf("url = %q, want params appended", got)
	}
}

func TestApplyParams_MergesExisting(t *testing.T) {
	got, err := applyParams("telegram://token@telegram?existing=yes", map[string]string{
		"chats": "123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "telegram://token@telegram?chats=123&existing=yes" {
		t.Errorf("url = %q, want both params", got)
	}
}

func TestApplyParams_Empty(t *testing.T) {
	got, err := applyParams("telegram://token@telegram", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "telegram://token@telegram" {
		t.Errorf("url = %q, want unchanged", got)
	}
}

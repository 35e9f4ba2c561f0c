package query

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeQuery(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve_Inline(t *testing.T) {
	r, err := Resolve("  SELECT 1 AS one  ", "", Pin{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Scheme != "inline" {
		t.Errorf("scheme = %q, want inline", r.Scheme)
	}
	if r.SQL != "SELECT 1 AS one" {
		t.Errorf("sql = %q", r.SQL)
	}
}

func TestResolve_InlineEmpty(t *testing.T) {
	if _, err := Resolve("   ", "", Pin{}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestResolve_InlineWithPin(t *testing.T) {
	if _, err := Resolve("SELECT 1", "", Pin{Hash: "abc"}); err == nil {
		t.Fatal("expected error pinning an inline query")
	}
}

func TestResolve_RelativeFile(t *testing.T) {
	dir := t.TempDir()
	writeQuery(t, dir, "dead_tuples.sql", "SELECT relname FROM pg_stat_user_tables;\n")

	r, err := Resolve("file://dead_tuples.sql", dir, Pin{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Path != filepath.Join(dir, "dead_tuples.sql") {
		t.Errorf("path = %q", r.Path)
	}
	if r.Scheme != "file" {
		t.Errorf("scheme = %q, want file", r.Scheme)
	}
	if !strings.HasPrefix(r.SQL, "SELECT relname") {
		t.Errorf("sql = %q", r.SQL)
	}
}

func TestResolve_AbsoluteFile(t *testing.T) {
	dir := t.TempDir()
	path := writeQuery(t, dir, "q.sql", "SELECT 1")

	r, err := Resolve("file://"+path, "/nonexistent", Pin{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Path != path {
		t.Errorf("path = %q, want %q", r.Path, path)
	}
}

func TestResolve_Missing(t *testing.T) {
	_, err := Resolve("file://nope.sql", t.TempDir(), Pin{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResolve_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve("file://sub", dir, Pin{}); err == nil {
		t.Fatal("expected error for directory")
	}
}

func TestResolve_PinMatch(t *testing.T) {
	dir := t.TempDir()
	content := "SELECT 1"
	writeQuery(t, dir, "q.sql", content)

	if _, err := Resolve("file://q.sql", dir, Pin{Hash: Hash([]byte(content))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolve_PinMismatch(t *testing.T) {
	dir := t.TempDir()
	writeQuery(t, dir, "q.sql", "SELECT 1")

	_, err := Resolve("file://q.sql", dir, Pin{Hash: Hash([]byte("SELECT 2"))})
	if err == nil || !strings.Contains(err.Error(), "sha256 mismatch") {
		t.Fatalf("err = %v, want sha256 mismatch", err)
	}
}

func TestResolve_PinDisabled(t *testing.T) {
	dir := t.TempDir()
	writeQuery(t, dir, "q.sql", "SELECT 1")

	if _, err := Resolve("file://q.sql", dir, Pin{Disabled: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := writeQuery(t, dir, "q.sql", "abc")
	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("hash = %s, want %s", got, want)
	}
}

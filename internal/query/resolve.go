package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolved holds the SQL text of a probe after resolving its query reference.
type Resolved struct {
	URI    string
	Path   string // empty for inline queries
	Scheme string // "inline" or "file"
	SQL    string
	SHA256 string
}

// Pin describes the expected sha256 of a query file.
type Pin struct {
	Hash     string
	Disabled bool
}

// Resolve turns a probe's query reference into SQL text.
//
// Supported forms:
//   - file://name.sql      → filepath.Join(queriesDir, name.sql)
//   - file:///abs/path.sql → absolute path as-is
//   - anything else        → inline SQL
//
// When pin.Hash is set the file contents must match it.
func Resolve(ref, queriesDir string, pin Pin) (*Resolved, error) {
	if !strings.HasPrefix(ref, "file://") {
		sql := strings.TrimSpace(ref)
		if sql == "" {
			return nil, fmt.Errorf("query is empty")
		}
		if pin.Hash != "" {
			return nil, fmt.Errorf("sha256 can only be pinned for file:// queries")
		}
		return &Resolved{URI: ref, Scheme: "inline", SQL: sql, SHA256: Hash([]byte(sql))}, nil
	}
	return resolveFile(ref, queriesDir, pin)
}

func resolveFile(uri, queriesDir string, pin Pin) (*Resolved, error) {
	raw := strings.TrimPrefix(uri, "file://")

	var path string
	if strings.HasPrefix(raw, "/") {
		path = raw
	} else {
		path = filepath.Join(queriesDir, raw)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("query file not found: %s", path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("query file is a directory: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}

	sum := Hash(data)
	if pin.Hash != "" && !pin.Disabled && !strings.EqualFold(pin.Hash, sum) {
		return nil, fmt.Errorf("query file %s: sha256 mismatch: got %s, want %s", path, sum, pin.Hash)
	}

	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return nil, fmt.Errorf("query file is empty: %s", path)
	}

	return &Resolved{
		URI:    uri,
		Path:   path,
		Scheme: "file",
		SQL:    sql,
		SHA256: sum,
	}, nil
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return Hash(data), nil
}

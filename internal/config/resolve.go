package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPaths returns the search order for config files.
func DefaultConfigPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sqlwatch", "config.yaml"))
	}
	paths = append(paths, "/etc/sqlwatch/config.yaml")
	return paths
}

// Resolve loads the config from the given explicit path, or searches the
// default locations. It fills in globals.hostname from os.Hostname() if
// unset or empty.
func Resolve(explicit string) (*Config, error) {
	path, err := FindConfig(explicit)
	if err != nil {
		return nil, err
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if cfg.Globals == nil {
		cfg.Globals = map[string]any{}
	}
	if h, _ := cfg.Globals["hostname"].(string); h == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
		cfg.Globals["hostname"] = h
	}

	return cfg, nil
}

// FindConfig returns explicit if it exists, else the first default path
// that does.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched %v)", DefaultConfigPaths())
}

// QueriesDir returns options.queries_dir, resolved against the config
// file's directory when relative. It defaults to "queries" next to the
// config file.
func (c *Config) QueriesDir() string {
	dir := c.Options.QueriesDir
	if dir == "" {
		dir = "queries"
	}
	if filepath.IsAbs(dir) || c.Path == "" {
		return dir
	}
	return filepath.Join(filepath.Dir(c.Path), dir)
}

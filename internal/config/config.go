package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

type Config struct {
	Globals  map[string]any  `yaml:"globals"`
	Options  Options         `yaml:"options"`
	Delivery Delivery        `yaml:"delivery"`
	Database Database        `yaml:"database"`
	Sinks    map[string]Sink `yaml:"sinks" validate:"dive"`
	Probes   []Probe         `yaml:"probes" validate:"required,min=1,dive"`

	// Path is the file the config was loaded from.
	Path string `yaml:"-"`
}

// Options are process-wide settings. Every field is a string so each can be
// overridden by a CLI flag of the same name.
type Options struct {
	QueriesDir       string `yaml:"queries_dir"`
	StatementTimeout string `yaml:"statement_timeout"`
	FallbackLog      string `yaml:"fallback_log"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

// Delivery tunes alert retries.
type Delivery struct {
	MaxAttempts    int    `yaml:"max_attempts" validate:"gte=0"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

type Database struct {
	Driver   string `yaml:"driver" validate:"required,oneof=postgres postgresql pgx mysql sqlserver mssql"`
	DSN      string `yaml:"dsn" validate:"required"`
	MaxConns int    `yaml:"max_conns" validate:"gte=0"`
}

type Sink struct {
	URL      string            `yaml:"url" validate:"required"`
	Params   map[string]string `yaml:"params"`
	Template string            `yaml:"template"`
}

type Probe struct {
	Name            string   `yaml:"name" validate:"required"`
	Query           string   `yaml:"query" validate:"required"`
	SHA256          SHA256   `yaml:"sha256"`
	Params          []any    `yaml:"params"`
	Predicate       string   `yaml:"predicate" validate:"required"`
	Severity        string   `yaml:"severity" validate:"omitempty,oneof=info warning critical"`
	IntervalSeconds float64  `yaml:"interval_seconds" validate:"gte=0"`
	Cron            string   `yaml:"cron"`
	TimeoutSeconds  float64  `yaml:"timeout_seconds" validate:"gte=0"`
	Label           string   `yaml:"label"`
	Template        string   `yaml:"template"`
	Cooldown        string   `yaml:"cooldown"`
	Notify          []string `yaml:"notify"`
}

// Interval returns interval_seconds as a duration.
func (p Probe) Interval() time.Duration { return seconds(p.IntervalSeconds) }

// Timeout returns timeout_seconds as a duration.
func (p Probe) Timeout() time.Duration { return seconds(p.TimeoutSeconds) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SHA256 handles both string hashes and `false` (opt-out).
type SHA256 struct {
	Hash     string
	Disabled bool
}

func (s *SHA256) UnmarshalYAML(unmarshal func(any) error) error {
	var b bool
	if err := unmarshal(&b); err == nil {
		if b {
			return fmt.Errorf("sha256: true is not valid, use a hash string or false")
		}
		s.Disabled = true
		return nil
	}

	var str string
	if err := unmarshal(&str); err != nil {
		return fmt.Errorf("sha256: must be a hex string or false")
	}
	s.Hash = strings.ToLower(str)
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross references: unique probe
// names, known sinks in notify lists and parseable durations.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	for key, val := range map[string]string{
		"options.statement_timeout": c.Options.StatementTimeout,
		"delivery.initial_backoff":  c.Delivery.InitialBackoff,
		"delivery.max_backoff":      c.Delivery.MaxBackoff,
	} {
		if _, err := ParseDuration(val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	switch c.Options.LogFormat {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("options.log_format: must be auto, text or json, got %q", c.Options.LogFormat))
	}

	seen := make(map[string]bool, len(c.Probes))
	for i, p := range c.Probes {
		if p.Name != "" && seen[p.Name] {
			errs = append(errs, fmt.Errorf("probes[%d]: duplicate probe name %q", i, p.Name))
		}
		seen[p.Name] = true

		if p.IntervalSeconds == 0 && p.Cron == "" {
			errs = append(errs, fmt.Errorf("probes[%d] (%s): interval_seconds or cron is required", i, p.Name))
		}
		if p.IntervalSeconds > 0 && p.Cron != "" {
			errs = append(errs, fmt.Errorf("probes[%d] (%s): set either interval_seconds or cron, not both", i, p.Name))
		}
		if _, err := ParseDuration(p.Cooldown); err != nil {
			errs = append(errs, fmt.Errorf("probes[%d] (%s): cooldown: %w", i, p.Name, err))
		}
		for _, n := range p.Notify {
			if _, ok := c.Sinks[n]; !ok && (n != "console" || len(c.Sinks) > 0) {
				errs = append(errs, fmt.Errorf("probes[%d] (%s): notify: unknown sink %q", i, p.Name, n))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	// Namespace starts with the root struct name.
	_, field, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required", field)
	case "min":
		return fmt.Errorf("%s: at least %s entries required", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s], got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s: failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

// ParseDuration parses a Go duration string. Empty means zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

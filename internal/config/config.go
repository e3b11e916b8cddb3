// Package config loads the daemon configuration.
//
// A config file is YAML. It is checked against an embedded CUE schema that
// closes the key set, constrains every value and supplies defaults, then
// decoded into Config.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the validated daemon configuration.
type Config struct {
	Database          string
	ReconcileInterval time.Duration
	IdentityScope     string
	Directory         Directory
	Probe             Probe
	Log               Log
	Metrics           Metrics
}

// Directory configures the provider client.
type Directory struct {
	Endpoint  string
	Timeout   time.Duration
	HTTP2     bool
	RateLimit float64
	Burst     int
}

// Probe configures account validation.
type Probe struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Log configures the structured logger.
type Log struct {
	Level  string
	Format string
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Listen string
}

// SlogLevel maps Log.Level to a slog level.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// file mirrors the schema; durations are still strings.
type file struct {
	Database          string `json:"database"`
	ReconcileInterval string `json:"reconcile_interval"`
	IdentityScope     string `json:"identity_scope"`
	Directory         struct {
		Endpoint  string  `json:"endpoint"`
		Timeout   string  `json:"timeout"`
		HTTP2     bool    `json:"http2"`
		RateLimit float64 `json:"rate_limit"`
		Burst     int     `json:"burst"`
	} `json:"directory"`
	Probe struct {
		MaxRetries int    `json:"max_retries"`
		RetryDelay string `json:"retry_delay"`
	} `json:"probe"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
	Metrics struct {
		Listen string `json:"listen"`
	} `json:"metrics"`
}

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationError lists every schema violation in a config file.
type ValidationError struct {
	Source string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("invalid config %s: %s", e.Source, strings.Join(msgs, "; "))
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates YAML config data. source names the data in errors.
func Parse(data []byte, source string) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", source, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, validationError(source, err)
	}

	var f file
	if err := v.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", source, err)
	}
	return f.resolve(source)
}

func (f *file) resolve(source string) (*Config, error) {
	var errs []FieldError
	duration := func(path, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, FieldError{Path: path, Message: err.Error()})
		}
		return d
	}

	cfg := &Config{
		Database:          f.Database,
		ReconcileInterval: duration("reconcile_interval", f.ReconcileInterval),
		IdentityScope:     f.IdentityScope,
		Directory: Directory{
			Endpoint:  f.Directory.Endpoint,
			Timeout:   duration("directory.timeout", f.Directory.Timeout),
			HTTP2:     f.Directory.HTTP2,
			RateLimit: f.Directory.RateLimit,
			Burst:     f.Directory.Burst,
		},
		Probe: Probe{
			MaxRetries: f.Probe.MaxRetries,
			RetryDelay: duration("probe.retry_delay", f.Probe.RetryDelay),
		},
		Log:     Log{Level: f.Log.Level, Format: f.Log.Format},
		Metrics: Metrics{Listen: f.Metrics.Listen},
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Source: source, Errors: errs}
	}
	return cfg, nil
}

func validationError(source string, err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &ValidationError{Source: source, Errors: []FieldError{{Message: err.Error()}}}
	}

	out := make([]FieldError, 0, len(list))
	for _, e := range list {
		format, args := e.Msg()
		out = append(out, FieldError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return &ValidationError{Source: source, Errors: out}
}

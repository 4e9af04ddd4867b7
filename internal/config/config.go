// Package config loads lobj configuration from YAML and validates it against
// an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lobj/internal/remote"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full set of tunables for the CLI and host.
type Config struct {
	// Database is the SQLite file holding host state between commands.
	Database string `yaml:"database" json:"database"`

	// Caller is the principal the CLI presents to the host.
	Caller string `yaml:"caller" json:"caller"`

	// Principals seeds the allowlist when the database has none.
	Principals []string `yaml:"principals" json:"principals"`

	// ChunkSize is the payload size of each upload call in bytes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// Parallelism bounds concurrent chunk calls in parallel uploads.
	Parallelism int `yaml:"parallelism" json:"parallelism"`

	// MaxObjects bounds how many uploads the host keeps in flight.
	MaxObjects int `yaml:"max_objects" json:"max_objects"`

	Retry Retry `yaml:"retry" json:"retry"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Retry configures the client-side retry wrapper.
type Retry struct {
	Attempts          int `yaml:"attempts" json:"attempts"`
	TimeoutMS         int `yaml:"timeout_ms" json:"timeout_ms"`
	InitialIntervalMS int `yaml:"initial_interval_ms" json:"initial_interval_ms"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database:    "lobj.db",
		Caller:      "local",
		Principals:  []string{"local"},
		ChunkSize:   1 << 20,
		Parallelism: 4,
		MaxObjects:  64,
		Retry: Retry{
			Attempts:          5,
			TimeoutMS:         10_000,
			InitialIntervalMS: 100,
		},
		LogLevel: "info",
	}
}

// Load reads path and overlays it on Default. An empty path returns the
// defaults. Unknown keys and schema violations are errors.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Principals == nil {
		cfg.Principals = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// ValidationError reports schema violations.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Details
}

// RetryPolicy converts the retry block into a remote.Policy.
func (c *Config) RetryPolicy() remote.Policy {
	p := remote.DefaultPolicy()
	p.Attempts = c.Retry.Attempts
	p.Timeout = time.Duration(c.Retry.TimeoutMS) * time.Millisecond
	p.InitialInterval = time.Duration(c.Retry.InitialIntervalMS) * time.Millisecond
	return p
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
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

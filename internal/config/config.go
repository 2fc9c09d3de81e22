// Package config loads the YAML configuration shared by the realsolve
// binaries.
//
// A missing section keeps its defaults; every field is validated after
// decoding. Durations are written as Go duration strings ("5s").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds the size of a configuration file.
const MaxFileSize = 1 << 20

var ErrInvalid = errors.New("config: invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Types
// =============================================================================

type Config struct {
	Server    Server    `yaml:"server"`
	Solver    Solver    `yaml:"solver"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gt=0"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
}

// RateLimit configures the token bucket in front of the HTTP routes.
// RPS 0 disables limiting.
type RateLimit struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=1"`
}

type Solver struct {
	Concurrency int     `yaml:"concurrency" validate:"gte=1,lte=256"`
	MaxBatch    int     `yaml:"max_batch" validate:"gte=1"`
	SearchRange float64 `yaml:"search_range" validate:"gt=0"`
	Tolerance   float64 `yaml:"tolerance" validate:"gt=0,lt=1"`
	MaxIter     int     `yaml:"max_iter" validate:"gte=1"`
}

type Log struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	NoColor bool   `yaml:"no_color"`
}

type Telemetry struct {
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout"`
	ServiceName   string `yaml:"service_name" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateLimit{RPS: 50, Burst: 100},
		},
		Solver: Solver{
			Concurrency: 4,
			MaxBatch:    256,
			SearchRange: 100,
			Tolerance:   1e-10,
			MaxIter:     100,
		},
		Log: Log{Level: "info"},
		Telemetry: Telemetry{
			TraceExporter: "none",
			ServiceName:   "realsolve",
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load reads the file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return Config{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalid, path, MaxFileSize)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

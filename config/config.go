// Package config loads the groundcheck configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/contestra/ai-ranker-sub001/schedule"
)

// Config is the root of groundcheck.yaml.
type Config struct {
	Server       Server              `yaml:"server"`
	Providers    map[string]Provider `yaml:"providers" validate:"dive"`
	Capabilities string              `yaml:"capabilities_file"`
	Engine       Engine              `yaml:"engine"`
	Batch        Batch               `yaml:"batch"`
	Ambient      Ambient             `yaml:"ambient"`
	Schedule     Schedule            `yaml:"schedule"`
	Log          Log                 `yaml:"log"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Provider configures one transport. An empty APIKey falls back to the
// provider's usual environment variable.
type Provider struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the provider should be registered.
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Engine configures grounding runs.
type Engine struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxToolUses       int           `yaml:"max_tool_uses" validate:"gte=0"`
	FailOnAmbientLeak bool          `yaml:"fail_on_ambient_leak"`
}

// Batch bounds fan-out.
type Batch struct {
	Concurrency   int     `yaml:"concurrency" validate:"gte=1,lte=64"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

// Ambient configures the ambient block builder.
type Ambient struct {
	Budget      int    `yaml:"budget" validate:"gte=80"`
	Weather     bool   `yaml:"weather"`
	LocalesFile string `yaml:"locales_file"`
}

// Schedule configures the scheduler.
type Schedule struct {
	Database string         `yaml:"database" validate:"required"`
	Owner    string         `yaml:"owner"`
	Lease    time.Duration  `yaml:"lease" validate:"gt=0"`
	Redis    Redis          `yaml:"redis"`
	Jobs     []schedule.Job `yaml:"jobs"`
}

// Redis configures the optional idempotency guard. It is off when Addr is
// empty.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{Addr: ":8080"},
		Engine: Engine{
			Timeout:     60 * time.Second,
			MaxToolUses: 5,
		},
		Batch: Batch{Concurrency: 4},
		Ambient: Ambient{
			Budget:  350,
			Weather: true,
		},
		Schedule: Schedule{
			Database: "groundcheck.db",
			Lease:    schedule.DefaultLease,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies GROUNDCHECK_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, job := range c.Schedule.Jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GROUNDCHECK_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := lookup("GROUNDCHECK_CAPABILITIES"); ok {
		c.Capabilities = v
	}
	if v, ok := lookup("GROUNDCHECK_DATABASE"); ok {
		c.Schedule.Database = v
	}
	if v, ok := lookup("GROUNDCHECK_REDIS_ADDR"); ok {
		c.Schedule.Redis.Addr = v
	}
	if v, ok := lookup("GROUNDCHECK_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("GROUNDCHECK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GROUNDCHECK_TIMEOUT: %w", err)
		}
		c.Engine.Timeout = d
	}
	if v, ok := lookup("GROUNDCHECK_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GROUNDCHECK_CONCURRENCY: %w", err)
		}
		c.Batch.Concurrency = n
	}
	if v, ok := lookup("GROUNDCHECK_FAIL_ON_AMBIENT_LEAK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GROUNDCHECK_FAIL_ON_AMBIENT_LEAK: %w", err)
		}
		c.Engine.FailOnAmbientLeak = b
	}
	return nil
}

// NewLogger builds the process logger.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"climate/apis/transport"
)

//go:embed config.yaml
var defaultsRaw []byte

// Config holds every run setting. Defaults come from the embedded
// config.yaml, then an optional file, then CLIMATE_* environment variables.
type Config struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	Retries       int           `yaml:"retries" validate:"gte=0,lte=20"`
	BackoffFactor time.Duration `yaml:"backoff_factor" validate:"gte=0"`
	MaxBackoff    time.Duration `yaml:"max_backoff" validate:"gte=0"`
	RetryStatuses []int         `yaml:"retry_statuses" validate:"dive,gte=100,lte=599"`
	Breaker       Breaker       `yaml:"breaker"`

	PartialFailures string `yaml:"partial_failures" validate:"oneof=tolerate abort"`
	DryRun          bool   `yaml:"dry_run"`
	MetricsFile     string `yaml:"metrics_file"`

	Log Log `yaml:"log"`
}

type Breaker struct {
	Threshold uint32        `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown" validate:"gte=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load builds the configuration. path may be empty to use only the embedded
// defaults and the environment. ${VAR} references in the file are expanded.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := yaml.Unmarshal(defaultsRaw, cfg); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
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
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", verrs)
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Transport returns the HTTP client settings.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		BaseURL:          c.BaseURL,
		Timeout:          c.Timeout,
		Retries:          c.Retries,
		BackoffFactor:    c.BackoffFactor,
		MaxBackoff:       c.MaxBackoff,
		RetryStatuses:    c.RetryStatuses,
		BreakerThreshold: c.Breaker.Threshold,
		BreakerCooldown:  c.Breaker.Cooldown,
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CLIMATE_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CLIMATE_PARTIAL_FAILURES"); v != "" {
		c.PartialFailures = v
	}
	if v := os.Getenv("CLIMATE_METRICS_FILE"); v != "" {
		c.MetricsFile = v
	}
	if v := os.Getenv("CLIMATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CLIMATE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	if v := os.Getenv("CLIMATE_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid CLIMATE_RETRIES")
		}
		c.Retries = n
	}
	if v := os.Getenv("CLIMATE_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("invalid CLIMATE_DRY_RUN")
		}
		c.DryRun = b
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"CLIMATE_TIMEOUT", &c.Timeout},
		{"CLIMATE_BACKOFF_FACTOR", &c.BackoffFactor},
		{"CLIMATE_MAX_BACKOFF", &c.MaxBackoff},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s", d.env)
		}
		*d.dst = parsed
	}

	return nil
}

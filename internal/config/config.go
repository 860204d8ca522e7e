package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/TUNDR-gp/internal/optimization/params"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	Logging     struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	GP struct {
		DefaultFloat     string  `env:"GP_DEFAULT_FLOAT" envDefault:"float64"`
		PositiveBijector string  `env:"GP_POSITIVE_BIJECTOR" envDefault:"softplus"`
		PositiveMinimum  float64 `env:"GP_POSITIVE_MINIMUM" envDefault:"0"`
		Jitter           float64 `env:"GP_JITTER" envDefault:"1e-6"`
		JitterAttempts   int     `env:"GP_JITTER_ATTEMPTS" envDefault:"5"`
		Seed             int64   `env:"GP_SEED" envDefault:"42"`
		DataPoints       int     `env:"GP_DATA_POINTS" envDefault:"5"`
		DataScale        float64 `env:"GP_DATA_SCALE" envDefault:"10"`
	}
	Metrics struct {
		Textfile string `env:"METRICS_TEXTFILE"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Settings(); err != nil {
		return err
	}
	switch {
	case c.GP.PositiveMinimum < 0:
		return fmt.Errorf("GP_POSITIVE_MINIMUM must be non-negative, got %g", c.GP.PositiveMinimum)
	case c.GP.Jitter <= 0:
		return fmt.Errorf("GP_JITTER must be positive, got %g", c.GP.Jitter)
	case c.GP.JitterAttempts < 0:
		return fmt.Errorf("GP_JITTER_ATTEMPTS must be non-negative, got %d", c.GP.JitterAttempts)
	case c.GP.DataPoints < 1:
		return fmt.Errorf("GP_DATA_POINTS must be at least 1, got %d", c.GP.DataPoints)
	case c.GP.DataScale <= 0:
		return fmt.Errorf("GP_DATA_SCALE must be positive, got %g", c.GP.DataScale)
	}
	return nil
}

// Settings returns the parameter defaults selected by the GP_* variables.
func (c *Config) Settings() (params.Settings, error) {
	precision, err := params.ParsePrecision(c.GP.DefaultFloat)
	if err != nil {
		return params.Settings{}, err
	}
	s := params.Settings{
		Precision:       precision,
		Positive:        c.GP.PositiveBijector,
		PositiveMinimum: c.GP.PositiveMinimum,
	}
	if _, err := s.PositiveTransform(); err != nil {
		return params.Settings{}, err
	}
	return s, nil
}

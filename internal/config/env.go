package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the process-level settings read from the environment. Values
// that also exist in LinkingConfig override the file when set.
type Env struct {
	DBPath      string   `env:"MOPS_DB_PATH" envDefault:"mops.db"`
	LogEnv      string   `env:"MOPS_LOG_ENV" envDefault:"production"`
	LogLevel    string   `env:"MOPS_LOG_LEVEL" envDefault:"info"`
	MetricsFile string   `env:"MOPS_METRICS_FILE"`
	Workers     *int     `env:"MOPS_WORKERS"`
	MaxV        *float64 `env:"MOPS_MAX_V"`
}

// ParseEnv loads Env from the process environment.
func ParseEnv() (*Env, error) {
	return parseEnv(env.Options{})
}

// ParseEnvFrom loads Env from the given variables instead of the process
// environment.
func ParseEnvFrom(vars map[string]string) (*Env, error) {
	return parseEnv(env.Options{Environment: vars})
}

func parseEnv(opts env.Options) (*Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if e.Workers != nil && *e.Workers < 0 {
		return nil, fmt.Errorf("parse env: MOPS_WORKERS must be non-negative, got %d", *e.Workers)
	}
	if e.MaxV != nil && (!isFinite(*e.MaxV) || *e.MaxV < 0) {
		return nil, fmt.Errorf("parse env: MOPS_MAX_V must be finite and non-negative, got %v", *e.MaxV)
	}
	return &e, nil
}

// ApplyTo copies the overriding values of e into cfg.
func (e *Env) ApplyTo(cfg *LinkingConfig) {
	if e.Workers != nil {
		cfg.Workers = ptrInt(*e.Workers)
	}
	if e.MaxV != nil {
		cfg.MaxV = ptrFloat64(*e.MaxV)
	}
}

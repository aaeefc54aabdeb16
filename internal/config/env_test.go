package config

import (
	"testing"
)

func TestParseEnvFrom_Defaults(t *testing.T) {
	e, err := ParseEnvFrom(map[string]string{})
	if err != nil {
		t.Fatalf("ParseEnvFrom() error = %v", err)
	}
	if e.DBPath != "mops.db" {
		t.Errorf("DBPath = %q, want mops.db", e.DBPath)
	}
	if e.LogEnv != "production" || e.LogLevel != "info" {
		t.Errorf("log settings = %q/%q", e.LogEnv, e.LogLevel)
	}
	if e.Workers != nil || e.MaxV != nil || e.MetricsFile != "" {
		t.Errorf("unexpected overrides: %+v", e)
	}

	cfg := EmptyLinkingConfig()
	e.ApplyTo(cfg)
	if cfg.Workers != nil || cfg.MaxV != nil {
		t.Error("ApplyTo should not touch unset values")
	}
}

func TestParseEnvFrom_Overrides(t *testing.T) {
	e, err := ParseEnvFrom(map[string]string{
		"MOPS_DB_PATH":      "/tmp/night.db",
		"MOPS_WORKERS":      "4",
		"MOPS_MAX_V":        "0.75",
		"MOPS_METRICS_FILE": "/tmp/mops.prom",
		"MOPS_LOG_ENV":      "development",
	})
	if err != nil {
		t.Fatalf("ParseEnvFrom() error = %v", err)
	}
	if e.DBPath != "/tmp/night.db" || e.MetricsFile != "/tmp/mops.prom" || e.LogEnv != "development" {
		t.Errorf("unexpected env %+v", e)
	}

	cfg := &LinkingConfig{MaxV: ptrFloat64(2), Workers: ptrInt(1)}
	e.ApplyTo(cfg)
	if cfg.GetWorkers() != 4 {
		t.Errorf("GetWorkers() = %d, want 4", cfg.GetWorkers())
	}
	if cfg.GetMaxV() != 0.75 {
		t.Errorf("GetMaxV() = %v, want 0.75", cfg.GetMaxV())
	}
}

func TestParseEnvFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"workers not a number", map[string]string{"MOPS_WORKERS": "many"}},
		{"negative workers", map[string]string{"MOPS_WORKERS": "-2"}},
		{"negative max_v", map[string]string{"MOPS_MAX_V": "-1"}},
		{"infinite max_v", map[string]string{"MOPS_MAX_V": "+Inf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEnvFrom(tt.vars); err == nil {
				t.Error("expected error")
			}
		})
	}
}

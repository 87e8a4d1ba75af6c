package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:              "8000",
		Env:               "production",
		DatabaseURL:       "postgres://localhost/referrals",
		RulesPath:         "./rules.json",
		AuthSigningKey:    "secret",
		SchedulerTick:     time.Second,
		NotifyParallelism: 8,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingSigningKeyInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.AuthSigningKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing AUTH_SIGNING_KEY in production")
	}
}

func TestValidate_DevAllowsMissingSigningKey(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "development"
	cfg.AuthSigningKey = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_SchedulerTickBounds(t *testing.T) {
	cfg := validConfig()
	cfg.SchedulerTick = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero tick")
	}
	cfg.SchedulerTick = 2 * time.Minute
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for oversized tick")
	}
}

func TestValidate_NotifyParallelism(t *testing.T) {
	cfg := validConfig()
	cfg.NotifyParallelism = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero parallelism")
	}
}

func TestIsDev(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDev() {
		t.Error("expected IsDev true")
	}
	if cfg.IsProduction() {
		t.Error("expected IsProduction false")
	}
}

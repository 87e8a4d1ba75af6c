package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RulesPath         string        `mapstructure:"RULES_PATH"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	SchedulerTick     time.Duration `mapstructure:"SCHEDULER_TICK"`
	NotifyParallelism int           `mapstructure:"NOTIFY_PARALLELISM"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("RULES_PATH", "./rules.json")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SCHEDULER_TICK", "1s")
	v.SetDefault("NOTIFY_PARALLELISM", 8)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("RULES_PATH")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SCHEDULER_TICK")
	v.BindEnv("NOTIFY_PARALLELISM")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// mode AUTH_SIGNING_KEY must be set so that bearer tokens are actually
// verified; the scheduler tick and notification parallelism must be sane
// because the workflow scheduler and the alert router are sized from them.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY is required when ENV=%q. "+
				"Refusing to start an unauthenticated referral API outside development", c.Env)
	}
	if c.RulesPath == "" {
		return fmt.Errorf("RULES_PATH is required")
	}
	if c.SchedulerTick <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive, got %s", c.SchedulerTick)
	}
	if c.SchedulerTick > time.Minute {
		return fmt.Errorf("SCHEDULER_TICK must be at most 1m, got %s (waiting runs would oversleep)", c.SchedulerTick)
	}
	if c.NotifyParallelism < 1 {
		return fmt.Errorf("NOTIFY_PARALLELISM must be at least 1, got %d", c.NotifyParallelism)
	}
	return nil
}

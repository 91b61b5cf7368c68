package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	BaseURL           string   `mapstructure:"BASE_URL"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey    string   `mapstructure:"AUTH_SIGNING_KEY"`
	DevPractitionerID string   `mapstructure:"DEV_PRACTITIONER_ID"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	NATSURL           string   `mapstructure:"NATS_URL"`
	NATSSubjectPrefix string   `mapstructure:"NATS_SUBJECT_PREFIX"`
	MigrationsDir     string   `mapstructure:"MIGRATIONS_DIR"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
}

var keys = []string{
	"PORT", "ENV", "BASE_URL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "DEV_PRACTITIONER_ID",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "NATS_URL", "NATS_SUBJECT_PREFIX",
	"MIGRATIONS_DIR", "LOG_LEVEL",
}

// Load reads configuration from the environment and an optional .env file.
// Only DATABASE_URL is required here; Validate applies the remaining rules.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("NATS_SUBJECT_PREFIX", "jhe")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("LOG_LEVEL", "info")

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthJWKSURL == "" && cfg.AuthIssuer != "" && cfg.AuthSigningKey == "" {
		cfg.AuthJWKSURL = strings.TrimRight(cfg.AuthIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// AuthConfigured reports whether any JWT verification source is set.
func (c *Config) AuthConfigured() bool {
	return c.AuthSigningKey != "" || c.AuthIssuer != "" || c.AuthJWKSURL != ""
}

// EventsEnabled reports whether observation events go to NATS.
func (c *Config) EventsEnabled() bool {
	return c.NATSURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// some JWT verification source must be configured.
func (c *Config) Validate() error {
	if !c.IsDev() && !c.AuthConfigured() {
		return fmt.Errorf(
			"one of AUTH_SIGNING_KEY, AUTH_ISSUER or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.DevPractitionerID != "" {
		if _, err := uuid.Parse(c.DevPractitionerID); err != nil {
			return fmt.Errorf("DEV_PRACTITIONER_ID must be a UUID: %w", err)
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	LogLevel        string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultInstance string   `mapstructure:"DEFAULT_INSTANCE"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey  string   `mapstructure:"AUTH_SIGNING_KEY"`
	CustomValueSets string   `mapstructure:"CUSTOM_VALUE_SETS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// MLLPAddr enables the ADT listener, e.g. ":2575". Empty disables it.
	MLLPAddr string `mapstructure:"MLLP_ADDR"`
	// Effects built by the ADT listener are posted here when set.
	EffectsWebhookURL    string `mapstructure:"EFFECTS_WEBHOOK_URL"`
	EffectsWebhookSecret string `mapstructure:"EFFECTS_WEBHOOK_SECRET"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_INSTANCE", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "CUSTOM_VALUE_SETS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"MLLP_ADDR", "EFFECTS_WEBHOOK_URL", "EFFECTS_WEBHOOK_SECRET",
}

// newViper reads the environment and the optional .env file in the working
// directory. Environment variables win over .env entries.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()
	return v
}

// CustomValueSets returns CUSTOM_VALUE_SETS without requiring the rest of
// the configuration, for commands that run without a database.
func CustomValueSets() string {
	return newViper().GetString("CUSTOM_VALUE_SETS")
}

func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_INSTANCE", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
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

// Level parses LOG_LEVEL, falling back to info for unknown values.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is safe to run. Outside development
// the server must be able to verify tokens, either with a shared signing key
// or with keys published by the issuer.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("one of AUTH_SIGNING_KEY, AUTH_ISSUER or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.EffectsWebhookURL != "" && c.EffectsWebhookSecret == "" {
		return fmt.Errorf("EFFECTS_WEBHOOK_SECRET is required when EFFECTS_WEBHOOK_URL is set")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// Package config loads the service configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env        string `env:"APP_ENV,default=development"`
	Port       string `env:"PORT,default=50051"`
	HealthAddr string `env:"HEALTH_ADDR,default=:8080"`

	Mongo struct {
		URI      string `env:"MONGODB_URI,required"`
		Database string `env:"MONGO_DB_NAME,default=chat_service"`
	}

	Redis struct {
		URL string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	}

	NATS struct {
		URL           string `env:"NATS_URL"`
		SubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=chat.offline"`
	}

	JWT struct {
		Secret    string            `env:"JWT_SECRET"`
		Keys      map[string]string `env:"JWT_KEYS"` // kid:secret,kid2:secret2
		ActiveKID string            `env:"JWT_ACTIVE_KID"`
		Issuer    string            `env:"JWT_ISSUER,default=auth-service"`
		Audience  string            `env:"JWT_AUDIENCE,default=chat-service"`
	}

	PresenceTTL time.Duration `env:"PRESENCE_TTL,default=60s"`

	RateLimit struct {
		RPM   int `env:"RATE_LIMIT_RPM,default=120"`
		Burst int `env:"RATE_LIMIT_BURST,default=20"`
	}

	TLS struct {
		CertFile string `env:"TLS_CERT"`
		KeyFile  string `env:"TLS_KEY"`
		Require  bool   `env:"REQUIRE_TLS,default=false"`
	}
}

// Load reads the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through l and validates it.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, cfg, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		errs = append(errs, errors.New("one of JWT_SECRET or JWT_KEYS is required"))
	}
	if len(c.JWT.Keys) > 0 {
		if _, ok := c.JWT.Keys[c.JWT.ActiveKID]; !ok {
			errs = append(errs, fmt.Errorf("JWT_ACTIVE_KID %q does not name a key in JWT_KEYS", c.JWT.ActiveKID))
		}
	}
	if c.PresenceTTL < time.Second {
		errs = append(errs, fmt.Errorf("PRESENCE_TTL must be at least 1s, got %s", c.PresenceTTL))
	}
	if c.RateLimit.RPM <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT and TLS_KEY must be set together"))
	}
	if c.TLS.Require && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("REQUIRE_TLS is set but TLS_CERT/TLS_KEY are not"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TLSEnabled reports whether the gRPC listener serves TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

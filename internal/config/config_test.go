package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadWith(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"MONGODB_URI": "mongodb://localhost:27017",
		"JWT_SECRET":  "s3cret",
	})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "50051", cfg.Port)
	assert.Equal(t, ":8080", cfg.HealthAddr)
	assert.Equal(t, "chat_service", cfg.Mongo.Database)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "chat.offline", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "auth-service", cfg.JWT.Issuer)
	assert.Equal(t, "chat-service", cfg.JWT.Audience)
	assert.Equal(t, 60*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 120, cfg.RateLimit.RPM)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoad_KeyRotation(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"MONGODB_URI":    "mongodb://localhost:27017",
		"JWT_KEYS":       "k1:old,k2:new",
		"JWT_ACTIVE_KID": "k2",
		"PRESENCE_TTL":   "15s",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "old", "k2": "new"}, cfg.JWT.Keys)
	assert.Equal(t, 15*time.Second, cfg.PresenceTTL)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing mongo", map[string]string{"JWT_SECRET": "x"}, "MONGODB_URI"},
		{"no jwt keys", map[string]string{"MONGODB_URI": "m"}, "JWT_SECRET"},
		{"unknown active kid", map[string]string{"MONGODB_URI": "m", "JWT_KEYS": "k1:a", "JWT_ACTIVE_KID": "k9"}, "JWT_ACTIVE_KID"},
		{"short ttl", map[string]string{"MONGODB_URI": "m", "JWT_SECRET": "x", "PRESENCE_TTL": "10ms"}, "PRESENCE_TTL"},
		{"half tls", map[string]string{"MONGODB_URI": "m", "JWT_SECRET": "x", "TLS_CERT": "c.pem"}, "TLS_KEY"},
		{"require tls", map[string]string{"MONGODB_URI": "m", "JWT_SECRET": "x", "REQUIRE_TLS": "true"}, "REQUIRE_TLS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, tc.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

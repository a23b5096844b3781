package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hub/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("HUB_TEST_STRING", "custom")
	t.Setenv("HUB_TEST_BOOL", "TRUE")
	t.Setenv("HUB_TEST_INT", "12")
	t.Setenv("HUB_TEST_BAD_INT", "twelve")
	t.Setenv("HUB_TEST_DURATION", "90s")
	t.Setenv("HUB_TEST_FLOAT", "0.25")

	assert.Equal(t, "custom", getEnv("HUB_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("HUB_TEST_STRING_UNSET", "default"))
	assert.True(t, getEnvBool("HUB_TEST_BOOL", false))
	assert.True(t, getEnvBool("HUB_TEST_BOOL_UNSET", true))
	assert.Equal(t, 12, getEnvInt("HUB_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("HUB_TEST_BAD_INT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("HUB_TEST_DURATION", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("HUB_TEST_FLOAT", 1))
}

func TestParseAliases(t *testing.T) {
	got := parseAliases(" helpdesk = tickets ,mailers=newsletters,broken,=x,y=")
	assert.Equal(t, map[string]string{
		"helpdesk": "tickets",
		"mailers":  "newsletters",
	}, got)
	assert.Empty(t, parseAliases(""))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("nonsense"))
}

func TestLoadConfig(t *testing.T) {
	t.Run("requires database url", func(t *testing.T) {
		t.Setenv("HUB_DATABASE_URL", "")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database URL is required")
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("HUB_DATABASE_URL", "postgres://localhost/hub")
		t.Setenv("HUB_LEGACY_ALIASES", "helpdesk=tickets")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
		assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
		assert.Equal(t, "api", cfg.Tenancy.APIPrefix)
		assert.Equal(t, "hub", cfg.Tenancy.HubSlug)
		assert.Equal(t, "tickets", cfg.Tenancy.Aliases["helpdesk"])
		assert.Equal(t, "X-Hub-User-ID", cfg.Identity.UserHeader)
		assert.Equal(t, "@every 1h", cfg.Jobs.PurgeExpiredOverrides)
		assert.Equal(t, int64(0), cfg.Bootstrap.SuperAdminUserID)
	})

	t.Run("bootstrap super admin", func(t *testing.T) {
		t.Setenv("HUB_DATABASE_URL", "postgres://localhost/hub")
		t.Setenv("HUB_BOOTSTRAP_SUPER_ADMIN", "42")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, int64(42), cfg.Bootstrap.SuperAdminUserID)
	})

	t.Run("invalid bootstrap super admin", func(t *testing.T) {
		t.Setenv("HUB_DATABASE_URL", "postgres://localhost/hub")
		t.Setenv("HUB_BOOTSTRAP_SUPER_ADMIN", "admin")

		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bootstrap super admin")
	})

	t.Run("yaml overlay wins over env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tenancy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
tenancy:
  api_prefix: v1
  aliases:
    mailers: newsletters
  resolver_cache_ttl: 2m
`), 0o600))

		t.Setenv("HUB_DATABASE_URL", "postgres://localhost/hub")
		t.Setenv("HUB_LEGACY_ALIASES", "helpdesk=tickets")
		t.Setenv("HUB_CONFIG_FILE", path)

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "v1", cfg.Tenancy.APIPrefix)
		assert.Equal(t, "hub", cfg.Tenancy.HubSlug)
		assert.Equal(t, map[string]string{"mailers": "newsletters"}, cfg.Tenancy.Aliases)
		assert.Equal(t, 2*time.Minute, cfg.Tenancy.ResolverCacheTTL)
	})

	t.Run("missing overlay file", func(t *testing.T) {
		t.Setenv("HUB_DATABASE_URL", "postgres://localhost/hub")
		t.Setenv("HUB_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{URL: "postgres://localhost/hub"},
			Cache:    CacheConfig{Backend: CacheBackendMemory, Size: 10},
			Tenancy:  TenancyConfig{APIPrefix: "api", HubSlug: "hub"},
			Identity: IdentityConfig{UserHeader: "X-Hub-User-ID"},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "invalid cache backend"},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheBackendRedis }, "redis URL"},
		{"zero memory size", func(c *Config) { c.Cache.Size = 0 }, "cache size"},
		{"negative ttl", func(c *Config) { c.Cache.SafetyTTL = -time.Second }, "safety TTL"},
		{"no hub slug", func(c *Config) { c.Tenancy.HubSlug = "" }, "hub slug"},
		{"nested prefix", func(c *Config) { c.Tenancy.APIPrefix = "api/v1" }, "single path segment"},
		{"no header", func(c *Config) { c.Identity.UserHeader = "" }, "identity header"},
		{"invalid bootstrap admin", func(c *Config) { c.Bootstrap.SuperAdminUserID = -1 }, "bootstrap super admin"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
		}, "OpenTelemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/hub/pkg/observability"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Tenancy       TenancyConfig
	Identity      IdentityConfig
	Jobs          JobsConfig
	Bootstrap     BootstrapConfig
	Observability ObservabilityConfig

	// ConfigFile is the optional YAML overlay path
	ConfigFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

// CacheConfig selects and tunes the permission cache backend
type CacheConfig struct {
	Backend   string
	Size      int
	SafetyTTL time.Duration
	RedisURL  string
	KeyPrefix string
}

// TenancyConfig controls how tenants are resolved from request paths
type TenancyConfig struct {
	APIPrefix         string            `yaml:"api_prefix"`
	HubSlug           string            `yaml:"hub_slug"`
	Aliases           map[string]string `yaml:"aliases"`
	ResolverCacheSize int               `yaml:"resolver_cache_size"`
	ResolverCacheTTL  time.Duration     `yaml:"resolver_cache_ttl"`
}

// IdentityConfig describes how the upstream session layer passes the user identity
type IdentityConfig struct {
	UserHeader string
}

// JobsConfig holds background job schedules (cron syntax, empty disables)
type JobsConfig struct {
	PurgeExpiredOverrides string
	DBStatsInterval       time.Duration
}

// BootstrapConfig seeds access for a fresh deployment
type BootstrapConfig struct {
	// SuperAdminUserID is granted the global super admin role at startup (0 disables)
	SuperAdminUserID int64
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables and the optional YAML overlay
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Tenancy:       loadTenancyConfig(),
		Identity:      IdentityConfig{UserHeader: getEnv("HUB_USER_HEADER", "X-Hub-User-ID")},
		Jobs:          loadJobsConfig(),
		Bootstrap:     BootstrapConfig{SuperAdminUserID: parseUserID(getEnv("HUB_BOOTSTRAP_SUPER_ADMIN", ""))},
		Observability: loadObservabilityConfig(),
		ConfigFile:    getEnv("HUB_CONFIG_FILE", ""),
	}

	if cfg.ConfigFile != "" {
		overlay, err := LoadTenancyFile(cfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.Tenancy = cfg.Tenancy.Merge(overlay)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HUB_HOST", "0.0.0.0"),
		Port:            getEnv("HUB_PORT", "8080"),
		ReadTimeout:     getEnvDuration("HUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HUB_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("HUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("HUB_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("HUB_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("HUB_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("HUB_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("HUB_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		RunMigrations:   getEnvBool("HUB_RUN_MIGRATIONS", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:   strings.ToLower(getEnv("HUB_CACHE_BACKEND", CacheBackendMemory)),
		Size:      getEnvInt("HUB_CACHE_SIZE", 10000),
		SafetyTTL: getEnvDuration("HUB_CACHE_SAFETY_TTL", time.Hour),
		RedisURL:  getEnv("HUB_REDIS_URL", ""),
		KeyPrefix: getEnv("HUB_CACHE_KEY_PREFIX", "hub:rbac"),
	}
}

func loadTenancyConfig() TenancyConfig {
	return TenancyConfig{
		APIPrefix:         getEnv("HUB_API_PREFIX", "api"),
		HubSlug:           getEnv("HUB_HUB_SLUG", "hub"),
		Aliases:           parseAliases(getEnv("HUB_LEGACY_ALIASES", "")),
		ResolverCacheSize: getEnvInt("HUB_RESOLVER_CACHE_SIZE", 256),
		ResolverCacheTTL:  getEnvDuration("HUB_RESOLVER_CACHE_TTL", 10*time.Minute),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		PurgeExpiredOverrides: getEnv("HUB_PURGE_OVERRIDES_SCHEDULE", "@every 1h"),
		DBStatsInterval:       getEnvDuration("HUB_DB_STATS_INTERVAL", 15*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("HUB_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("HUB_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("HUB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("HUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("HUB_OTEL_SERVICE_NAME", "hub"),
		OTelServiceVersion: getEnv("HUB_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("HUB_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("HUB_OTEL_SAMPLE_RATIO", 1),
	}
}

// Merge returns t with every non-empty field of overlay applied
func (t TenancyConfig) Merge(overlay TenancyConfig) TenancyConfig {
	if overlay.APIPrefix != "" {
		t.APIPrefix = overlay.APIPrefix
	}
	if overlay.HubSlug != "" {
		t.HubSlug = overlay.HubSlug
	}
	if overlay.Aliases != nil {
		t.Aliases = overlay.Aliases
	}
	if overlay.ResolverCacheSize > 0 {
		t.ResolverCacheSize = overlay.ResolverCacheSize
	}
	if overlay.ResolverCacheTTL > 0 {
		t.ResolverCacheTTL = overlay.ResolverCacheTTL
	}
	return t
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (HUB_DATABASE_URL)")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive for the memory backend")
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.SafetyTTL < 0 {
		return fmt.Errorf("cache safety TTL must not be negative")
	}

	if c.Tenancy.HubSlug == "" {
		return fmt.Errorf("hub slug is required")
	}
	if strings.Contains(c.Tenancy.APIPrefix, "/") {
		return fmt.Errorf("api prefix must be a single path segment: %q", c.Tenancy.APIPrefix)
	}
	if c.Identity.UserHeader == "" {
		return fmt.Errorf("user identity header is required")
	}

	if c.Bootstrap.SuperAdminUserID < 0 {
		return fmt.Errorf("bootstrap super admin must be a positive user id (HUB_BOOTSTRAP_SUPER_ADMIN)")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// parseAliases parses "legacy=canonical,other=canonical" pairs
func parseAliases(raw string) map[string]string {
	aliases := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		legacy, canonical, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		legacy, canonical = strings.TrimSpace(legacy), strings.TrimSpace(canonical)
		if legacy != "" && canonical != "" {
			aliases[legacy] = canonical
		}
	}
	return aliases
}

// parseUserID parses an optional user id. Anything but a positive integer is -1.
func parseUserID(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return -1
	}
	return id
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

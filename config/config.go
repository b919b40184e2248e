// Package config loads application configuration from environment variables.
// Every knob has a default that works for local development; production
// deployments override through the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION SECTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Config is the root configuration.
type Config struct {
	App           AppConfig
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Backend       BackendConfig
	Poller        PollerConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimitPerMinute bounds requests per client IP. Zero disables it.
	RateLimitPerMinute int

	// APIKeys authenticate /api/v1 requests. Empty disables authentication.
	APIKeys []string
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name            string
	Environment     Environment
	Debug           bool
	Version         string
	ShutdownTimeout time.Duration
}

// DatabaseConfig contains PostgreSQL settings for the poll journal. The
// journal is optional: an empty URL disables it.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MinConns     int
	QueryTimeout time.Duration

	// JournalRetention is how long poll journal rows are kept before the
	// prune job removes them.
	JournalRetention time.Duration
}

// RedisConfig contains Redis settings for the result cache and dedupe store.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Disabled switches the service to the in-memory result cache.
	Disabled bool
}

// BackendConfig contains MindLeap task backend settings.
type BackendConfig struct {
	// LessonURL, SimulationURL, and QueryURL are the per-feature backend
	// base URLs.
	LessonURL     string
	SimulationURL string
	QueryURL      string

	APIKey         string
	RequestTimeout time.Duration

	// Rate limiting, applied per endpoint.
	RateLimit      float64
	RateLimitBurst int

	// Circuit breaker settings, applied per endpoint.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	Debug bool
}

// PollerConfig contains task polling settings.
type PollerConfig struct {
	// IntervalBase is the delay before the first probe and between probes
	// after successful ones.
	IntervalBase time.Duration

	// MaxAttempts bounds transient transport failures per task.
	MaxAttempts int

	// MaxElapsed bounds one task's total polling time.
	MaxElapsed time.Duration

	// FailureBackoffCap bounds the failure-path backoff delay.
	FailureBackoffCap time.Duration
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	// TTL is how long completed results stay servable offline.
	TTL time.Duration
}

// ObservabilityConfig contains logging settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadAppConfig(),
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Backend:       loadBackendConfig(),
		Poller:        loadPollerConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))

	return AppConfig{
		Name:            getEnv("APP_NAME", "mindleap-task-hub"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadServerConfig() ServerConfig {
	var keys []string
	if raw := getEnv("SERVER_API_KEYS", ""); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}

	return ServerConfig{
		Host:               getEnv("SERVER_HOST", "0.0.0.0"),
		Port:               getEnvInt("SERVER_PORT", 8080),
		ReadTimeout:        getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		RateLimitPerMinute: getEnvInt("SERVER_RATE_LIMIT_PER_MINUTE", 120),
		APIKeys:            keys,
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "")
		pass := getEnv("DB_PASSWORD", "")
		name := getEnv("DB_NAME", "mindleap")
		sslmode := getEnv("DB_SSLMODE", "disable")

		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, pass, host, port, name, sslmode)
		}
	}

	return DatabaseConfig{
		URL:              url,
		MaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", 10),
		MinConns:         getEnvInt("DB_MIN_CONNS", 2),
		QueryTimeout:     getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),
		JournalRetention: getEnvDuration("DB_JOURNAL_RETENTION", 30*24*time.Hour),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadBackendConfig() BackendConfig {
	base := getEnv("MINDLEAP_BASE_URL", "https://api.mindleap.app")

	return BackendConfig{
		LessonURL:        getEnv("MINDLEAP_LESSON_URL", base),
		SimulationURL:    getEnv("MINDLEAP_SIMULATION_URL", base),
		QueryURL:         getEnv("MINDLEAP_QUERY_URL", base),
		APIKey:           getEnv("MINDLEAP_API_KEY", ""),
		RequestTimeout:   getEnvDuration("MINDLEAP_REQUEST_TIMEOUT", 30*time.Second),
		RateLimit:        getEnvFloat("MINDLEAP_RATE_LIMIT", 5.0),
		RateLimitBurst:   getEnvInt("MINDLEAP_RATE_LIMIT_BURST", 10),
		BreakerThreshold: getEnvInt("MINDLEAP_CB_THRESHOLD", 5),
		BreakerCooldown:  getEnvDuration("MINDLEAP_CB_COOLDOWN", 30*time.Second),
		Debug:            getEnvBool("MINDLEAP_DEBUG", false),
	}
}

func loadPollerConfig() PollerConfig {
	return PollerConfig{
		IntervalBase:      getEnvDuration("POLLER_INTERVAL_BASE", 2*time.Second),
		MaxAttempts:       getEnvInt("POLLER_MAX_ATTEMPTS", 60),
		MaxElapsed:        getEnvDuration("POLLER_MAX_ELAPSED", 10*time.Minute),
		FailureBackoffCap: getEnvDuration("POLLER_FAILURE_BACKOFF_CAP", 10*time.Second),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: getEnvDuration("CACHE_TTL", 24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.LessonURL == "" || c.Backend.SimulationURL == "" || c.Backend.QueryURL == "" {
		errs = append(errs, "MINDLEAP_BASE_URL (or per-feature URLs) is required")
	}

	if c.App.Environment == EnvProduction && c.Backend.APIKey == "" {
		errs = append(errs, "MINDLEAP_API_KEY is required in production")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be a valid port number")
	}

	if c.Poller.MaxAttempts <= 0 {
		errs = append(errs, "POLLER_MAX_ATTEMPTS must be positive")
	}

	if c.Poller.IntervalBase <= 0 {
		errs = append(errs, "POLLER_INTERVAL_BASE must be positive")
	}

	if c.Poller.MaxElapsed <= c.Poller.IntervalBase {
		errs = append(errs, "POLLER_MAX_ELAPSED must exceed POLLER_INTERVAL_BASE")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	clienterrors "smartswipe/syncclient/pkg/errors"
)

// Supported cache backends
const (
	CacheBackendFile     = "file"
	CacheBackendMemory   = "memory"
	CacheBackendMemcache = "memcache"
	CacheBackendRedis    = "redis"
)

// Supported invalidation bus backends
const (
	BusBackendLocal = "local"
	BusBackendRedis = "redis"
)

// Config represents the application configuration
type Config struct {
	// Backend API
	APIURL     string
	APITimeout time.Duration

	// Cache configuration
	CacheBackend string
	CacheFile    string
	CachePrefix  string

	// Memcache configuration
	MemcacheAddr string

	// Redis configuration
	RedisAddr    string
	RedisDB      int
	RedisChannel string

	// Invalidation bus
	BusBackend string

	// Freshness windows
	AccountsTTL time.Duration
	SummaryTTL  time.Duration

	// Background revalidation
	RefreshInterval time.Duration

	// Account linking
	LinkCallbackAddr  string
	LinkPollInterval  time.Duration
	LinkPollAttempts  int
	LinkWidgetTimeout time.Duration

	// Login for unattended runs
	Email    string
	Password string

	// Metrics
	MetricsAddr string

	// Error log file used by the worker
	ErrorLogFile string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		APIURL:            getEnv("SMARTSWIPE_API_URL", "http://127.0.0.1:5001/api"),
		APITimeout:        getEnvDuration("SMARTSWIPE_API_TIMEOUT", 10*time.Second),
		CacheBackend:      getEnv("CACHE_BACKEND", CacheBackendFile),
		CacheFile:         getEnv("CACHE_FILE", defaultCacheFile()),
		CachePrefix:       getEnv("CACHE_PREFIX", "smartswipe"),
		MemcacheAddr:      getEnv("MEMCACHE_ADDR", "localhost:11211"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisChannel:      getEnv("REDIS_CHANNEL", "smartswipe:invalidate"),
		BusBackend:        getEnv("BUS_BACKEND", BusBackendLocal),
		AccountsTTL:       getEnvDuration("ACCOUNTS_TTL", 5*time.Minute),
		SummaryTTL:        getEnvDuration("SUMMARY_TTL", 15*time.Minute),
		RefreshInterval:   getEnvDuration("REFRESH_INTERVAL", 5*time.Minute),
		LinkCallbackAddr:  getEnv("LINK_CALLBACK_ADDR", "127.0.0.1:0"),
		LinkPollInterval:  getEnvDuration("LINK_POLL_INTERVAL", 500*time.Millisecond),
		LinkPollAttempts:  getEnvInt("LINK_POLL_ATTEMPTS", 10),
		LinkWidgetTimeout: getEnvDuration("LINK_WIDGET_TIMEOUT", 15*time.Minute),
		Email:             os.Getenv("SMARTSWIPE_EMAIL"),
		Password:          os.Getenv("SMARTSWIPE_PASSWORD"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		ErrorLogFile:      getEnv("ERROR_LOG_FILE", "smartswipe-errors.log"),
		Environment:       getEnv("SMARTSWIPE_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return clienterrors.NewConfiguration("SMARTSWIPE_API_URL must be set", nil)
	}

	switch c.CacheBackend {
	case CacheBackendFile:
		if c.CacheFile == "" {
			return clienterrors.NewConfiguration("CACHE_FILE must be set for the file backend", nil)
		}
	case CacheBackendMemory, CacheBackendMemcache, CacheBackendRedis:
	default:
		return clienterrors.NewConfiguration(fmt.Sprintf("unknown cache backend %q", c.CacheBackend), nil)
	}

	switch c.BusBackend {
	case BusBackendLocal, BusBackendRedis:
	default:
		return clienterrors.NewConfiguration(fmt.Sprintf("unknown bus backend %q", c.BusBackend), nil)
	}

	if c.AccountsTTL <= 0 || c.SummaryTTL <= 0 {
		return clienterrors.NewConfiguration("freshness windows must be positive", nil)
	}
	if c.RefreshInterval <= 0 {
		return clienterrors.NewConfiguration("REFRESH_INTERVAL must be positive", nil)
	}
	if c.LinkPollAttempts < 1 || c.LinkPollInterval <= 0 {
		return clienterrors.NewConfiguration("link polling needs at least one attempt and a positive interval", nil)
	}
	return nil
}

// IsProduction reports whether the client runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultCacheFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "smartswipe-cache.json"
	}
	return dir + string(os.PathSeparator) + "smartswipe" + string(os.PathSeparator) + "cache.json"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

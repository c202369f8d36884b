package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database driver constants
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Account cache store constants
const (
	AccountCacheStoreMemory = "memory"
	AccountCacheStoreRedis  = "redis"
)

// Checkr endpoint defaults
const (
	DefaultCheckrOAuthBaseURL   = "https://api.checkr.com"
	DefaultCheckrAPIBaseURL     = "https://api.checkr.com"
	DefaultCheckrPartnerBaseURL = "https://partners.checkr.com"
	DefaultSignatureHeader      = "X-Checkr-Signature"
)

type Config struct {
	// Server settings
	ServerAddr   string
	AppBaseURL   string
	IsProduction bool

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string // Database connection string (DSN or path)
	DBInitTimeout  time.Duration

	// Checkr OAuth application
	CheckrClientID        string
	CheckrClientSecret    string
	CheckrWebhookSecret   string // Defaults to the client secret
	CheckrSignatureHeader string

	// Checkr endpoints
	CheckrOAuthBaseURL   string
	CheckrAPIBaseURL     string
	CheckrPartnerBaseURL string

	// Checkr HTTP client settings
	CheckrTimeout            time.Duration
	CheckrInsecureSkipVerify bool
	CheckrAPIMaxRetries      int // Only applies to idempotent reads
	CheckrAPIRetryDelay      time.Duration
	CheckrAPIMaxRetryDelay   time.Duration

	// Token encryption
	EncryptionKey string

	// Account API (status and events); empty disables the routes
	AccountAPIToken string

	// Metrics
	MetricsEnabled             bool
	MetricsToken               string
	MetricsGaugeUpdateInterval time.Duration

	// Rate limiting
	EnableRateLimit          bool
	RateLimitStore           string // "memory" or "redis"
	RateLimitCleanupInterval time.Duration
	ConnectRateLimit         int // requests per minute per IP
	DisconnectRateLimit      int // requests per minute per IP

	// Redis
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisConnTimeout time.Duration

	// Checkr account lookup cache (status refresh)
	AccountCacheStore string        // "memory" or "redis"
	AccountCacheTTL   time.Duration // 0 disables the cache

	// Audit log
	EnableAuditLogging bool
	AuditLogBufferSize int
	AuditLogRetention  time.Duration // 0 keeps entries forever

	// Logging
	LogLevel          string
	LogFormat         string // "json" or "console"
	LogFile           string // optional rotated file, in addition to stderr
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	clientSecret := getEnv("CHECKR_CLIENT_SECRET", "")

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		AppBaseURL:   strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		IsProduction: getEnv("ENVIRONMENT", "development") == "production",

		DatabaseDriver: getEnv("DATABASE_DRIVER", DatabaseDriverSQLite),
		DatabaseDSN:    getEnv("DATABASE_DSN", "checkrgate.db"),
		DBInitTimeout:  getEnvDuration("DB_INIT_TIMEOUT", 30*time.Second),

		CheckrClientID:        getEnv("CHECKR_CLIENT_ID", ""),
		CheckrClientSecret:    clientSecret,
		CheckrWebhookSecret:   getEnv("CHECKR_WEBHOOK_SECRET", clientSecret),
		CheckrSignatureHeader: getEnv("CHECKR_SIGNATURE_HEADER", DefaultSignatureHeader),

		CheckrOAuthBaseURL: strings.TrimRight(
			getEnv("CHECKR_OAUTH_BASE_URL", DefaultCheckrOAuthBaseURL), "/"),
		CheckrAPIBaseURL: strings.TrimRight(
			getEnv("CHECKR_API_BASE_URL", DefaultCheckrAPIBaseURL), "/"),
		CheckrPartnerBaseURL: strings.TrimRight(
			getEnv("CHECKR_PARTNER_BASE_URL", DefaultCheckrPartnerBaseURL), "/"),

		CheckrTimeout:            getEnvDuration("CHECKR_TIMEOUT", 15*time.Second),
		CheckrInsecureSkipVerify: getEnvBool("CHECKR_INSECURE_SKIP_VERIFY", false),
		CheckrAPIMaxRetries:      getEnvInt("CHECKR_API_MAX_RETRIES", 3),
		CheckrAPIRetryDelay:      getEnvDuration("CHECKR_API_RETRY_DELAY", 1*time.Second),
		CheckrAPIMaxRetryDelay:   getEnvDuration("CHECKR_API_MAX_RETRY_DELAY", 10*time.Second),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		AccountAPIToken: getEnv("ACCOUNT_API_TOKEN", ""),

		MetricsEnabled:             getEnvBool("METRICS_ENABLED", false),
		MetricsToken:               getEnv("METRICS_TOKEN", ""),
		MetricsGaugeUpdateInterval: getEnvDuration("METRICS_GAUGE_UPDATE_INTERVAL", time.Minute),

		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		ConnectRateLimit:         getEnvInt("CONNECT_RATE_LIMIT", 20),
		DisconnectRateLimit:      getEnvInt("DISCONNECT_RATE_LIMIT", 10),

		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisConnTimeout: getEnvDuration("REDIS_CONN_TIMEOUT", 5*time.Second),

		AccountCacheStore: getEnv("ACCOUNT_CACHE_STORE", AccountCacheStoreMemory),
		AccountCacheTTL:   getEnvDuration("ACCOUNT_CACHE_TTL", time.Minute),

		EnableAuditLogging: getEnvBool("ENABLE_AUDIT_LOGGING", true),
		AuditLogBufferSize: getEnvInt("AUDIT_LOG_BUFFER_SIZE", 1000),
		AuditLogRetention:  getEnvDuration("AUDIT_LOG_RETENTION", 90*24*time.Hour),

		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		LogFile:           getEnv("LOG_FILE", ""),
		LogFileMaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
		LogFileMaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 5),
		LogFileMaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 28),
	}
}

// Validate checks required settings and enumerated values
func (c *Config) Validate() error {
	var errs []error

	if c.CheckrClientID == "" {
		errs = append(errs, errors.New("CHECKR_CLIENT_ID is required"))
	}
	if c.CheckrClientSecret == "" {
		errs = append(errs, errors.New("CHECKR_CLIENT_SECRET is required"))
	}
	if c.CheckrWebhookSecret == "" {
		errs = append(errs, errors.New("CHECKR_WEBHOOK_SECRET is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY is required"))
	}

	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		errs = append(errs, fmt.Errorf(
			"invalid DATABASE_DRIVER value: %q (must be %q or %q)",
			c.DatabaseDriver, DatabaseDriverSQLite, DatabaseDriverPostgres,
		))
	}

	switch c.RateLimitStore {
	case RateLimitStoreMemory, RateLimitStoreRedis:
	default:
		errs = append(errs, fmt.Errorf(
			"invalid RATE_LIMIT_STORE value: %q (must be %q or %q)",
			c.RateLimitStore, RateLimitStoreMemory, RateLimitStoreRedis,
		))
	}
	if c.EnableRateLimit && c.RateLimitStore == RateLimitStoreRedis && c.RedisAddr == "" {
		errs = append(errs, fmt.Errorf(
			"RATE_LIMIT_STORE=%q requires REDIS_ADDR", RateLimitStoreRedis,
		))
	}

	if c.AccountCacheTTL > 0 {
		switch c.AccountCacheStore {
		case AccountCacheStoreMemory, AccountCacheStoreRedis:
		default:
			errs = append(errs, fmt.Errorf(
				"invalid ACCOUNT_CACHE_STORE value: %q (must be %q or %q)",
				c.AccountCacheStore, AccountCacheStoreMemory, AccountCacheStoreRedis,
			))
		}
		if c.AccountCacheStore == AccountCacheStoreRedis && c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf(
				"ACCOUNT_CACHE_STORE=%q requires REDIS_ADDR", AccountCacheStoreRedis,
			))
		}
	}

	if c.CheckrTimeout <= 0 {
		errs = append(errs, errors.New("CHECKR_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// NeedsRedis reports whether any enabled component is configured for Redis
func (c *Config) NeedsRedis() bool {
	rateLimit := c.EnableRateLimit && c.RateLimitStore == RateLimitStoreRedis
	accountCache := c.AccountCacheTTL > 0 && c.AccountCacheStore == AccountCacheStoreRedis
	return rateLimit || accountCache
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Capture       CaptureSettings
	Query         QuerySettings
	Retention     RetentionConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig selects and configures the audit store backend.
type StoreConfig struct {
	// Type is "postgres", "sqlite" or "memory".
	Type string

	PostgresURL      string
	PostgresMaxConns int

	SQLitePath string
}

// CaptureSettings shapes the capture pipeline.
type CaptureSettings struct {
	Enabled             bool
	ExcludedFields      []string
	ExcludeContentTypes []string
	Actions             []string

	Workers   int
	QueueSize int

	WriteTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// ConfigFile, when set, is watched for capture setting overrides.
	ConfigFile string
}

// QuerySettings gates and bounds the read surface.
type QuerySettings struct {
	Enabled bool
	Timeout time.Duration
}

// RetentionConfig configures the sweeper and optional S3 archiving.
type RetentionConfig struct {
	Days      int
	BatchSize int

	// Schedule is a cron expression used by the sweeper binary.
	Schedule string

	ArchiveEnabled   bool
	ArchiveBucket    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchivePathStyle bool
	ArchivePrefix    string
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RedisURL          string
	RedisPassword     string
	RedisDB           int
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
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CHRONICLE_HOST", "0.0.0.0"),
			Port:            getEnv("CHRONICLE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CHRONICLE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CHRONICLE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CHRONICLE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("CHRONICLE_HEALTH_PORT", "9090"),
		},
		Store: StoreConfig{
			Type:             getEnv("CHRONICLE_STORE_TYPE", "postgres"),
			PostgresURL:      getEnv("CHRONICLE_POSTGRES_URL", ""),
			PostgresMaxConns: getEnvInt("CHRONICLE_POSTGRES_MAX_CONNS", 25),
			SQLitePath:       getEnv("CHRONICLE_SQLITE_PATH", "chronicle.db"),
		},
		Capture: CaptureSettings{
			Enabled:             getEnvBool("CHRONICLE_CAPTURE_ENABLED", true),
			ExcludedFields:      getEnvList("CHRONICLE_CAPTURE_EXCLUDED_FIELDS", []string{"createdAt", "updatedAt"}),
			ExcludeContentTypes: getEnvList("CHRONICLE_CAPTURE_EXCLUDE_CONTENT_TYPES", nil),
			Actions:             getEnvList("CHRONICLE_CAPTURE_ACTIONS", nil),
			Workers:             getEnvInt("CHRONICLE_CAPTURE_WORKERS", 4),
			QueueSize:           getEnvInt("CHRONICLE_CAPTURE_QUEUE_SIZE", 256),
			WriteTimeout:        getEnvDuration("CHRONICLE_CAPTURE_WRITE_TIMEOUT", 5*time.Second),
			MaxRetries:          getEnvInt("CHRONICLE_CAPTURE_MAX_RETRIES", 2),
			RetryBackoff:        getEnvDuration("CHRONICLE_CAPTURE_RETRY_BACKOFF", 100*time.Millisecond),
			ConfigFile:          getEnv("CHRONICLE_CAPTURE_CONFIG_FILE", ""),
		},
		Query: QuerySettings{
			Enabled: getEnvBool("CHRONICLE_QUERY_ENABLED", true),
			Timeout: getEnvDuration("CHRONICLE_QUERY_TIMEOUT", 10*time.Second),
		},
		Retention: RetentionConfig{
			Days:             getEnvInt("CHRONICLE_RETENTION_DAYS", 90),
			BatchSize:        getEnvInt("CHRONICLE_RETENTION_BATCH_SIZE", 1000),
			Schedule:         getEnv("CHRONICLE_RETENTION_SCHEDULE", "0 3 * * *"),
			ArchiveEnabled:   getEnvBool("CHRONICLE_ARCHIVE_ENABLED", false),
			ArchiveBucket:    getEnv("CHRONICLE_ARCHIVE_BUCKET", ""),
			ArchiveRegion:    getEnv("CHRONICLE_ARCHIVE_REGION", "us-east-1"),
			ArchiveEndpoint:  getEnv("CHRONICLE_ARCHIVE_ENDPOINT", ""),
			ArchiveAccessKey: getEnv("CHRONICLE_ARCHIVE_ACCESS_KEY", ""),
			ArchiveSecretKey: getEnv("CHRONICLE_ARCHIVE_SECRET_KEY", ""),
			ArchivePathStyle: getEnvBool("CHRONICLE_ARCHIVE_USE_PATH_STYLE", false),
			ArchivePrefix:    getEnv("CHRONICLE_ARCHIVE_PREFIX", "audit-archive"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("CHRONICLE_RATELIMIT_ENABLED", false),
			RequestsPerMinute: getEnvInt("CHRONICLE_RATELIMIT_RPM", 600),
			RedisURL:          getEnv("CHRONICLE_REDIS_URL", ""),
			RedisPassword:     getEnv("CHRONICLE_REDIS_PASSWORD", ""),
			RedisDB:           getEnvInt("CHRONICLE_REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("CHRONICLE_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("CHRONICLE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("CHRONICLE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("CHRONICLE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("CHRONICLE_OTEL_SERVICE_NAME", "chronicle"),
			OTelServiceVersion: getEnv("CHRONICLE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("CHRONICLE_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Store.Type {
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store type: %s (must be postgres, sqlite, or memory)", c.Store.Type)
	}

	if c.Capture.Workers < 1 {
		return fmt.Errorf("capture workers must be at least 1")
	}
	if c.Capture.QueueSize < 1 {
		return fmt.Errorf("capture queue size must be at least 1")
	}
	if c.Capture.MaxRetries < 0 {
		return fmt.Errorf("capture max retries must not be negative")
	}

	if c.Retention.Days < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	if c.Retention.BatchSize < 1 {
		return fmt.Errorf("retention batch size must be at least 1")
	}
	if c.Retention.ArchiveEnabled && c.Retention.ArchiveBucket == "" {
		return fmt.Errorf("archive bucket is required when archiving is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.RedisURL == "" {
		return fmt.Errorf("redis URL is required when rate limiting is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
// or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

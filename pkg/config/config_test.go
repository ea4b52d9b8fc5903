package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CHRONICLE_STORE_TYPE", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)

	assert.True(t, cfg.Capture.Enabled)
	assert.Equal(t, []string{"createdAt", "updatedAt"}, cfg.Capture.ExcludedFields)
	assert.Equal(t, 4, cfg.Capture.Workers)
	assert.Equal(t, 256, cfg.Capture.QueueSize)
	assert.Equal(t, 2, cfg.Capture.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.RetryBackoff)

	assert.True(t, cfg.Query.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Query.Timeout)

	assert.Equal(t, 90, cfg.Retention.Days)
	assert.Equal(t, 1000, cfg.Retention.BatchSize)
	assert.Equal(t, "0 3 * * *", cfg.Retention.Schedule)

	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("CHRONICLE_STORE_TYPE", "sqlite")
	t.Setenv("CHRONICLE_SQLITE_PATH", "/var/lib/chronicle/audit.db")
	t.Setenv("CHRONICLE_PORT", "3000")
	t.Setenv("CHRONICLE_CAPTURE_EXCLUDED_FIELDS", "password, secret ,token")
	t.Setenv("CHRONICLE_CAPTURE_WORKERS", "8")
	t.Setenv("CHRONICLE_QUERY_TIMEOUT", "2s")
	t.Setenv("CHRONICLE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "/var/lib/chronicle/audit.db", cfg.Store.SQLitePath)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, []string{"password", "secret", "token"}, cfg.Capture.ExcludedFields)
	assert.Equal(t, 8, cfg.Capture.Workers)
	assert.Equal(t, 2*time.Second, cfg.Query.Timeout)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_PostgresRequiresURL(t *testing.T) {
	t.Setenv("CHRONICLE_STORE_TYPE", "postgres")
	t.Setenv("CHRONICLE_POSTGRES_URL", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "8080", HealthPort: "9090"},
			Store:  StoreConfig{Type: "memory"},
			Capture: CaptureSettings{
				Workers:   4,
				QueueSize: 256,
			},
			Retention: RetentionConfig{Days: 90, BatchSize: 1000},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"port collision", func(c *Config) { c.Server.HealthPort = "8080" }},
		{"unknown store type", func(c *Config) { c.Store.Type = "dynamo" }},
		{"postgres without url", func(c *Config) { c.Store.Type = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Store.Type = "sqlite" }},
		{"no workers", func(c *Config) { c.Capture.Workers = 0 }},
		{"no queue", func(c *Config) { c.Capture.QueueSize = 0 }},
		{"negative retries", func(c *Config) { c.Capture.MaxRetries = -1 }},
		{"zero retention", func(c *Config) { c.Retention.Days = 0 }},
		{"zero batch size", func(c *Config) { c.Retention.BatchSize = 0 }},
		{"archive without bucket", func(c *Config) { c.Retention.ArchiveEnabled = true }},
		{"ratelimit without redis", func(c *Config) { c.RateLimit.Enabled = true }},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "chronicle"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCaptureSettings_CaptureConfig(t *testing.T) {
	settings := CaptureSettings{
		Enabled:             true,
		ExcludedFields:      []string{"createdAt"},
		ExcludeContentTypes: []string{"session"},
		Actions:             []string{"create", "publish", "delete"},
		WriteTimeout:        5 * time.Second,
		MaxRetries:          2,
		RetryBackoff:        100 * time.Millisecond,
	}

	cfg := settings.CaptureConfig()
	assert.True(t, cfg.Enabled)
	assert.Contains(t, cfg.ExcludedFields, "createdAt")
	assert.Contains(t, cfg.ExcludeContentTypes, "session")

	// Unknown actions are dropped from the allow-list.
	assert.Contains(t, cfg.Actions, audit.ActionCreate)
	assert.Contains(t, cfg.Actions, audit.ActionDelete)
	assert.Len(t, cfg.Actions, 2)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("verbose"))
}

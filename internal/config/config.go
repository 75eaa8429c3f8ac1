package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stairs/internal/core"
)

type Config struct {
	// HTTP Server
	Port string

	// Ledger
	LedgerPath     string
	ChartDays      int
	WriteQueueSize int
	WriteTimeout   time.Duration

	// AMQP (optional; empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Read-model mirror
	MirrorSQLitePath        string
	MirrorReconcileInterval time.Duration
	MirrorPort              string

	// Ambient
	LogLevel           string
	RateLimitPerMinute int
	CacheTTL           time.Duration
	ShutdownTimeout    time.Duration
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		LedgerPath:     getEnv("LEDGER_PATH", "./data/stairs.json"),
		ChartDays:      getEnvInt("CHART_DAYS", core.DefaultChartDays),
		WriteQueueSize: getEnvInt("WRITE_QUEUE_SIZE", 64),
		WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 0),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "stairs"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		MirrorSQLitePath:        getEnv("MIRROR_SQLITE_PATH", "./data/stairs.db"),
		MirrorReconcileInterval: getEnvDuration("MIRROR_RECONCILE_INTERVAL", 5*time.Minute),
		MirrorPort:              getEnv("MIRROR_PORT", "8082"),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CacheTTL:           getEnvDuration("CACHE_TTL", time.Minute),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// ChartWindow is the configured chart window clamped to the supported range.
func (c *Config) ChartWindow() int {
	return core.ClampChartDays(c.ChartDays)
}

// AMQPEnabled reports whether ledger events should be published.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.LedgerPath) == "" {
		errors = append(errors, "ledger path cannot be empty")
	} else if info, err := os.Stat(c.LedgerPath); err == nil && info.IsDir() {
		errors = append(errors, fmt.Sprintf("ledger path '%s' is a directory", c.LedgerPath))
	} else if dir := filepath.Dir(c.LedgerPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create ledger directory '%s': %v", dir, err))
		}
	}

	if c.WriteQueueSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid write queue size %d: must be at least 1", c.WriteQueueSize))
	} else if c.WriteQueueSize > 10000 {
		errors = append(errors, fmt.Sprintf("invalid write queue size %d: must be at most 10000", c.WriteQueueSize))
	}
	if c.WriteTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid write timeout %v: must not be negative", c.WriteTimeout))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}
	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateMirror checks the settings the mirror worker needs on top of Validate.
func (c *Config) ValidateMirror() error {
	var errors []string
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP URL is required for the mirror worker")
	}
	if strings.TrimSpace(c.MirrorSQLitePath) == "" {
		errors = append(errors, "mirror SQLite path cannot be empty")
	}
	if port, err := strconv.Atoi(c.MirrorPort); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid mirror port '%s': must be a number between 1 and 65535", c.MirrorPort))
	} else if c.MirrorPort == c.Port {
		errors = append(errors, fmt.Sprintf("mirror port %s must differ from the ledger port", c.MirrorPort))
	}
	if c.MirrorReconcileInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reconcile interval %v: must be at least 1 second", c.MirrorReconcileInterval))
	}
	if len(errors) > 0 {
		return fmt.Errorf("mirror configuration invalid:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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

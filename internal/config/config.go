package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string

	// Database
	SQLiteDBPath string

	// AMQP, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets journal, disabled when GoogleSpreadsheetID is empty
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Ledger
	LedgerOptimistic     bool
	LedgerMaxRetries     int
	LedgerMaxConcurrency int

	// Repair outbox processor
	RepairPollInterval time.Duration
	RepairBatchSize    int
	RepairMaxRetries   int

	// HTTP read cache
	CacheSize int
	CacheTTL  time.Duration

	LogLevel string
}

var validBackends = []string{"memory", "sqlite"}

func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8081"),
		DataBackend: getEnv("DATA_BACKEND", "memory"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/conti.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "conti"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "conti_events"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Journal"),

		LedgerOptimistic:     getEnvBool("LEDGER_OPTIMISTIC", true),
		LedgerMaxRetries:     getEnvInt("LEDGER_MAX_RETRIES", 3),
		LedgerMaxConcurrency: getEnvInt("LEDGER_MAX_CONCURRENCY", 4),

		RepairPollInterval: getEnvDuration("REPAIR_POLL_INTERVAL", 30*time.Second),
		RepairBatchSize:    getEnvInt("REPAIR_BATCH_SIZE", 10),
		RepairMaxRetries:   getEnvInt("REPAIR_MAX_RETRIES", 5),

		CacheSize: getEnvInt("CACHE_SIZE", 256),
		CacheTTL:  getEnvDuration("CACHE_TTL", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
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
		if c.DataBackend == "memory" {
			errors = append(errors, "AMQP requires the sqlite backend: a memory store is not shared with the worker")
		}
	}

	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleSheetName) == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet ID is provided")
	}

	if c.LedgerMaxRetries < 0 || c.LedgerMaxRetries > 20 {
		errors = append(errors, fmt.Sprintf("invalid ledger max retries %d: must be between 0 and 20", c.LedgerMaxRetries))
	}
	if c.LedgerMaxConcurrency < 0 {
		errors = append(errors, fmt.Sprintf("invalid ledger max concurrency %d: must not be negative", c.LedgerMaxConcurrency))
	}

	if c.RepairBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid repair batch size %d: must be at least 1", c.RepairBatchSize))
	} else if c.RepairBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid repair batch size %d: must be at most 1000", c.RepairBatchSize))
	}
	if c.RepairMaxRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid repair max retries %d: must be at least 1", c.RepairMaxRetries))
	}
	if c.RepairPollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid repair poll interval %v: must be at least 1 second", c.RepairPollInterval))
	} else if c.RepairPollInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid repair poll interval %v: must be at most 24 hours", c.RepairPollInterval))
	}

	if c.CacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must not be negative", c.CacheSize))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

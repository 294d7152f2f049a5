package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"invoiceflow/internal/log"
)

// Data backends accepted by DATA_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

var validBackends = []string{BackendMemory, BackendSQLite}

type Config struct {
	// HTTP Server
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	// TrustedProxies may set X-Auth-* identity and X-Forwarded-For headers.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," envDefault:"127.0.0.0/8,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,::1/128"`

	// Backend selection
	DataBackend  string `env:"DATA_BACKEND" envDefault:"memory"`
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/invoiceflow.db"`

	// AMQP. Publishing is disabled when AMQPURL is empty.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"invoiceflow"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"invoice_reports"`

	// Analytics cache
	AnalyticsCacheSize int           `env:"ANALYTICS_CACHE_SIZE" envDefault:"256"`
	AnalyticsCacheTTL  time.Duration `env:"ANALYTICS_CACHE_TTL" envDefault:"10m"`

	// Google Sheets report export
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	ReportSheetName          string `env:"REPORT_SHEET_NAME" envDefault:"Invoices"`

	// Worker
	ReportSyncInterval time.Duration `env:"REPORT_SYNC_INTERVAL" envDefault:"30s"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration shared by every binary and returns
// all problems at once.
func (c *Config) Validate() error {
	return combine(c.problems())
}

// ValidateWorker additionally requires the broker and the spreadsheet the
// report worker writes to.
func (c *Config) ValidateWorker() error {
	problems := c.problems()
	if c.AMQPURL == "" {
		problems = append(problems, "AMQP_URL is required by the report worker")
	}
	if c.GoogleSpreadsheetID == "" {
		problems = append(problems, "GOOGLE_SPREADSHEET_ID is required by the report worker")
	}
	if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
		problems = append(problems, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided")
	}
	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			problems = append(problems, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}
	if c.ReportSyncInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid report sync interval %v: must be at least 1 second", c.ReportSyncInterval))
	} else if c.ReportSyncInterval > 24*time.Hour {
		problems = append(problems, fmt.Sprintf("invalid report sync interval %v: must be at most 24 hours", c.ReportSyncInterval))
	}
	return combine(problems)
}

func (c *Config) problems() []string {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			problems = append(problems, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR network", cidr))
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		problems = append(problems, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			problems = append(problems, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if info, err := os.Stat(dir); err == nil && !info.IsDir() {
				problems = append(problems, fmt.Sprintf("SQLite database directory '%s' is not a directory", dir))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.AnalyticsCacheSize < 1 {
		problems = append(problems, fmt.Sprintf("invalid analytics cache size %d: must be at least 1", c.AnalyticsCacheSize))
	}
	if c.AnalyticsCacheTTL <= 0 {
		problems = append(problems, fmt.Sprintf("invalid analytics cache TTL %v: must be positive", c.AnalyticsCacheTTL))
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout))
	}

	return problems
}

func combine(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
}

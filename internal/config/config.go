// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineHost describes one shared physical database host. An engine is
// enabled when its <PREFIX>_HOST variable is set.
type EngineHost struct {
	Host           string
	Port           int
	AdminUser      string
	AdminPassword  string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRows        int
}

// Config holds the full server configuration.
type Config struct {
	DatabaseURL    string
	ListenAddr     string
	EncryptionKey  string
	AdminSecret    string
	WebhookURL     string
	LogLevel       slog.Level
	RateLimitRPS   float64
	RateLimitBurst int

	// Engines is keyed by engine type name ("mysql", "postgresql", ...).
	Engines map[string]EngineHost
}

// engineEnvPrefixes maps engine type names to their environment prefixes.
var engineEnvPrefixes = map[string]string{
	"mysql":      "MYSQL",
	"postgresql": "POSTGRES",
	"mongodb":    "MONGO",
	"redis":      "REDIS",
	"sqlserver":  "SQLSERVER",
	"mariadb":    "MARIADB",
	"cassandra":  "CASSANDRA",
}

// engineDefaultPorts is the wire-protocol default used when <PREFIX>_PORT
// is not set.
var engineDefaultPorts = map[string]int{
	"mysql":      3306,
	"postgresql": 5432,
	"mongodb":    27017,
	"redis":      6379,
	"sqlserver":  1433,
	"mariadb":    3306,
	"cassandra":  9042,
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
	defaultMaxRows        = 1000
)

// Load reads configuration from the environment. DATABASE_URL and
// ENCRYPTION_KEY are required; at least one engine host must be configured.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ListenAddr:     ":8080",
		EncryptionKey:  os.Getenv("ENCRYPTION_KEY"),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		Engines:        make(map[string]EngineHost),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS value %q: must be a positive number", v)
		}
		cfg.RateLimitRPS = f
	}

	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST value %q: must be a positive integer", v)
		}
		cfg.RateLimitBurst = n
	}

	for engineType, prefix := range engineEnvPrefixes {
		host, err := loadEngineHost(prefix, engineDefaultPorts[engineType])
		if err != nil {
			return nil, err
		}
		if host != nil {
			cfg.Engines[engineType] = *host
		}
	}

	if len(cfg.Engines) == 0 {
		return nil, fmt.Errorf("no engine hosts configured: set at least one <ENGINE>_HOST variable")
	}

	return cfg, nil
}

func loadEngineHost(prefix string, defaultPort int) (*EngineHost, error) {
	hostAddr := os.Getenv(prefix + "_HOST")
	if hostAddr == "" {
		return nil, nil
	}

	host := &EngineHost{
		Host:           hostAddr,
		Port:           defaultPort,
		AdminUser:      os.Getenv(prefix + "_ADMIN_USER"),
		AdminPassword:  os.Getenv(prefix + "_ADMIN_PASSWORD"),
		ConnectTimeout: defaultConnectTimeout,
		CommandTimeout: defaultCommandTimeout,
		MaxRows:        defaultMaxRows,
	}

	if v := os.Getenv(prefix + "_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("invalid %s_PORT value %q", prefix, v)
		}
		host.Port = n
	}

	if v := os.Getenv(prefix + "_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_CONNECT_TIMEOUT value %q: %w", prefix, v, err)
		}
		host.ConnectTimeout = d
	}

	if v := os.Getenv(prefix + "_COMMAND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_COMMAND_TIMEOUT value %q: %w", prefix, v, err)
		}
		host.CommandTimeout = d
	}

	if v := os.Getenv(prefix + "_MAX_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s_MAX_ROWS value %q: must be a positive integer", prefix, v)
		}
		host.MaxRows = n
	}

	return host, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}

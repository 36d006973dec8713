package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set, except
// the identity provider and event bus credentials which must be provided.
type Config struct {
	// Port is the HTTP server listen port (default: 3978)
	Port string

	// BasePath is the URL base path for reverse proxy setups (default: "/")
	BasePath string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// DataDir is the directory for persistent data (database, logs)
	DataDir string

	// DatabasePath is the SQLite database file path (default: <DataDir>/desup.db)
	DatabasePath string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string

	// TenantID is the identity provider (directory) tenant the app is registered in
	TenantID string

	// ClientID is the confidential client id used for the on-behalf-of exchange
	ClientID string

	// ClientSecret is the confidential client secret used for the on-behalf-of exchange
	ClientSecret string

	// AuthorityBase is the identity provider authority base URL
	// (default: https://login.microsoftonline.com)
	AuthorityBase string

	// Audience is the expected audience claim of inbound bearer tokens.
	// Empty disables the audience check (signature is verified upstream).
	Audience string

	// DriveBaseURL is the downstream storage provider API base
	// (default: https://graph.microsoft.com)
	DriveBaseURL string

	// DriveScope is the scope requested when exchanging for a downstream credential
	// (default: https://graph.microsoft.com/.default)
	DriveScope string

	// EventGridEndpoint is the external event bus topic endpoint scans are published to
	EventGridEndpoint string

	// EventGridKey is the shared access key for the event bus topic
	EventGridKey string

	// NotifyURLs are shoutrrr notification URLs for operator alerts (comma-separated)
	NotifyURLs []string

	// RetentionDays is the number of days to keep completed scans and events (default: 90)
	// Set to 0 to disable automatic pruning
	RetentionDays int

	// MaintenanceSchedule is the cron expression for retention maintenance
	// (default: daily at 03:00)
	MaintenanceSchedule string

	// RequestTimeout is the timeout applied to outbound HTTP calls (default: 30s)
	RequestTimeout time.Duration
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	basePath := getEnvOrDefault("DESUP_BASE_PATH", "/")

	// Normalize base path: ensure it starts with / and doesn't end with /
	if basePath != "/" {
		if !strings.HasPrefix(basePath, "/") {
			basePath = "/" + basePath
		}
		basePath = strings.TrimSuffix(basePath, "/")
	}

	// Determine DataDir - this is where all persistent data lives
	dataDir := getEnvOrDefault("DESUP_DATA_DIR", "")
	if dataDir == "" {
		// Check if we're in Docker (has /config directory)
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "config")
		} else {
			dataDir = "./config"
		}
	}
	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}
	os.MkdirAll(dataDir, 0755)

	// Database path - inside data directory unless explicitly set
	dbPath := getEnvOrDefault("DESUP_DATABASE_PATH", "")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "desup.db")
	}

	// Log directory - inside data directory
	logDir := filepath.Join(dataDir, "logs")
	os.MkdirAll(logDir, 0755)

	var notifyURLs []string
	if raw := os.Getenv("DESUP_NOTIFY_URLS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				notifyURLs = append(notifyURLs, u)
			}
		}
	}

	cfg = &Config{
		Port:                getEnvOrDefault("DESUP_PORT", "3978"),
		BasePath:            basePath,
		LogLevel:            strings.ToLower(getEnvOrDefault("DESUP_LOG_LEVEL", "info")),
		DataDir:             dataDir,
		DatabasePath:        dbPath,
		LogDir:              logDir,
		TenantID:            os.Getenv("DESUP_TENANT_ID"),
		ClientID:            os.Getenv("DESUP_CLIENT_ID"),
		ClientSecret:        os.Getenv("DESUP_CLIENT_SECRET"),
		AuthorityBase:       getEnvOrDefault("DESUP_AUTHORITY_BASE", "https://login.microsoftonline.com"),
		Audience:            os.Getenv("DESUP_TOKEN_AUDIENCE"),
		DriveBaseURL:        getEnvOrDefault("DESUP_DRIVE_BASE_URL", "https://graph.microsoft.com"),
		DriveScope:          getEnvOrDefault("DESUP_DRIVE_SCOPE", "https://graph.microsoft.com/.default"),
		EventGridEndpoint:   os.Getenv("DESUP_EVENTGRID_ENDPOINT"),
		EventGridKey:        os.Getenv("DESUP_EVENTGRID_KEY"),
		NotifyURLs:          notifyURLs,
		RetentionDays:       getEnvIntOrDefault("DESUP_RETENTION_DAYS", 90),
		MaintenanceSchedule: getEnvOrDefault("DESUP_MAINTENANCE_SCHEDULE", "0 3 * * *"),
		RequestTimeout:      getEnvDurationOrDefault("DESUP_REQUEST_TIMEOUT", 30*time.Second),
	}

	// Validate log level
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		cfg.LogLevel = "info" // Fall back to info for invalid values
	}

	return cfg
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:                "8080",
		BasePath:            "/",
		LogLevel:            "debug",
		DataDir:             "/tmp/desup-test",
		DatabasePath:        "/tmp/desup-test/desup.db",
		LogDir:              "/tmp/desup-test/logs",
		TenantID:            "test-tenant",
		ClientID:            "test-client",
		ClientSecret:        "test-secret",
		AuthorityBase:       "https://login.microsoftonline.com",
		DriveBaseURL:        "https://graph.microsoft.com",
		DriveScope:          "https://graph.microsoft.com/.default",
		EventGridEndpoint:   "https://topic.example.test/api/events",
		EventGridKey:        "test-key",
		RetentionDays:       90,
		MaintenanceSchedule: "0 3 * * *",
		RequestTimeout:      30 * time.Second,
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "30s", "5m", "72h".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

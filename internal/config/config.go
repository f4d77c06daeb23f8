// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast
// on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	Export   ExportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1; the API fronts
	// a local spreadsheet session, not a public service)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	// PORT is accepted as an alternative for platform compatibility
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// SessionConfig holds workbook session settings.
type SessionConfig struct {
	// HistoryLimit caps the undo stack per sheet; the oldest entry is
	// evicted once the cap is exceeded (default: 100)
	HistoryLimit int `env:"SESSION_HISTORY_LIMIT" default:"100"`

	// UntitledPrefix names fresh tabs: "<prefix> 1", "<prefix> 2", ... (default: Untitled)
	UntitledPrefix string `env:"SESSION_UNTITLED_PREFIX" default:"Untitled"`

	// AutosaveMetadata persists the sidecar immediately after every
	// metadata mutation (default: true)
	AutosaveMetadata bool `env:"SESSION_AUTOSAVE_METADATA" default:"true"`

	// SaveTimeout bounds a single save operation, sidecar included (default: 30s)
	SaveTimeout time.Duration `env:"SESSION_SAVE_TIMEOUT" default:"30s"`
}

// ExportConfig holds export output settings.
type ExportConfig struct {
	// JSONIndent is the number of spaces per indent level in exported JSON (default: 2)
	JSONIndent int `env:"EXPORT_JSON_INDENT" default:"2"`

	// XLSXSheetName is the worksheet name used for XLSX exports (default: Sheet1)
	XLSXSheetName string `env:"EXPORT_XLSX_SHEET_NAME" default:"Sheet1"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	// whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey requires a valid X-API-Key header on /api routes (default: false;
	// the server binds to loopback out of the box)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}

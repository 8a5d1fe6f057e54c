// Package config provides configuration for the relay server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvModelTimeout sets the server default model timeout in milliseconds.
const EnvModelTimeout = "MODEL_TIMEOUT_MS"

// Config holds the relay configuration.
type Config struct {
	// Server settings
	Host     string // Relay WebSocket bind host
	Port     int    // Relay WebSocket port
	HTTPPort int    // Internal HTTP port for /health, /metrics, /internal/send; 0 disables it

	// Auth settings
	AuthKeys   []string // Allowed endpoint keys; empty admits everyone
	PolicyFile string   // Optional rego handshake policy

	// Model delegation
	ModelsFile   string        // YAML/JSON model catalog
	ModelsDB     string        // SQLite DSN for named models
	DefaultModel string        // Used when a request names no model
	ModelTimeout time.Duration // Server default for model calls
	// ModelTimeoutSet is true when ModelTimeout was given explicitly, so a
	// catalog timeout must not replace it.
	ModelTimeoutSet bool

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Host:            getEnv("RELAY_HOST", "0.0.0.0"),
		Port:            getEnvInt("RELAY_PORT", 8765),
		HTTPPort:        getEnvInt("RELAY_HTTP_PORT", 8766),
		AuthKeys:        getEnvList("RELAY_AUTH_KEYS"),
		PolicyFile:      getEnv("RELAY_POLICY_FILE", ""),
		ModelsFile:      getEnv("RELAY_MODELS_FILE", ""),
		ModelsDB:        getEnv("RELAY_MODELS_DB", ""),
		DefaultModel:    getEnv("RELAY_DEFAULT_MODEL", ""),
		ModelTimeout:    time.Duration(getEnvInt(EnvModelTimeout, 60000)) * time.Millisecond,
		ModelTimeoutSet: os.Getenv(EnvModelTimeout) != "",
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		SendBuffer:      getEnvInt("WS_SEND_BUFFER", 256),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "console"),
	}
}

// Addr returns the relay listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HTTPAddr returns the internal HTTP listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return errors.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.HTTPPort == c.Port {
		return errors.Errorf("http port must differ from relay port %d", c.Port)
	}
	if c.ReadTimeout > 0 && c.PingInterval >= c.ReadTimeout {
		return errors.Errorf("ping interval %s must be shorter than read timeout %s", c.PingInterval, c.ReadTimeout)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

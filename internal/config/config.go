package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	// DefaultConvoReconnectDelay is the fixed delay before the conversation
	// channel retries after an unexpected close.
	DefaultConvoReconnectDelay = 3 * time.Second

	// DefaultHeartbeatInterval is how often per-view sockets send a ping.
	DefaultHeartbeatInterval = 25 * time.Second

	// DefaultSessionExpiredDelay gives pending UI feedback time to render
	// before the session-expired handler fires.
	DefaultSessionExpiredDelay = 1500 * time.Millisecond
)

type Config struct {
	// API endpoints
	APIBaseURL string `yaml:"api_base_url"`
	WSBaseURL  string `yaml:"ws_base_url"`

	// Token persistence
	TokenPath string `yaml:"token_path"`

	// HTTP client
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Socket behavior
	ConvoReconnectDelay time.Duration `yaml:"convo_reconnect_delay"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	OutboundQueueCap    int           `yaml:"outbound_queue_cap"`
	NotificationCap     int           `yaml:"notification_cap"`

	// Session
	SessionExpiredDelay time.Duration `yaml:"session_expired_delay"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from the environment, loading a .env file first
// if one is present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	return &Config{
		APIBaseURL: strings.TrimRight(getEnvOrDefault("MERITDESK_API_BASE_URL", "https://api.meritdesk.local/api/"), "/") + "/",
		WSBaseURL:  getEnvOrDefault("MERITDESK_WS_BASE_URL", "wss://api.meritdesk.local"),

		TokenPath: getEnvOrDefault("MERITDESK_TOKEN_PATH", defaultTokenPath()),

		HTTPTimeout: getEnvAsDuration("MERITDESK_HTTP_TIMEOUT", 30*time.Second),

		ConvoReconnectDelay: getEnvAsDuration("MERITDESK_CONVO_RECONNECT_DELAY", DefaultConvoReconnectDelay),
		HeartbeatInterval:   getEnvAsDuration("MERITDESK_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		OutboundQueueCap:    getEnvAsInt("MERITDESK_OUTBOUND_QUEUE_CAP", 200),
		NotificationCap:     getEnvAsInt("MERITDESK_NOTIFICATION_CAP", 10),

		SessionExpiredDelay: getEnvAsDuration("MERITDESK_SESSION_EXPIRED_DELAY", DefaultSessionExpiredDelay),

		LogLevel:  getEnvOrDefault("MERITDESK_LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("MERITDESK_LOG_FORMAT", "text"),
	}
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meritdesk/tokens.json"
	}
	return home + "/.meritdesk/tokens.json"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile overlays values from a YAML config file onto config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}

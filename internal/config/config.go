package config

import (
	"log/slog"
	"time"
)

// Config is the root configuration for an ingestor instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this ingestor.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// FeedConfig holds Coinbase Advanced Trade WebSocket settings.
type FeedConfig struct {
	WSURL     string `yaml:"ws_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"` // EC private key PEM, \n-escaped in env vars

	ProductIDs []string `yaml:"product_ids"` // Trading pairs, BASE-QUOTE shaped
	Channels   []string `yaml:"channels"`    // Subset of candles, heartbeats, ticker

	SocketTimeout  time.Duration `yaml:"socket_timeout"`   // Read deadline per message
	MaxMessageSize int64         `yaml:"max_message_size"` // Bytes

	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`      // Fixed delay after mid-session drop
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"` // Initial-connect backoff base
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`  // Initial-connect backoff cap
	MaxConnectAttempts int           `yaml:"max_connect_attempts"` // Initial-connect attempt budget

	EnableHeartbeat bool `yaml:"enable_heartbeat"`
}

// KafkaConfig holds broker publishing settings.
type KafkaConfig struct {
	Enabled          bool   `yaml:"enabled"`
	BootstrapServers string `yaml:"bootstrap_servers"` // Comma-separated host:port list
	Topic            string `yaml:"topic"`
	ClientID         string `yaml:"client_id"`
}

// MetricsConfig holds the health/metrics HTTP surface settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel maps the configured level to a slog.Level. Unknown values
// fall back to info; Validate rejects them before this is consulted.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Redacted returns a copy safe for startup logging: credentials are
// masked, everything else passes through.
func (c Config) Redacted() Config {
	out := c
	if out.Feed.APIKey != "" {
		out.Feed.APIKey = "***REDACTED***"
	}
	if out.Feed.APISecret != "" {
		out.Feed.APISecret = "***REDACTED***"
	}
	return out
}

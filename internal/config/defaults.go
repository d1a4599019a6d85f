package config

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultWSURL              = "wss://advanced-trade-ws.coinbase.com"
	DefaultSocketTimeout      = 30 * time.Second
	DefaultMaxMessageSize     = 1 << 20 // 1 MiB
	DefaultReconnectDelay     = 20 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultMaxConnectAttempts = 5
	DefaultBootstrapServers   = "localhost:9092"
	DefaultKafkaTopic         = "coinbase.candles"
	DefaultMetricsPort        = 8000
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

// Default subscription when none is configured.
var (
	DefaultProductIDs = []string{"BTC-USD", "ETH-USD"}
	DefaultChannels   = []string{"candles", "heartbeats"}
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "ingestor-" + uuid.NewString()[:8]
	}

	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if len(c.Feed.ProductIDs) == 0 {
		c.Feed.ProductIDs = append([]string(nil), DefaultProductIDs...)
	}
	if len(c.Feed.Channels) == 0 {
		c.Feed.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Feed.SocketTimeout == 0 {
		c.Feed.SocketTimeout = DefaultSocketTimeout
	}
	if c.Feed.MaxMessageSize == 0 {
		c.Feed.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.MaxConnectAttempts == 0 {
		c.Feed.MaxConnectAttempts = DefaultMaxConnectAttempts
	}

	// Credentials arrive via env vars: strip stray whitespace from the
	// key and restore literal \n escapes in the PEM secret.
	c.Feed.APIKey = strings.Join(strings.Fields(c.Feed.APIKey), "")
	c.Feed.APISecret = strings.ReplaceAll(c.Feed.APISecret, `\n`, "\n")

	// Kafka defaults
	if c.Kafka.BootstrapServers == "" {
		c.Kafka.BootstrapServers = DefaultBootstrapServers
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = c.Instance.ID
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

package feed

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrConnectExhausted = errors.New("connection attempts exhausted")
)

// State is the Connection Manager lifecycle state. Transitions are
// owned exclusively by the manager; other components only observe.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateDraining
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription describes what the manager subscribes to on connect.
type Subscription struct {
	ProductIDs []string // Trading pairs (e.g., "BTC-USD")
	Channels   []string // Channel names (candles, heartbeats, ticker)
}

// subscribeRequest is the wire format of a subscribe command. The feed
// takes one channel per subscribe frame.
type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

// TimestampedMessage wraps raw frame data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL            string        // WebSocket URL
	APIKey         string        // Bearer token for the handshake (empty = no auth header)
	ReadTimeout    time.Duration // Max time between inbound frames
	WriteTimeout   time.Duration // Write deadline for sends
	MaxMessageSize int64         // Inbound frame size limit (bytes)
	BufferSize     int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxMessageSize: 1 << 20,
		BufferSize:     1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL            string        // WebSocket URL
	APIKey         string        // API key for the handshake
	ReadTimeout    time.Duration // Socket read timeout
	WriteTimeout   time.Duration // Socket write timeout
	MaxMessageSize int64         // Inbound frame size limit (bytes)
	BufferSize     int           // Client message buffer size

	ReconnectDelay     time.Duration // Fixed delay after a mid-session drop
	ReconnectBaseDelay time.Duration // Initial-connect backoff base
	ReconnectMaxDelay  time.Duration // Initial-connect backoff cap
	MaxConnectAttempts int           // Initial-connect attempt budget
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxMessageSize:     1 << 20,
		BufferSize:         1000,
		ReconnectDelay:     20 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		MaxConnectAttempts: 5,
	}
}

// Reconnect delays outside this range are clamped before use.
const (
	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 300 * time.Second
)

func clampReconnectDelay(d time.Duration) time.Duration {
	if d < minReconnectDelay {
		return minReconnectDelay
	}
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

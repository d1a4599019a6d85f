package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfeed/coinbase-ingest/internal/model"
)

// Manager maintains at most one live subscribed connection to the feed,
// transparently recovering from drops.
//
// State machine:
//
//	Idle → Connecting           on Run
//	Connecting → Subscribed     handshake + subscribe succeeded
//	Connecting → Connecting     transient handshake failure, exponential
//	                            backoff, bounded attempts on first connect
//	Subscribed → Connecting     unexpected drop, fixed reconnect delay,
//	                            loops until shutdown
//	Subscribed → Draining       shutdown observed
//	Draining → Closed           socket closed; terminal
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	shutdown *ShutdownSignal

	// OnRecord is invoked synchronously for each parsed candle record,
	// in wire arrival order, once per event, with the local timestamp
	// at which the carrying frame was read off the socket. It must not
	// block the receive loop; downstream publishes are fire-and-forget.
	// Set before Run.
	OnRecord func(rec model.CandleRecord, receivedAt time.Time)

	// OnError is invoked once per connection or parse error, before the
	// error is logged. Optional; set before Run.
	OnError func(error)

	state atomic.Int32

	// Live socket handle. Mutated only here; read (for closing) by the
	// orchestrator during stop. Set to nil after close so a second
	// close is a no-op.
	clientMu sync.Mutex
	client   Client
}

// NewManager creates a Connection Manager observing the given shutdown
// signal.
func NewManager(cfg ManagerConfig, shutdown *ShutdownSignal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if shutdown == nil {
		shutdown = NewShutdownSignal()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		shutdown: shutdown,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// RequestStop sets the shutdown signal. Non-blocking, safe to call from
// any goroutine, any number of times.
func (m *Manager) RequestStop() {
	m.shutdown.Set()
}

// Run connects, subscribes, and processes frames until shutdown. It
// blocks until the manager reaches Closed, so callers run it on a
// dedicated goroutine. A no-op unless the manager is Idle; a Closed
// manager cannot be restarted.
//
// Returns ErrConnectExhausted when the initial connect attempts run
// out; a clean shutdown returns nil.
func (m *Manager) Run(ctx context.Context, sub Subscription) error {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return nil
	}

	m.logger.Info("feed manager starting",
		"url", m.cfg.URL,
		"products", sub.ProductIDs,
		"channels", sub.Channels,
	)

	cl, err := m.connectWithBackoff(ctx, sub)
	if err != nil {
		m.drain()
		return err
	}

	for cl != nil {
		m.setClient(cl)
		m.setState(StateSubscribed)
		m.logger.Info("subscribed", "products", sub.ProductIDs, "channels", sub.Channels)

		m.receive(ctx, cl)
		m.CloseSocket()

		cl = m.reconnect(ctx, sub)
	}

	m.drain()
	return nil
}

// CloseSocket closes the live socket handle, if any. The close error is
// logged, never raised. Used by the orchestrator during stop to unblock
// the receive loop.
func (m *Manager) CloseSocket() {
	m.clientMu.Lock()
	cl := m.client
	m.client = nil
	m.clientMu.Unlock()

	if cl == nil {
		return
	}
	if err := cl.Close(); err != nil {
		m.logger.Error("error closing socket", "error", err)
	}
}

// connectWithBackoff performs the initial connect with exponential
// backoff: the delay doubles from ReconnectBaseDelay up to
// ReconnectMaxDelay, for at most MaxConnectAttempts tries. Returns
// (nil, nil) when shutdown interrupts the attempts.
func (m *Manager) connectWithBackoff(ctx context.Context, sub Subscription) (Client, error) {
	delay := m.cfg.ReconnectBaseDelay

	for attempt := 1; ; attempt++ {
		if m.stopping(ctx) {
			return nil, nil
		}

		cl, err := m.connect(ctx, sub)
		if err == nil {
			return cl, nil
		}

		m.reportError(err)
		m.logger.Warn("connect attempt failed",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxConnectAttempts,
			"error", err,
		)

		if attempt >= m.cfg.MaxConnectAttempts {
			return nil, ErrConnectExhausted
		}

		if !m.sleep(ctx, delay) {
			return nil, nil
		}
		delay *= 2
		if delay > m.cfg.ReconnectMaxDelay {
			delay = m.cfg.ReconnectMaxDelay
		}
	}
}

// reconnect recovers from a mid-session drop: a fixed delay between
// attempts, looping indefinitely until a connection is established.
// Returns nil once shutdown is observed; the check runs at the top of
// every iteration.
func (m *Manager) reconnect(ctx context.Context, sub Subscription) Client {
	for {
		if m.stopping(ctx) {
			return nil
		}

		m.setState(StateConnecting)
		delay := clampReconnectDelay(m.cfg.ReconnectDelay)
		m.logger.Warn("connection lost, reconnecting", "delay", delay)

		if !m.sleep(ctx, delay) {
			return nil
		}

		cl, err := m.connect(ctx, sub)
		if err != nil {
			m.reportError(err)
			m.logger.Warn("reconnect failed", "error", err)
			continue
		}
		return cl
	}
}

// connect dials the feed and writes one subscribe frame per channel.
// The feed acks subscriptions in-band; a failed subscribe write counts
// as a handshake failure.
func (m *Manager) connect(ctx context.Context, sub Subscription) (Client, error) {
	cl := NewClient(ClientConfig{
		URL:            m.cfg.URL,
		APIKey:         m.cfg.APIKey,
		ReadTimeout:    m.cfg.ReadTimeout,
		WriteTimeout:   m.cfg.WriteTimeout,
		MaxMessageSize: m.cfg.MaxMessageSize,
		BufferSize:     m.cfg.BufferSize,
	}, m.logger)

	if err := cl.Connect(ctx); err != nil {
		return nil, err
	}

	for _, channel := range sub.Channels {
		req := subscribeRequest{
			Type:       "subscribe",
			ProductIDs: sub.ProductIDs,
			Channel:    channel,
		}
		data, err := json.Marshal(req)
		if err != nil {
			cl.Close()
			return nil, fmt.Errorf("encode subscribe %s: %w", channel, err)
		}
		if err := cl.Send(data); err != nil {
			cl.Close()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	return cl, nil
}

// receive processes inbound frames until the socket fails or shutdown
// is observed.
func (m *Manager) receive(ctx context.Context, cl Client) {
	for {
		select {
		case <-m.shutdown.Done():
			return

		case <-ctx.Done():
			return

		case err := <-cl.Errors():
			m.reportError(err)
			m.logger.Warn("socket error", "error", err)
			return

		case msg, ok := <-cl.Messages():
			if !ok {
				return
			}
			m.handleFrame(msg)
		}
	}
}

// handleFrame parses one frame and dispatches its records in order. A
// malformed frame is counted and skipped; records normalized before the
// failure are still dispatched. The connection stays open either way.
func (m *Manager) handleFrame(msg TimestampedMessage) {
	records, err := DecodeFrame(msg.Data)

	for _, rec := range records {
		if m.OnRecord != nil {
			m.OnRecord(rec, msg.ReceivedAt)
		}
	}

	if err != nil {
		m.reportError(err)
		m.logger.Error("malformed frame skipped", "error", err)
	}
}

// drain closes the socket and parks the manager in its terminal state.
func (m *Manager) drain() {
	m.setState(StateDraining)
	m.CloseSocket()
	m.setState(StateClosed)
	m.logger.Info("feed manager stopped")
}

func (m *Manager) setClient(cl Client) {
	m.clientMu.Lock()
	m.client = cl
	m.clientMu.Unlock()
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		m.logger.Debug("state transition", "from", old.String(), "to", s.String())
	}
}

func (m *Manager) stopping(ctx context.Context) bool {
	return m.shutdown.IsSet() || ctx.Err() != nil
}

// sleep waits for the given delay. Returns false if shutdown or context
// cancellation interrupted the wait.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-m.shutdown.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) reportError(err error) {
	if m.OnError != nil {
		m.OnError(err)
	}
}

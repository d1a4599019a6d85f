package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfeed/coinbase-ingest/internal/feed"
	"github.com/quantfeed/coinbase-ingest/internal/metrics"
	"github.com/quantfeed/coinbase-ingest/internal/model"
)

// Publisher is the broker capability the orchestrator drives. The
// concrete client owns its own connection and batching internals.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, rec model.CandleRecord) error
	Close() error
}

// Config configures the orchestrator.
type Config struct {
	BrokerEnabled bool
	Subscription  feed.Subscription
}

// Service wires the Connection Manager's record callback to the three
// sinks and coordinates startup and shutdown.
type Service struct {
	cfg       Config
	manager   *feed.Manager
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	shutdown        *feed.ShutdownSignal
	stopOnce        sync.Once
	brokerConnected atomic.Bool
}

// NewService creates the orchestrator and wires the manager callbacks.
// The shutdown signal must be the one the manager observes.
func NewService(
	cfg Config,
	manager *feed.Manager,
	publisher Publisher,
	m *metrics.Metrics,
	shutdown *feed.ShutdownSignal,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		manager:   manager,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		shutdown:  shutdown,
	}

	manager.OnRecord = s.HandleRecord
	manager.OnError = func(error) { m.ConnectionErrors.Inc() }

	return s
}

// Start connects the broker publisher. With broker integration enabled
// a connect failure is fatal; disabled, this is a no-op.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.BrokerEnabled {
		s.logger.Info("broker integration disabled, skipping connection")
		return nil
	}

	if err := s.publisher.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	s.brokerConnected.Store(true)
	return nil
}

// Run executes the Connection Manager's blocking loop. It returns when
// the manager reaches Closed; ErrConnectExhausted propagates as fatal.
func (s *Service) Run(ctx context.Context) error {
	return s.manager.Run(ctx, s.cfg.Subscription)
}

// Stop tears the pipeline down: shutdown signal, broker disconnect,
// socket close. Every release step runs even if an earlier one fails;
// failures are logged, never propagated. Idempotent.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown")

		s.shutdown.Set()

		if s.brokerConnected.Load() {
			if err := s.publisher.Close(); err != nil {
				s.logger.Error("error disconnecting broker", "error", err)
			}
			s.brokerConnected.Store(false)
		}

		s.manager.CloseSocket()

		s.logger.Info("shutdown complete")
	})
}

// HandleRecord dispatches one candle record to the three sinks. It runs
// synchronously on the receive loop, so the publish is submitted
// fire-and-forget. A publish failure is logged and counted, never
// escalated.
//
// receivedAt is when the carrying frame was read off the socket; the
// processing-time histogram covers socket read through decode and
// dispatch up to the metrics update.
func (s *Service) HandleRecord(rec model.CandleRecord, receivedAt time.Time) {
	payload := rec.Payload()

	// Metrics for a record happen-before its log and publish.
	s.metrics.RecordMessage(rec.Symbol, time.Since(receivedAt))

	s.logger.Info("candle",
		"event_time", payload.EventTime,
		"symbol", payload.Symbol,
		"open_price", payload.OpenPrice,
		"high_price", payload.HighPrice,
		"low_price", payload.LowPrice,
		"close_price", payload.ClosePrice,
		"volume", payload.Volume,
		"start_time", payload.StartTime,
	)

	// No new submissions once shutdown is signaled; in-flight batches
	// finish or are abandoned by the publisher's close.
	if s.cfg.BrokerEnabled && !s.shutdown.IsSet() {
		if err := s.publisher.Publish(context.Background(), rec); err != nil {
			s.metrics.PublishErrors.Inc()
			s.logger.Error("publish failed", "symbol", rec.Symbol, "error", err)
		}
	}
}

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quantfeed/coinbase-ingest/internal/model"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected to broker")
	ErrAlreadyClosed = errors.New("publisher already closed")
)

// Config configures the Kafka publisher.
type Config struct {
	BootstrapServers string // Comma-separated host:port list
	Topic            string
	ClientID         string
}

// Publisher is an async Kafka producer for candle records. Messages are
// keyed by symbol; batching and retries are the writer's concern.
type Publisher struct {
	cfg    Config
	logger *slog.Logger

	// onError observes delivery failures from the completion callback.
	// Optional.
	onError func(error)

	mu        sync.Mutex
	writer    *kafka.Writer
	connected bool
	closed    bool
}

// NewPublisher creates a publisher. onError may be nil.
func NewPublisher(cfg Config, onError func(error), logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:     cfg,
		logger:  logger,
		onError: onError,
	}
}

// Connect verifies the bootstrap address is reachable and sets up the
// async writer. When broker integration is enabled the caller treats a
// failure here as fatal.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrAlreadyClosed
	}
	if p.connected {
		return nil
	}

	addrs := strings.Split(p.cfg.BootstrapServers, ",")
	for i, a := range addrs {
		addrs[i] = strings.TrimSpace(a)
	}

	// The writer dials lazily, so probe one bootstrap address up front
	// to fail fast at startup.
	var dialErr error
	for _, addr := range addrs {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			dialErr = err
			continue
		}
		conn.Close()
		dialErr = nil
		break
	}
	if dialErr != nil {
		return fmt.Errorf("dial broker %s: %w", p.cfg.BootstrapServers, dialErr)
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        p.cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 500 * time.Millisecond,
		Async:        true,
		Completion:   p.complete,
		Transport:    &kafka.Transport{ClientID: p.cfg.ClientID},
	}
	p.connected = true

	p.logger.Info("connected to broker",
		"servers", p.cfg.BootstrapServers,
		"topic", p.cfg.Topic,
	)
	return nil
}

// Publish submits one record for delivery and returns without waiting
// for the broker. Delivery errors surface via the completion callback.
func (p *Publisher) Publish(ctx context.Context, rec model.CandleRecord) error {
	p.mu.Lock()
	writer := p.writer
	connected := p.connected
	p.mu.Unlock()

	if !connected || writer == nil {
		return ErrNotConnected
	}

	value, err := encodePayload(rec, time.Now())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Symbol),
		Value: value,
	})
}

// Close flushes pending messages and releases the writer. Idempotent;
// shutdown must complete regardless, so the close error is returned for
// logging only.
func (p *Publisher) Close() error {
	p.mu.Lock()
	writer := p.writer
	p.writer = nil
	p.connected = false
	alreadyClosed := p.closed
	p.closed = true
	p.mu.Unlock()

	if alreadyClosed || writer == nil {
		return nil
	}

	err := writer.Close()
	p.logger.Info("disconnected from broker", "topic", p.cfg.Topic)
	return err
}

// complete observes async delivery results.
func (p *Publisher) complete(messages []kafka.Message, err error) {
	if err == nil {
		p.logger.Debug("published batch", "count", len(messages))
		return
	}

	p.logger.Error("broker publish failed",
		"count", len(messages),
		"error", err,
	)
	if p.onError != nil {
		// One submission failed per message in the batch.
		for range messages {
			p.onError(err)
		}
	}
}

// encodePayload builds the published JSON, stamping the submit time
// when the payload carries none.
func encodePayload(rec model.CandleRecord, now time.Time) ([]byte, error) {
	payload := rec.Payload()
	if payload.Timestamp == "" {
		payload.Timestamp = now.UTC().Format(time.RFC3339)
	}
	return json.Marshal(payload)
}

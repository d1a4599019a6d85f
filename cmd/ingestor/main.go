package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/quantfeed/coinbase-ingest/internal/broker"
	"github.com/quantfeed/coinbase-ingest/internal/config"
	"github.com/quantfeed/coinbase-ingest/internal/feed"
	"github.com/quantfeed/coinbase-ingest/internal/health"
	"github.com/quantfeed/coinbase-ingest/internal/ingest"
	"github.com/quantfeed/coinbase-ingest/internal/metrics"
	"github.com/quantfeed/coinbase-ingest/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/ingestor.yaml", "path to config file")
	flag.Parse()

	// Load configuration first so the log level honors it.
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting ingestor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	redacted := cfg.Redacted()
	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Feed.WSURL,
		"products", cfg.Feed.ProductIDs,
		"channels", cfg.Feed.Channels,
		"kafka_enabled", cfg.Kafka.Enabled,
		"kafka_topic", redacted.Kafka.Topic,
		"metrics_port", cfg.Metrics.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	shutdown := feed.NewShutdownSignal()

	mgrCfg := feed.DefaultManagerConfig()
	mgrCfg.URL = cfg.Feed.WSURL
	mgrCfg.APIKey = cfg.Feed.APIKey
	mgrCfg.ReadTimeout = cfg.Feed.SocketTimeout
	mgrCfg.MaxMessageSize = cfg.Feed.MaxMessageSize
	mgrCfg.ReconnectDelay = cfg.Feed.ReconnectDelay
	mgrCfg.ReconnectBaseDelay = cfg.Feed.ReconnectBaseDelay
	mgrCfg.ReconnectMaxDelay = cfg.Feed.ReconnectMaxDelay
	mgrCfg.MaxConnectAttempts = cfg.Feed.MaxConnectAttempts

	mgr := feed.NewManager(mgrCfg, shutdown, logger)

	pub := broker.NewPublisher(broker.Config{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		Topic:            cfg.Kafka.Topic,
		ClientID:         cfg.Kafka.ClientID,
	}, func(error) { m.PublishErrors.Inc() }, logger)

	svc := ingest.NewService(ingest.Config{
		BrokerEnabled: cfg.Kafka.Enabled,
		Subscription: feed.Subscription{
			ProductIDs: cfg.Feed.ProductIDs,
			Channels:   cfg.Feed.Channels,
		},
	}, mgr, pub, m, shutdown, logger)

	if err := svc.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	healthServer := health.NewServer(health.Config{
		Port:        cfg.Metrics.Port,
		MetricsPath: cfg.Metrics.Path,
	}, m, reg, logger)

	// The signal handler only requests shutdown; the release sequence
	// runs in the supervisor below, exactly once.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	// Supervisor: on cancellation from any source, release everything
	// and stop the health server.
	go func() {
		<-ctx.Done()
		svc.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server shutdown error", "error", err)
		}
	}()

	g := new(errgroup.Group)

	g.Go(func() error {
		defer cancel()
		return svc.Run(ctx)
	})

	g.Go(func() error {
		return healthServer.ListenAndServe()
	})

	err = g.Wait()
	svc.Stop()

	if err != nil {
		if errors.Is(err, feed.ErrConnectExhausted) {
			logger.Error("initial connection attempts exhausted", "error", err)
		} else {
			logger.Error("ingestor failed", "error", err)
		}
		return 1
	}

	logger.Info("ingestor stopped")
	return 0
}

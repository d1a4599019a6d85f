package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultFreshness is how recently a record must have arrived for
	// the feed to count as live.
	DefaultFreshness = 60 * time.Second

	// DefaultStartupGrace covers the window after boot during which a
	// silent feed is still healthy: the first candle can legitimately
	// take minutes to arrive.
	DefaultStartupGrace = 5 * time.Minute
)

// RecordSource reports when the pipeline last processed a record. The
// second return is false when no record has ever been seen.
type RecordSource interface {
	LastMessage() (time.Time, bool)
}

// Config configures the operational HTTP server.
type Config struct {
	Port        int
	MetricsPath string

	Freshness    time.Duration // Zero means DefaultFreshness
	StartupGrace time.Duration // Zero means DefaultStartupGrace
}

// Server exposes GET /health and the metrics endpoint.
type Server struct {
	cfg    Config
	source RecordSource
	logger *slog.Logger
	srv    *http.Server

	bootedAt time.Time
	now      func() time.Time
}

// NewServer creates the operational HTTP server. The registry must be
// the one the pipeline's metrics are registered with.
func NewServer(cfg Config, source RecordSource, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = DefaultStartupGrace
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		bootedAt: time.Now(),
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}))

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// ListenAndServe blocks serving HTTP until Shutdown. A closed server
// returns nil rather than http.ErrServerClosed.
func (s *Server) ListenAndServe() error {
	s.logger.Info("health server listening", "addr", s.srv.Addr, "metrics_path", s.cfg.MetricsPath)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Fail open: a fault in the verdict itself must not look like a
	// stalled feed to the orchestrator probing us.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("health check panicked", "panic", rec)
			writeVerdict(w, true)
		}
	}()

	writeVerdict(w, s.healthy())
}

// healthy reports whether the feed is live: a record within the
// freshness window, or no stall evidence yet inside the startup grace
// period.
func (s *Server) healthy() bool {
	now := s.now()
	last, ok := s.source.LastMessage()

	if ok && now.Sub(last) < s.cfg.Freshness {
		return true
	}
	return now.Sub(s.bootedAt) < s.cfg.StartupGrace
}

func writeVerdict(w http.ResponseWriter, healthy bool) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if healthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, "unhealthy")
}

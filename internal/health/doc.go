// Package health serves the operational HTTP surface: a liveness
// endpoint driven by feed freshness and the Prometheus metrics
// exposition endpoint.
//
// The health verdict is fail-open. A stalled feed reports unhealthy,
// but an internal fault while computing the verdict reports healthy so
// that an ingestor bug cannot trigger a restart loop.
package health

// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Messages processed, total and per symbol
//   - Connection and parse error counts
//   - Per-record processing time distribution
//   - Last-message timestamp (drives the health check)
//
// The component is explicitly constructed against a caller-supplied
// registerer rather than the process-global default registry, so tests
// get isolated registries.
package metrics

// Package ingest implements the Ingestion Orchestrator.
//
// The orchestrator is the only component that talks to both the
// Connection Manager and the broker publisher: it wires the per-record
// callback to the log, metrics, and publish sinks, owns the shutdown
// signal, and coordinates draining on stop.
package ingest

package feed

import "sync"

// ShutdownSignal is the single cancellation primitive of the pipeline:
// a set-once, multi-reader flag. The Ingestion Orchestrator constructs
// and owns it; the Connection Manager only observes it (RequestStop
// sets it on the orchestrator's behalf).
type ShutdownSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewShutdownSignal returns an unset signal.
func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{ch: make(chan struct{})}
}

// Set marks the signal. Safe to call from any goroutine, any number of
// times; only the first call has an effect. Never resets.
func (s *ShutdownSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been set.
func (s *ShutdownSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the signal is set.
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.ch
}

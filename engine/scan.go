package engine

import (
	"sync"

	"simfinder/types"
)

// State is the lifecycle state of the engine or of one scan
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Terminal reports whether the state ends a scan
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Scan is the handle of one running or finished scan. Snapshots arrive on
// Results in batch order; the channel is closed once the scan reaches its
// single terminal state.
type Scan struct {
	id      string
	results chan types.SimilarityResult
	done    chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func newScan(id string, batches int) *Scan {
	// one slot per snapshot so the batch loop never waits on the reader
	return &Scan{
		id:      id,
		results: make(chan types.SimilarityResult, max(batches, 1)),
		done:    make(chan struct{}),
		state:   StateRunning,
	}
}

// ID returns the scan identifier stamped on every snapshot
func (s *Scan) ID() string {
	return s.id
}

// Results streams the per-batch snapshots
func (s *Scan) Results() <-chan types.SimilarityResult {
	return s.results
}

// Done is closed when the scan reaches a terminal state
func (s *Scan) Done() <-chan struct{} {
	return s.done
}

// State returns the current state
func (s *Scan) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until the scan ends and returns its terminal state. The error
// is set only for StateFailed.
func (s *Scan) Wait() (State, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// finish records the terminal state exactly once
func (s *Scan) finish(state State, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = state
	s.err = err
	close(s.results)
	return true
}

package aparrow

import (
	"sync/atomic"
)

// LoopState represents the current state of an event loop.
//
// State Machine:
//
//	StateAwake (0) → StateRunning        [loop goroutine enters run]
//	StateRunning → StateSleeping         [blocked waiting for work]
//	StateSleeping → StateRunning         [work posted]
//	StateRunning → StatePaused           [SetRun(false) work item]
//	StatePaused → StateRunning           [SetRun(true)]
//	any → StateTerminated                [DeleteLater drain complete]
//
// The state is advisory: it is maintained for introspection and tests,
// and never gates a transition by itself.
type LoopState uint64

const (
	// StateAwake indicates the loop has been created but its goroutine has
	// not started processing yet.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is actively draining work.
	StateRunning
	// StateSleeping indicates the loop is blocked waiting for work.
	StateSleeping
	// StatePaused indicates the loop is held by SetRun(false).
	StatePaused
	// StateTerminated indicates the loop goroutine has exited.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StatePaused:
		return "Paused"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state word with cache-line padding to prevent
// false sharing with the loop's queue fields.
type loopState struct {
	_ [64]byte
	v atomic.Uint64
	_ [56]byte
}

func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

func (s *loopState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically move from one state to another.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

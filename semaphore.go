package aparrow

import (
	"sync"
	"time"
)

// Semaphore is a counted semaphore with a timed wait.
//
// The value counts pending permits; Post increments it and wakes waiters,
// Wait blocks until a permit is available and consumes it. The event loop
// uses the value as "number of queued work items".
//
// The zero value is a semaphore with no permits. A Semaphore must not be
// copied after first use.
type Semaphore struct {
	mu    sync.Mutex
	value int
	gate  chan struct{}
}

// gateLocked returns the broadcast channel waiters park on, creating it on
// demand. Caller must hold mu.
func (s *Semaphore) gateLocked() chan struct{} {
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
	return s.gate
}

// Post adds one permit and wakes all current waiters.
func (s *Semaphore) Post() {
	s.mu.Lock()
	s.value++
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
}

// Wait blocks until a permit is available, then consumes it.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	for s.value == 0 {
		gate := s.gateLocked()
		s.mu.Unlock()
		<-gate
		s.mu.Lock()
	}
	s.value--
	s.mu.Unlock()
}

// TryWait consumes a permit if one is available, without blocking.
func (s *Semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// WaitFor waits up to d for a permit. It reports whether a permit was
// consumed; on timeout the value is left untouched.
func (s *Semaphore) WaitFor(d time.Duration) bool {
	deadline := time.Now().Add(d)
	s.mu.Lock()
	for s.value == 0 {
		remain := time.Until(deadline)
		if remain <= 0 {
			s.mu.Unlock()
			return false
		}
		gate := s.gateLocked()
		s.mu.Unlock()

		t := time.NewTimer(remain)
		select {
		case <-gate:
			t.Stop()
		case <-t.C:
			// Timed out while parked; take a last look in case a Post
			// raced the timer.
			s.mu.Lock()
			if s.value > 0 {
				s.value--
				s.mu.Unlock()
				return true
			}
			s.mu.Unlock()
			return false
		}
		s.mu.Lock()
	}
	s.value--
	s.mu.Unlock()
	return true
}

package aparrow

import (
	"runtime"
	"sync/atomic"
)

// SpinMutex is a busy-waiting mutual exclusion lock.
//
// It is intended for the runtime's very short critical sections (queue
// push/pop, liveness checks) where parking the goroutine would cost more
// than the spin. The holder must never block while the lock is held.
//
// The zero value is an unlocked mutex. A SpinMutex must not be copied
// after first use.
type SpinMutex struct {
	_ [0]func() // prevent copying
	v atomic.Uint32
}

// Lock acquires the mutex, spinning until it is available.
// The scheduler is yielded periodically to avoid starving the holder.
func (m *SpinMutex) Lock() {
	for i := 0; !m.v.CompareAndSwap(0, 1); i++ {
		if i&63 == 63 {
			runtime.Gosched()
		}
	}
}

// TryLock attempts to acquire the mutex without spinning.
func (m *SpinMutex) TryLock() bool {
	return m.v.CompareAndSwap(0, 1)
}

// Unlock releases the mutex. It must only be called by the holder.
func (m *SpinMutex) Unlock() {
	m.v.Store(0)
}

package aparrow

import (
	"fmt"
	"runtime"
)

// The coroutine pool is a process-wide set of Coroutines sharing incoming
// work. Each member carries a workSize score; new work goes to the member
// with the smallest score. Scores are seeded with a tiny per-member
// epsilon so that ties resolve in original insertion order.

var (
	poolMu        SpinMutex
	poolSize      = runtime.NumCPU()
	poolStackSize = 0
	poolMembers   []*poolMember
)

type poolMember struct {
	co       *Coroutine
	workSize float64
}

// SetPoolSize grows the pool to the given size. Shrinking is not
// supported; a smaller value only changes the configured size.
func SetPoolSize(size int) {
	poolMu.Lock()
	defer poolMu.Unlock()
	poolSize = size
	growPool(size)
}

// PoolSize returns the configured pool size.
func PoolSize() int {
	poolMu.Lock()
	defer poolMu.Unlock()
	return poolSize
}

// SetPoolStackSize sets the reserved stack size for pool contexts; zero
// keeps each member's default.
func SetPoolStackSize(size int) {
	poolMu.Lock()
	defer poolMu.Unlock()
	poolStackSize = size
}

// PoolStackSize returns the configured pool stack size.
func PoolStackSize() int {
	poolMu.Lock()
	defer poolMu.Unlock()
	return poolStackSize
}

// growPool spawns members until the pool has at least size of them.
// Caller holds poolMu.
func growPool(size int) {
	for i := len(poolMembers); i < size; i++ {
		co := NewCoroutine(fmt.Sprintf("aparrow.co.pool%d", i))
		poolMembers = append(poolMembers, &poolMember{
			co:       co,
			workSize: float64(i) * 0.000001,
		})
	}
}

// leastLoaded returns the member with the smallest workSize. Caller holds
// poolMu; the pool is non-empty.
func leastLoaded() *poolMember {
	m := poolMembers[0]
	for _, cand := range poolMembers[1:] {
		if cand.workSize < m.workSize {
			m = cand
		}
	}
	return m
}

// CoroutineWork launches fn as a Context on the least-loaded pool member.
// The member's score is incremented and decremented again when the
// Context completes.
func CoroutineWork(fn WorkFunc, stackSize int, pri Priority) (*Coroutine, *Context) {
	poolMu.Lock()
	growPool(poolSize)
	if stackSize == 0 {
		stackSize = poolStackSize
	}

	m := leastLoaded()
	ctx := m.co.Work(fn, stackSize, pri)
	m.workSize += 1

	_, _ = Connect(ctx, &ctx.SignalComplete, func(Void) {
		poolMu.Lock()
		m.workSize -= 1
		poolMu.Unlock()
	})
	poolMu.Unlock()

	return m.co, ctx
}

// LoopWork enqueues fn directly onto the least-loaded member's Loop,
// without a new Context. The score is incremented and a decrement hook is
// posted behind the work item.
func LoopWork(fn WorkFunc, pri Priority) {
	poolMu.Lock()
	growPool(poolSize)

	m := leastLoaded()
	m.co.Loop().WorkAt(fn, pri)
	m.workSize += 1

	m.co.Loop().Work(func() {
		poolMu.Lock()
		m.workSize -= 1
		poolMu.Unlock()
	})
	poolMu.Unlock()
}

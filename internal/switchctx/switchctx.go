// Package switchctx supplies the resumable-context primitive the
// coroutine scheduler is built on: Make produces a context handle, Jump
// transfers control to a handle and parks the caller until control is
// transferred back, Finish transfers control without parking.
//
// On CPUs this primitive is a stack switch written in assembly. This
// package is the portable Go rendition: every handle wraps a goroutine
// parked on a handoff channel, and exactly one side of any handoff is
// runnable at a time, which preserves the single-flow-of-control contract
// the scheduler depends on.
package switchctx

import (
	"runtime"
	"sync"
)

// Handle is a resumable context.
type Handle struct {
	ch chan From
}

// From is the result of a control transfer: the handle that can resume
// the transferring side, plus an optional payload pointer (non-nil only
// on a context's first activation).
type From struct {
	Context *Handle
	Ptr     any
}

var (
	mu      sync.Mutex
	current = make(map[uint64]*Handle)
)

// self returns the calling goroutine's handle, creating one on first use
// so plain goroutines (e.g. a scheduler loop) can act as jump targets.
func self() *Handle {
	id := goroutineID()
	mu.Lock()
	h := current[id]
	if h == nil {
		h = &Handle{ch: make(chan From)}
		current[id] = h
	}
	mu.Unlock()
	return h
}

// Make allocates a context whose goroutine stays parked until the first
// Jump to it. The entry function receives the From of that first Jump; it
// must hand control back via Finish before returning, or the process
// deadlocks (matching the contract of the CPU primitive, where an entry
// that returns without jumping aborts).
func Make(entry func(From)) *Handle {
	h := &Handle{ch: make(chan From)}
	go func() {
		from := <-h.ch
		id := goroutineID()
		mu.Lock()
		current[id] = h
		mu.Unlock()

		entry(from)

		mu.Lock()
		delete(current, id)
		mu.Unlock()
	}()
	return h
}

// Jump transfers control to target and parks the caller. It returns when
// some context jumps back, carrying the handle able to resume that
// context.
func Jump(target *Handle, ptr any) From {
	cur := self()
	target.ch <- From{Context: cur, Ptr: ptr}
	return <-cur.ch
}

// Finish transfers control to target without parking the caller. The
// calling goroutine must return immediately afterwards; its handle is no
// longer a valid jump target.
func Finish(target *Handle, ptr any) {
	target.ch <- From{Ptr: ptr}
}

// goroutineID parses the goroutine id from the stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

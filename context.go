package aparrow

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/forKnowYou/aparrow-event/internal/switchctx"
)

// ContextID identifies a [Context]. IDs are process-wide and
// monotonically increasing.
type ContextID uint64

var contextIDCounter atomic.Uint64

// stackOverflowMark is written into the final 4 bytes of every context's
// reserved stack buffer; StackOverflowCheck reports any context whose
// mark has been clobbered.
const stackOverflowMark = 0x55aaaa55

// Context is a stackful fiber scheduled by a [Coroutine]. Exactly one
// goroutine may be executing inside a given Context at a time.
//
// A Context executes on a goroutine whose stack grows on demand; the
// reserved stack buffer exists to carry the configured size and the
// overflow sentinel for diagnostics parity with fixed-stack deployments.
type Context struct {
	Object

	id    ContextID
	stack []byte
	work  WorkFunc
	pri   Priority

	// alive / firstRun / running are owned by the scheduler goroutine,
	// except alive which join readers access under mu.
	alive    bool
	firstRun bool
	running  bool
	mu       SpinMutex

	// done/completeCond wake non-coroutine joiners.
	completeMu   sync.Mutex
	completeCond *sync.Cond
	done         bool

	handle *switchctx.Handle
	from   switchctx.From

	// SignalComplete is emitted on the owning Coroutine's Loop when the
	// work closure returns.
	SignalComplete Signal[Void]
}

// ID returns the context's identity.
func (c *Context) ID() ContextID { return c.id }

// Priority returns the priority the context is scheduled at.
func (c *Context) Priority() Priority { return c.pri }

// StackSize returns the reserved stack size.
func (c *Context) StackSize() int { return len(c.stack) }

// Completed reports whether the work closure has returned.
func (c *Context) Completed() bool {
	c.completeMu.Lock()
	v := c.done
	c.completeMu.Unlock()
	return v
}

// liveContexts tracks every context currently executing its work closure,
// for the stack-overflow sentinel scan.
var (
	liveContextsMu SpinMutex
	liveContexts   = make(map[*Context]struct{})
)

func addLiveContext(c *Context) {
	liveContextsMu.Lock()
	liveContexts[c] = struct{}{}
	liveContextsMu.Unlock()
}

func removeLiveContext(c *Context) {
	liveContextsMu.Lock()
	delete(liveContexts, c)
	liveContextsMu.Unlock()
}

// StackOverflowCheck scans all live contexts for a clobbered stack
// sentinel. It reports the owning Loop's name and the stack size of the
// first offender found.
func StackOverflowCheck() (loopName string, stackSize int, overflowed bool) {
	liveContextsMu.Lock()
	defer liveContextsMu.Unlock()
	for c := range liveContexts {
		if binary.LittleEndian.Uint32(c.stack[len(c.stack)-4:]) == stackOverflowMark {
			continue
		}
		return c.Loop().Name(), len(c.stack), true
	}
	return "", 0, false
}

// newContext allocates a context for the given work closure. The caller
// (Coroutine.Work) establishes the Object identity and loop affinity.
func newContext(co *Coroutine, work WorkFunc, stackSize int, pri Priority) *Context {
	c := &Context{
		id:       ContextID(contextIDCounter.Add(1)),
		stack:    make([]byte, stackSize),
		work:     work,
		pri:      pri,
		alive:    true,
		firstRun: true,
		running:  true,
	}
	binary.LittleEndian.PutUint32(c.stack[stackSize-4:], stackOverflowMark)
	c.completeCond = sync.NewCond(&c.completeMu)
	c.handle = switchctx.Make(func(from switchctx.From) {
		co.contextEntry(c, from)
	})
	return c
}

package aparrow

import (
	"container/heap"
	"runtime"
	"sync"
	"time"

	"github.com/forKnowYou/aparrow-event/internal/switchctx"
)

// DefaultStackSize is the reserved stack size for a Context unless the
// Coroutine or the Work call overrides it.
const DefaultStackSize = 64 * 1024

// contextItem orders runnable contexts: priority ascending, insertion
// order within a priority.
type contextItem struct {
	pri Priority
	seq uint64
	ctx *Context
}

type contextQueue []contextItem

func (q contextQueue) Len() int { return len(q) }
func (q contextQueue) Less(i, j int) bool {
	if q[i].pri != q[j].pri {
		return q[i].pri < q[j].pri
	}
	return q[i].seq < q[j].seq
}
func (q contextQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *contextQueue) Push(x any) { *q = append(*q, x.(contextItem)) }

func (q *contextQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	old[n-1] = contextItem{}
	*q = old[:n-1]
	return x
}

// Coroutine owns one [Loop] and cooperatively schedules [Context] fibers
// on it. At most one Context of a Coroutine executes at a time; all
// suspension is explicit ([Yield], [Pending], [YieldFor], [Coroutine.Join]
// from inside a fiber).
type Coroutine struct {
	_ [0]func() // prevent copying

	loop      *Loop
	stackSize int

	// Scheduler state, touched only on the Coroutine's Loop goroutine
	// (or the fiber currently running on its behalf).
	running    contextQueue
	runningSeq uint64
	contexts   map[*Context]struct{}
	current    *Context
	terminate  bool
}

var (
	coRegistryMu SpinMutex
	coRegistry   = make(map[*Loop]*Coroutine)

	defaultCoOnce sync.Once
	defaultCo     *Coroutine
)

// NewCoroutine creates a Coroutine with its own Loop and starts the
// scheduler.
func NewCoroutine(name string) *Coroutine {
	co := &Coroutine{
		loop:      NewLoop(name),
		stackSize: DefaultStackSize,
		contexts:  make(map[*Context]struct{}),
	}

	coRegistryMu.Lock()
	coRegistry[co.loop] = co
	coRegistryMu.Unlock()

	co.loop.Work(co.run)
	return co
}

// DefaultCoroutine returns the process-wide default Coroutine, creating
// it on first use.
func DefaultCoroutine() *Coroutine {
	defaultCoOnce.Do(func() {
		defaultCo = NewCoroutine("aparrow.co.default")
	})
	return defaultCo
}

// CurrentCoroutine returns the Coroutine whose Loop owns the calling
// goroutine, or nil when called outside any Coroutine.
func CurrentCoroutine() *Coroutine {
	l := currentLoop()
	if l == nil {
		return nil
	}
	coRegistryMu.Lock()
	co := coRegistry[l]
	coRegistryMu.Unlock()
	return co
}

// Loop returns the Coroutine's Loop.
func (co *Coroutine) Loop() *Loop { return co.loop }

// SetStackSize sets the default reserved stack size for new contexts.
func (co *Coroutine) SetStackSize(s int) { co.stackSize = s }

// StackSize returns the default reserved stack size.
func (co *Coroutine) StackSize() int { return co.stackSize }

// SetRun pauses (false) or resumes (true) the Coroutine's Loop.
func (co *Coroutine) SetRun(run bool) { co.loop.SetRun(run) }

// WorkSetSize returns the number of contexts known to the scheduler,
// runnable or suspended.
func (co *Coroutine) WorkSetSize() int {
	var n int
	co.loop.WorkSync(func() {
		n = len(co.contexts)
	})
	return n
}

// Work launches fn as a new Context on the Coroutine. stackSize below the
// Coroutine's default is raised to it; pri orders the context against its
// siblings. The Context becomes runnable once the registration work item
// lands on the Coroutine's Loop.
func (co *Coroutine) Work(fn WorkFunc, stackSize int, pri Priority) *Context {
	if stackSize < co.stackSize {
		stackSize = co.stackSize
	}

	ctx := newContext(co, fn, stackSize, pri)
	ctx.Init()
	ctx.MoveToLoop(co.loop)

	co.loop.Work(func() {
		co.contexts[ctx] = struct{}{}
		co.pushRunning(ctx)
	})

	return ctx
}

// Resume marks a pending Context runnable again. It is posted to the
// Coroutine's Loop; a dead or already-running Context is left alone. When
// called from within a context of the same Coroutine, the caller
// additionally yields so the resumed Context has a chance to run.
func (co *Coroutine) Resume(ctx *Context) {
	co.loop.Work(func() {
		if _, ok := co.contexts[ctx]; !ok {
			return
		}
		ctx.mu.Lock()
		if !ctx.alive || ctx.running {
			ctx.mu.Unlock()
			return
		}
		ctx.running = true
		ctx.mu.Unlock()
		co.pushRunning(ctx)
	})

	if co == CurrentCoroutine() && co.current != nil {
		Yield()
	}
}

// Join waits for a Context to complete.
//
// From outside any Coroutine, the caller blocks on the Context's
// completion condition. From inside a Coroutine, a one-shot slot on the
// target's completion signal resumes the calling Context, which then
// parks via [Pending]. Joining an already-complete Context returns
// immediately.
func (co *Coroutine) Join(ctx *Context) {
	cur := CurrentCoroutine()
	if cur == nil {
		ctx.completeMu.Lock()
		for !ctx.done {
			ctx.completeCond.Wait()
		}
		ctx.completeMu.Unlock()
		return
	}

	caller := cur.current

	ctx.mu.Lock()
	if !ctx.alive {
		ctx.mu.Unlock()
		return
	}
	_, _ = Connect(ctx, &ctx.SignalComplete, func(Void) {
		cur.Resume(caller)
	})
	ctx.mu.Unlock()

	Pending()
}

// Pending parks the current Context without re-enqueueing it; some
// external party must [Coroutine.Resume] it later. Outside a Coroutine it
// degrades to a logged no-op.
func Pending() {
	co := CurrentCoroutine()
	if co == nil || co.current == nil {
		warnCoroutineMisuse("pending")
		return
	}
	ctx := co.current
	ctx.from = switchctx.Jump(ctx.from.Context, nil)
}

// Yield re-enqueues the current Context at its priority and hands control
// back to the scheduler. Outside a Coroutine it degrades to an OS-level
// yield.
func Yield() {
	co := CurrentCoroutine()
	if co == nil || co.current == nil {
		runtime.Gosched()
		return
	}
	ctx := co.current
	co.loop.Work(func() {
		co.pushRunning(ctx)
	})
	ctx.from = switchctx.Jump(ctx.from.Context, nil)
}

// YieldFor parks the current Context for at least d, using a one-shot
// timer to resume it. Outside a Coroutine it degrades to a logged no-op.
func YieldFor(d time.Duration) {
	co := CurrentCoroutine()
	if co == nil || co.current == nil {
		warnCoroutineMisuse("yield-for")
		return
	}
	ctx := co.current

	SetTimeout(d, func() {
		co.Resume(ctx)
	})

	Pending()
}

// DeleteLater shuts the Coroutine down: its Loop is torn down and the
// scheduler exits once remaining work has drained. Suspended contexts are
// abandoned.
func (co *Coroutine) DeleteLater() {
	coRegistryMu.Lock()
	delete(coRegistry, co.loop)
	coRegistryMu.Unlock()

	co.loop.Work(func() {
		co.terminate = true
	})
	co.loop.DeleteLater()
}

func (co *Coroutine) pushRunning(ctx *Context) {
	heap.Push(&co.running, contextItem{pri: ctx.pri, seq: co.runningSeq, ctx: ctx})
	co.runningSeq++
}

// run is the scheduler loop, itself a work item on the Coroutine's Loop.
func (co *Coroutine) run() {
	for !co.terminate {
		if len(co.running) == 0 {
			// Blocks until new work arrives: context registrations,
			// resumes and timer callbacks all land here.
			if err := co.loop.WaitProcess(); err != nil {
				return
			}
			continue
		}
		_ = co.loop.Process()

		if len(co.running) == 0 {
			continue
		}
		ctx := heap.Pop(&co.running).(contextItem).ctx
		co.current = ctx

		if ctx.firstRun {
			ctx.firstRun = false
			ctx.from = switchctx.Jump(ctx.handle, ctx)
		} else {
			ctx.from = switchctx.Jump(ctx.from.Context, nil)
		}

		ctx.mu.Lock()
		ctx.running = false
		alive := ctx.alive
		ctx.mu.Unlock()

		if !alive {
			delete(co.contexts, ctx)
		}
		co.current = nil
	}
}

// contextEntry is the body of every Context: it runs on the fiber's own
// goroutine, which masquerades as the Coroutine's Loop for the duration.
func (co *Coroutine) contextEntry(ctx *Context, from switchctx.From) {
	id := goroutineID()
	registerLoopGoroutine(id, co.loop)
	defer unregisterLoopGoroutine(id)

	addLiveContext(ctx)

	ctx.from = from
	ctx.work()

	ctx.mu.Lock()
	ctx.alive = false
	ctx.mu.Unlock()

	ctx.completeMu.Lock()
	ctx.done = true
	ctx.completeCond.Broadcast()
	ctx.completeMu.Unlock()

	// Land any join registration still queued on the loop: a joiner that
	// observed the context alive has already posted its connect setup, and
	// the completion emission below must see it.
	_ = co.loop.Process()

	ctx.SignalComplete.Dispatch(Void{})

	removeLiveContext(ctx)

	// The Context's Object dies with the work closure: tear down any
	// connections (join slots in particular) while still on the loop.
	ctx.Object.Destroy()

	switchctx.Finish(ctx.from.Context, nil)
}

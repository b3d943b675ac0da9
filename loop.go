package aparrow

import (
	"container/heap"
	"runtime"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// WorkFunc is a unit of work executed by a [Loop].
type WorkFunc func()

// Priority orders work within a Loop. Lower values run first.
type Priority uint32

// HighPriority is the fast-path priority class. Work posted at
// HighPriority goes through a dedicated MPSC ring that always drains
// before the priority queue, regardless of the queue's numeric contents.
const HighPriority Priority = 0

// workItem is a queued closure with its ordering key. seq breaks priority
// ties so that FIFO order holds within a single priority.
type workItem struct {
	pri Priority
	seq uint64
	fn  WorkFunc
}

type workQueue []workItem

func (q workQueue) Len() int { return len(q) }
func (q workQueue) Less(i, j int) bool {
	if q[i].pri != q[j].pri {
		return q[i].pri < q[j].pri
	}
	return q[i].seq < q[j].seq
}
func (q workQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *workQueue) Push(x any) { *q = append(*q, x.(workItem)) }

func (q *workQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	old[n-1] = workItem{}
	*q = old[:n-1]
	return x
}

// Loop serialises arbitrary closures on one goroutine, with two priority
// classes: a HighPriority MPSC ring and a priority-ordered queue for
// everything else.
//
// A Loop is the unit of execution affinity: Objects are pinned to exactly
// one Loop, and all mutation of an Object's connection sets happens on its
// Loop goroutine. The Loop goroutine is locked to an OS thread.
//
// Ordering guarantees: FIFO within a single priority; across priorities,
// smaller numeric value runs first; the HighPriority ring always precedes
// the priority queue. There is no ordering across Loops.
//
// Panics raised inside a work closure are not recovered; they unwind the
// loop goroutine. Callers that need isolation must wrap their closures.
type Loop struct {
	_ [0]func() // prevent copying

	name string

	// operateMu guards events, eventSeq and connSet. The HighPriority
	// ring handles its own synchronisation but producers push under this
	// lock too, serialising with the priority queue for WorkSync pairing.
	operateMu SpinMutex

	runSem    Semaphore // counts pending work items
	runStaSem Semaphore // pause gate for SetRun
	state     loopState

	sharedAlive *LoopAlive

	// connSet holds connections whose receiver side is this Loop, so that
	// DeleteLater can cascade their teardown.
	connSet mapset.Set[*Connection]

	highPri  *ringQueue[WorkFunc]
	events   workQueue
	eventSeq uint64

	terminate bool
	goid      uint64
	done      chan struct{}
}

var (
	loopRegistryMu SpinMutex
	loopRegistry   = make(map[uint64]*Loop)

	defaultLoopOnce sync.Once
	defaultLoop     *Loop
)

// registerLoopGoroutine maps a goroutine id to its executing Loop. Besides
// the loop goroutine itself, coroutine contexts running on behalf of a
// Loop register here so that [Current] resolves inside a fiber.
func registerLoopGoroutine(id uint64, l *Loop) {
	loopRegistryMu.Lock()
	loopRegistry[id] = l
	loopRegistryMu.Unlock()
}

func unregisterLoopGoroutine(id uint64) {
	loopRegistryMu.Lock()
	delete(loopRegistry, id)
	loopRegistryMu.Unlock()
}

// currentLoop returns the Loop registered for the calling goroutine, or
// nil if the goroutine does not belong to any Loop.
func currentLoop() *Loop {
	id := goroutineID()
	loopRegistryMu.Lock()
	l := loopRegistry[id]
	loopRegistryMu.Unlock()
	return l
}

// Current returns the Loop owning the calling goroutine. Goroutines that
// do not belong to any Loop are attributed to [Default].
func Current() *Loop {
	if l := currentLoop(); l != nil {
		return l
	}
	return Default()
}

// Default returns the process-wide default Loop, creating it on first use.
func Default() *Loop {
	defaultLoopOnce.Do(func() {
		defaultLoop = NewLoop("aparrow.default")
	})
	return defaultLoop
}

// NewLoop creates a Loop and starts its goroutine. The returned Loop is
// ready to accept work. Loops are shut down with [Loop.DeleteLater];
// there is no way to free one synchronously.
func NewLoop(name string) *Loop {
	if name == "" {
		name = "anonymous"
	}
	l := &Loop{
		name:    name,
		highPri: newRingQueue[WorkFunc](),
		connSet: mapset.NewThreadUnsafeSet[*Connection](),
		done:    make(chan struct{}),
	}
	l.sharedAlive = &LoopAlive{alive: true}

	started := make(chan struct{})
	go l.run(started)
	<-started

	logLoopEvent(l, "event loop started")
	return l
}

// run is the loop goroutine body.
func (l *Loop) run(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	id := goroutineID()
	l.goid = id
	registerLoopGoroutine(id, l)
	close(started)

	defer func() {
		unregisterLoopGoroutine(id)
		l.state.Store(StateTerminated)
		close(l.done)
		logLoopEvent(l, "event loop stopped")
	}()

	l.state.Store(StateRunning)
	for {
		l.operateMu.Lock()
		term := l.terminate
		l.operateMu.Unlock()
		if term {
			return
		}

		l.state.Store(StateSleeping)
		l.runSem.Wait()
		l.state.Store(StateRunning)

		l.processData()
	}
}

// Work enqueues fn at HighPriority. It never blocks the caller and wakes
// the loop. A nil fn is a no-op sentinel used during shutdown.
func (l *Loop) Work(fn WorkFunc) {
	l.WorkAt(fn, HighPriority)
}

// WorkAt enqueues fn at the given priority.
func (l *Loop) WorkAt(fn WorkFunc, pri Priority) {
	l.operateMu.Lock()
	l.workLocked(fn, pri)
	l.operateMu.Unlock()
}

// workLocked enqueues and posts the run semaphore. Caller holds operateMu.
func (l *Loop) workLocked(fn WorkFunc, pri Priority) {
	if pri == HighPriority {
		l.highPri.Push(fn)
	} else {
		heap.Push(&l.events, workItem{pri: pri, seq: l.eventSeq, fn: fn})
		l.eventSeq++
	}
	l.runSem.Post()
}

// WorkSync enqueues fn at HighPriority and blocks until it has run. If
// called from the Loop's own goroutine, pending work is drained and fn is
// invoked inline instead.
func (l *Loop) WorkSync(fn WorkFunc) {
	l.WorkSyncAt(fn, HighPriority)
}

// WorkSyncAt is [Loop.WorkSync] at an explicit priority. It returns only
// after all work previously enqueued at that priority has run.
func (l *Loop) WorkSyncAt(fn WorkFunc, pri Priority) {
	if Current() == l {
		_ = l.Process()
		fn()
		return
	}

	var sem Semaphore

	l.operateMu.Lock()
	l.workLocked(fn, pri)
	l.workLocked(sem.Post, pri)
	l.operateMu.Unlock()

	sem.Wait()
}

// SetRun controls event processing. SetRun(false) posts a work item that
// parks the Loop on its run-state semaphore; SetRun(true) releases it.
func (l *Loop) SetRun(run bool) {
	if run {
		l.runStaSem.Post()
		return
	}
	l.Work(func() {
		l.state.Store(StatePaused)
		l.runStaSem.Wait()
		l.state.Store(StateRunning)
	})
}

// WaitEvent blocks the calling goroutine until work is pending. It must
// be called from the Loop's own goroutine.
func (l *Loop) WaitEvent() error {
	if Current() != l {
		return ErrNotLoopGoroutine
	}
	l.runSem.Wait()
	return nil
}

// Process drains pending work without blocking. It returns immediately if
// there is none. It must be called from the Loop's own goroutine.
func (l *Loop) Process() error {
	if Current() != l {
		return ErrNotLoopGoroutine
	}
	if !l.runSem.TryWait() {
		return nil
	}
	l.processData()
	return nil
}

// WaitProcess blocks until work is pending, then drains it. It must be
// called from the Loop's own goroutine.
func (l *Loop) WaitProcess() error {
	if Current() != l {
		return ErrNotLoopGoroutine
	}
	l.runSem.Wait()
	l.processData()
	return nil
}

// processData drains queued work: the HighPriority ring always wins, then
// the smallest-priority queued item. All scratch state is stack-local so
// the drain is reentrant.
func (l *Loop) processData() {
	for {
		fn, ok := l.highPri.Pop()
		if !ok {
			l.operateMu.Lock()
			if len(l.events) == 0 {
				l.operateMu.Unlock()
				return
			}
			fn = heap.Pop(&l.events).(workItem).fn
			l.operateMu.Unlock()
		}

		if fn != nil {
			fn()
		}

		if !l.runSem.TryWait() {
			return
		}
	}
}

// QueueSize returns the number of items in the priority queue (the
// HighPriority ring is not counted).
func (l *Loop) QueueSize() int {
	l.operateMu.Lock()
	n := len(l.events)
	l.operateMu.Unlock()
	return n
}

// Name returns the Loop's name.
func (l *Loop) Name() string {
	return l.name
}

// State returns the Loop's advisory lifecycle state.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// SharedAlive returns the Loop's teardown witness.
func (l *Loop) SharedAlive() *LoopAlive {
	return l.sharedAlive
}

// Done returns a channel closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// AddSharedConnection registers a connection whose receiver side is this
// Loop, so teardown at Loop destruction can cascade.
func (l *Loop) AddSharedConnection(c *Connection) {
	l.operateMu.Lock()
	l.connSet.Add(c)
	l.operateMu.Unlock()
}

// RemoveSharedConnection removes a previously registered connection.
func (l *Loop) RemoveSharedConnection(c *Connection) {
	l.operateMu.Lock()
	l.connSet.Remove(c)
	l.operateMu.Unlock()
}

// DeleteLater shuts the Loop down: every registered connection is torn
// down, the loop-alive handle is invalidated, and the loop goroutine exits
// once remaining work has drained. Work posted after DeleteLater is not
// guaranteed to run.
func (l *Loop) DeleteLater() {
	l.operateMu.Lock()
	conns := l.connSet.ToSlice()
	l.connSet.Clear()
	l.operateMu.Unlock()

	// Teardown outside operateMu: a disconnect closure re-enters
	// RemoveSharedConnection on this same Loop.
	for _, c := range conns {
		c.invokeDisconnect()
	}

	l.sharedAlive.invalidate()

	l.operateMu.Lock()
	l.terminate = true
	l.operateMu.Unlock()

	l.SetRun(true)
	l.Work(nil)
}

// goroutineID returns the current goroutine's id, parsed from the stack
// header.
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

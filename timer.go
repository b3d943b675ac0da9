package aparrow

import (
	"container/heap"
	"sync"
	"time"
)

// timerIdleWait is the service thread's wait when no timer is armed.
const timerIdleWait = 666666 * time.Second

// timerStatus is the cell shared between a Timer and the service heap.
// gen invalidates stale heap entries: Stop and Start bump it, and the
// service ignores any entry whose generation no longer matches.
type timerStatus struct {
	mu         SpinMutex
	running    bool
	singleShot bool
	timeout    time.Duration
	lastEmit   time.Time
	gen        uint64
	timer      *Timer
}

type timerEntry struct {
	deadline time.Time
	seq      uint64
	gen      uint64
	status   *timerStatus
}

type timerQueue []timerEntry

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if !q[i].deadline.Equal(q[j].deadline) {
		return q[i].deadline.Before(q[j].deadline)
	}
	return q[i].seq < q[j].seq
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *timerQueue) Push(x any) { *q = append(*q, x.(timerEntry)) }

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	old[n-1] = timerEntry{}
	*q = old[:n-1]
	return x
}

var (
	timerSem         Semaphore
	timerMu          sync.Mutex
	timerHeap        timerQueue
	timerSeq         uint64
	timerServiceOnce sync.Once
)

// startTimerService launches the shared scheduling Loop on first use.
func startTimerService() {
	timerServiceOnce.Do(func() {
		l := NewLoop("aparrow.timer")
		l.Work(timerServiceLoop)
	})
}

// timerServiceLoop is the single scheduling pass: wait until the next
// deadline (or a wake from Start), pop everything due, emit through the
// signal graph, re-arm periodic timers.
func timerServiceLoop() {
	wait := timerIdleWait
	var ready []timerEntry

	for {
		timerSem.WaitFor(wait)

		now := time.Now()
		timerMu.Lock()
		for len(timerHeap) > 0 && !timerHeap[0].deadline.After(now) {
			ready = append(ready, heap.Pop(&timerHeap).(timerEntry))
		}
		timerMu.Unlock()

		for _, e := range ready {
			sts := e.status
			sts.mu.Lock()
			if sts.running && e.gen == sts.gen {
				sts.timer.SignalTimeout.Dispatch(Void{})

				if !sts.singleShot {
					n := time.Now()
					sts.lastEmit = n
					timerMu.Lock()
					heap.Push(&timerHeap, timerEntry{
						deadline: n.Add(sts.timeout),
						seq:      timerSeq,
						gen:      sts.gen,
						status:   sts,
					})
					timerSeq++
					timerMu.Unlock()
				}
			}
			sts.mu.Unlock()
		}
		ready = ready[:0]

		timerMu.Lock()
		if len(timerHeap) > 0 {
			wait = time.Until(timerHeap[0].deadline)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = timerIdleWait
		}
		timerMu.Unlock()
	}
}

// Timer delivers timeouts through the signal graph. Expiry emits
// SignalTimeout; slots dispatch on their owning Loops via the full signal
// machinery, so a Timer's consumers never run on the service thread
// unless they are affine to it.
//
// The zero Timer is not usable; construct with [NewTimer].
type Timer struct {
	Object

	// SignalTimeout is emitted on every expiry.
	SignalTimeout Signal[Void]

	status *timerStatus
}

// NewTimer creates a single-shot Timer (1s default timeout) on the
// current Loop.
func NewTimer() *Timer {
	startTimerService()

	t := &Timer{}
	t.Init()
	t.status = &timerStatus{
		singleShot: true,
		timeout:    time.Second,
	}
	t.status.timer = t
	return t
}

// Start arms the timer for d from now. A running timer is stopped first.
func (t *Timer) Start(d time.Duration) {
	t.Stop()

	t.status.mu.Lock()
	t.status.lastEmit = time.Now()
	t.status.running = true
	t.status.timeout = d
	t.status.gen++
	gen := t.status.gen
	deadline := t.status.lastEmit.Add(d)
	t.status.mu.Unlock()

	timerMu.Lock()
	heap.Push(&timerHeap, timerEntry{
		deadline: deadline,
		seq:      timerSeq,
		gen:      gen,
		status:   t.status,
	})
	timerSeq++
	timerMu.Unlock()

	timerSem.Post()
}

// Stop disarms the timer. The service skips any entry armed before the
// Stop.
func (t *Timer) Stop() {
	t.status.mu.Lock()
	t.status.running = false
	t.status.gen++
	t.status.mu.Unlock()
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	t.status.mu.Lock()
	v := t.status.running
	t.status.mu.Unlock()
	return v
}

// Timeout returns the configured interval.
func (t *Timer) Timeout() time.Duration {
	t.status.mu.Lock()
	v := t.status.timeout
	t.status.mu.Unlock()
	return v
}

// Remaining returns the time left until the next expiry, clamped at 0.
func (t *Timer) Remaining() time.Duration {
	t.status.mu.Lock()
	defer t.status.mu.Unlock()
	d := time.Until(t.status.lastEmit.Add(t.status.timeout))
	if d < 0 {
		return 0
	}
	return d
}

// SetSingleShot selects one-shot (true, the default) or periodic
// operation.
func (t *Timer) SetSingleShot(singleShot bool) {
	t.status.mu.Lock()
	t.status.singleShot = singleShot
	t.status.mu.Unlock()
}

// SingleShot reports the configured mode.
func (t *Timer) SingleShot() bool {
	t.status.mu.Lock()
	v := t.status.singleShot
	t.status.mu.Unlock()
	return v
}

// Destroy disarms the timer and tears down its Object.
func (t *Timer) Destroy() {
	t.Stop()
	t.Object.Destroy()
}

// SetTimeout arms a one-shot timer that invokes fn after d and then
// destroys itself. The returned Timer may be stopped early (stopping does
// not destroy it).
func SetTimeout(d time.Duration, fn func()) *Timer {
	t := NewTimer()

	_, _ = Connect(t, &t.SignalTimeout, func(Void) { fn() })
	_, _ = Connect(t, &t.SignalTimeout, func(Void) { t.Destroy() })

	t.Start(d)
	return t
}

// SetInterval arms a periodic timer invoking fn every d. The caller owns
// the Timer and must [Timer.Destroy] it when done.
func SetInterval(d time.Duration, fn func()) *Timer {
	t := NewTimer()

	_, _ = Connect(t, &t.SignalTimeout, func(Void) { fn() })

	t.SetSingleShot(false)
	t.Start(d)
	return t
}

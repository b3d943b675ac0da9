package aparrow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkFIFOWithinPriority(t *testing.T) {
	l := NewLoop("test.fifo")
	defer l.DeleteLater()

	const n = 100

	var mu sync.Mutex
	var got []int

	for i := 0; i < n; i++ {
		i := i
		l.WorkAt(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}, 1)
	}

	// Same-priority barrier: FIFO within the priority guarantees every
	// item above has run once this returns.
	l.WorkSyncAt(func() {}, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, got[i])
	}
}

func TestPriorityOrdering(t *testing.T) {
	l := NewLoop("test.priority")
	defer l.DeleteLater()

	// Hold the loop so everything below queues before anything runs.
	l.SetRun(false)
	require.Eventually(t, func() bool {
		return l.State() == StatePaused
	}, time.Second, time.Millisecond)

	var mu sync.Mutex
	var got []int
	record := func(v int) WorkFunc {
		return func() {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
	}

	l.WorkAt(record(3), 3)
	l.WorkAt(record(2), 2)
	l.WorkAt(record(1), 1)
	// Posted last, but the HighPriority ring always wins.
	l.Work(record(0))

	l.SetRun(true)
	l.WorkSyncAt(func() {}, 4)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestHighPriorityDoesNotPreemptCurrentItem(t *testing.T) {
	l := NewLoop("test.nopreempt")
	defer l.DeleteLater()

	var mu sync.Mutex
	var got []string
	record := func(v string) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}

	l.WorkAt(func() {
		record("low-start")
		// Enqueued mid-item: must not run until this item finishes, but
		// must beat the queued low item.
		l.Work(func() { record("high") })
		record("low-end")
	}, 1)
	l.WorkAt(func() { record("low-2") }, 1)

	l.WorkSyncAt(func() {}, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"low-start", "low-end", "high", "low-2"}, got)
}

func TestWorkSyncInlineOnOwnLoop(t *testing.T) {
	l := NewLoop("test.inline")
	defer l.DeleteLater()

	done := make(chan bool, 1)
	l.Work(func() {
		ran := false
		// On the loop's own goroutine WorkSync drains and invokes inline.
		l.WorkSync(func() { ran = true })
		done <- ran
	})

	select {
	case ran := <-done:
		assert.True(t, ran)
	case <-time.After(time.Second):
		t.Fatal("WorkSync deadlocked on own loop")
	}
}

func TestWorkSyncFromOtherGoroutine(t *testing.T) {
	l := NewLoop("test.sync")
	defer l.DeleteLater()

	ran := false
	l.WorkSync(func() { ran = true })
	assert.True(t, ran)
}

func TestProcessRequiresLoopGoroutine(t *testing.T) {
	l := NewLoop("test.affinity")
	defer l.DeleteLater()

	require.ErrorIs(t, l.Process(), ErrNotLoopGoroutine)
	require.ErrorIs(t, l.WaitEvent(), ErrNotLoopGoroutine)
	require.ErrorIs(t, l.WaitProcess(), ErrNotLoopGoroutine)

	l.WorkSync(func() {
		assert.NoError(t, l.Process())
	})
}

func TestSetRunPausesProcessing(t *testing.T) {
	l := NewLoop("test.pause")
	defer l.DeleteLater()

	l.SetRun(false)
	require.Eventually(t, func() bool {
		return l.State() == StatePaused
	}, time.Second, time.Millisecond)

	var mu sync.Mutex
	ran := false
	l.Work(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.False(t, ran, "work must not run while paused")
	mu.Unlock()

	l.SetRun(true)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, time.Millisecond)
}

func TestDeleteLaterStopsLoop(t *testing.T) {
	l := NewLoop("test.delete")

	l.WorkSync(func() {})
	l.DeleteLater()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not terminate")
	}
	assert.Equal(t, StateTerminated, l.State())
}

func TestCurrentInsideLoop(t *testing.T) {
	l := NewLoop("test.current")
	defer l.DeleteLater()

	l.WorkSync(func() {
		assert.Same(t, l, Current())
	})
	// Off-loop goroutines are attributed to the default loop.
	assert.Same(t, Default(), Current())
}

func TestQueueSize(t *testing.T) {
	l := NewLoop("test.queuesize")
	defer l.DeleteLater()

	l.SetRun(false)
	require.Eventually(t, func() bool {
		return l.State() == StatePaused
	}, time.Second, time.Millisecond)

	l.WorkAt(func() {}, 1)
	l.WorkAt(func() {}, 2)
	assert.Equal(t, 2, l.QueueSize())

	l.SetRun(true)
	l.WorkSyncAt(func() {}, 3)
	assert.Equal(t, 0, l.QueueSize())
}

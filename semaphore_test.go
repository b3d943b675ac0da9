package aparrow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreTryWait(t *testing.T) {
	var sem Semaphore

	assert.False(t, sem.TryWait())
	sem.Post()
	assert.True(t, sem.TryWait())
	assert.False(t, sem.TryWait())
}

func TestSemaphoreWaitBlocksUntilPost(t *testing.T) {
	var sem Semaphore

	done := make(chan struct{})
	go func() {
		sem.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned without a permit")
	case <-time.After(50 * time.Millisecond):
	}

	sem.Post()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe Post")
	}
}

func TestSemaphoreWaitForTimeout(t *testing.T) {
	var sem Semaphore

	start := time.Now()
	assert.False(t, sem.WaitFor(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	sem.Post()
	assert.True(t, sem.WaitFor(50*time.Millisecond))
}

func TestSemaphoreCountsPermits(t *testing.T) {
	var sem Semaphore

	for i := 0; i < 5; i++ {
		sem.Post()
	}
	for i := 0; i < 5; i++ {
		assert.True(t, sem.TryWait())
	}
	assert.False(t, sem.TryWait())
}

func TestSpinMutexMutualExclusion(t *testing.T) {
	var mu SpinMutex
	var wg sync.WaitGroup

	counter := 0
	const goroutines = 8
	const iters = 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*iters, counter)
}

func TestSpinMutexTryLock(t *testing.T) {
	var mu SpinMutex

	require.True(t, mu.TryLock())
	assert.False(t, mu.TryLock())
	mu.Unlock()
	assert.True(t, mu.TryLock())
	mu.Unlock()
}

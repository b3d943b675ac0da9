package aparrow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	q := newRingQueue[int]()

	const n = 100
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	assert.Equal(t, n, q.Length())

	for i := 0; i < n; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestRingQueueOverflowPreservesFIFO(t *testing.T) {
	q := newRingQueue[int]()

	// Exceed the ring capacity so the overflow spill engages.
	const n = ringSize + 2048
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	assert.Equal(t, n, q.Length())

	for i := 0; i < n; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	assert.True(t, q.IsEmpty())
}

func TestRingQueueConcurrentProducers(t *testing.T) {
	q := newRingQueue[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(1)
			}
		}()
	}
	wg.Wait()

	sum := 0
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		sum += v
	}
	assert.Equal(t, producers*perProducer, sum)
}

func TestRingQueueInterleavedPushPop(t *testing.T) {
	q := newRingQueue[string]()

	q.Push("a")
	q.Push("b")
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	q.Push("c")
	v, _ = q.Pop()
	assert.Equal(t, "b", v)
	v, _ = q.Pop()
	assert.Equal(t, "c", v)
}

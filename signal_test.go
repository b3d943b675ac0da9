package aparrow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProducer struct {
	Object
	Signal1 Signal[int]
	Signal2 Signal[int]
	Signal3 Signal[int]
}

type testReceiver struct {
	Object
	mu  sync.Mutex
	got []int
}

func (r *testReceiver) record(v int) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *testReceiver) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.got...)
}

func TestDispatchToLambdaSameLoop(t *testing.T) {
	l := NewLoop("test.sig.same")
	defer l.DeleteLater()

	var mu sync.Mutex
	var got []int

	l.WorkSync(func() {
		p := &testProducer{}
		p.Init()

		_, err := Connect(p, &p.Signal2, func(v int) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})
		require.NoError(t, err)

		p.Signal2.Dispatch(1)
	})

	l.WorkSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1}, got)
}

func TestDispatchCrossLoopAuto(t *testing.T) {
	a := NewLoop("test.sig.a")
	b := NewLoop("test.sig.b")
	defer a.DeleteLater()
	defer b.DeleteLater()

	sender := &testProducer{}
	a.WorkSync(func() { sender.Init() })

	var mu sync.Mutex
	var got []int
	var gotOnB bool

	b.WorkSync(func() {
		r := &testReceiver{}
		r.Init()
		_, err := ConnectTo(sender, &sender.Signal1, r, func(v int) {
			mu.Lock()
			got = append(got, v)
			gotOnB = Current() == b
			mu.Unlock()
		}, DeliverAuto)
		require.NoError(t, err)
	})
	a.WorkSync(func() {}) // let sender-side setup land

	a.WorkSync(func() {
		sender.Signal1.Dispatch(42)
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{42}, got)
	assert.True(t, gotOnB, "slot must run on the receiver's loop")
}

func TestSignalChaining(t *testing.T) {
	l := NewLoop("test.sig.chain")
	defer l.DeleteLater()

	var mu sync.Mutex
	var got []int

	l.WorkSync(func() {
		p := &testProducer{}
		p.Init()

		_, err := ConnectSignal(p, &p.Signal2, p, &p.Signal3, DeliverAuto)
		require.NoError(t, err)
		_, err = Connect(p, &p.Signal3, func(v int) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		})
		require.NoError(t, err)

		p.Signal2.Dispatch(7)
	})

	l.WorkSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{7}, got, "chained emission must fire exactly once")
}

func TestDestroyDuringDispatch(t *testing.T) {
	l := NewLoop("test.sig.suicide")
	defer l.DeleteLater()

	var mu sync.Mutex
	var got []string

	l.WorkSync(func() {
		p := &testProducer{}
		p.Init()

		_, err := Connect(p, &p.Signal1, func(int) {
			mu.Lock()
			got = append(got, "first")
			mu.Unlock()
			p.Destroy()
		})
		require.NoError(t, err)
		_, err = Connect(p, &p.Signal1, func(int) {
			mu.Lock()
			got = append(got, "second")
			mu.Unlock()
		})
		require.NoError(t, err)

		p.Signal1.Dispatch(0)
	})

	l.WorkSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first"}, got,
		"no slot of the same emission may run after the container dies")
}

func TestEmissionUnderReceiverTeardown(t *testing.T) {
	a := NewLoop("test.sig.teardown.a")
	b := NewLoop("test.sig.teardown.b")
	defer a.DeleteLater()
	defer b.DeleteLater()

	sender := &testProducer{}
	a.WorkSync(func() { sender.Init() })

	r := &testReceiver{}
	called := false
	var mu sync.Mutex

	b.WorkSync(func() {
		r.Init()
		_, err := ConnectTo(sender, &sender.Signal1, r, func(int) {
			mu.Lock()
			called = true
			mu.Unlock()
		}, DeliverAuto)
		require.NoError(t, err)
	})
	a.WorkSync(func() {})

	// Receiver dies before emission.
	b.WorkSync(func() { r.Destroy() })

	a.WorkSync(func() { sender.Signal1.Dispatch(1) })
	a.WorkSync(func() {})
	b.WorkSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "a dead receiver's slot must never run")
}

func TestDispatchSyncOrdering(t *testing.T) {
	a := NewLoop("test.sig.sync.a")
	b := NewLoop("test.sig.sync.b")
	defer a.DeleteLater()
	defer b.DeleteLater()

	sender := &testProducer{}
	a.WorkSync(func() { sender.Init() })

	r := &testReceiver{}
	b.WorkSync(func() {
		r.Init()
		_, err := ConnectTo(sender, &sender.Signal1, r, r.record, DeliverAuto)
		require.NoError(t, err)
	})
	a.WorkSync(func() {})

	a.WorkSync(func() {
		sender.Signal1.Dispatch(1)
		sender.Signal1.Dispatch(2)
		sender.Signal1.Dispatch(3)
		sender.Signal1.DispatchSync(4)

		// Every Auto slot scheduled before the sync dispatch has run, in
		// FIFO order, by the time DispatchSync returns.
		assert.Equal(t, []int{1, 2, 3, 4}, r.snapshot())
	})
}

func TestDisconnectIdempotent(t *testing.T) {
	l := NewLoop("test.sig.disconnect")
	defer l.DeleteLater()

	var mu sync.Mutex
	count := 0

	var conn *Connection
	l.WorkSync(func() {
		p := &testProducer{}
		p.Init()

		var err error
		conn, err = Connect(p, &p.Signal1, func(int) {
			mu.Lock()
			count++
			mu.Unlock()
		})
		require.NoError(t, err)

		p.Signal1.Dispatch(0)
		Disconnect(conn)
		Disconnect(conn) // second disconnect is a no-op
		p.Signal1.Dispatch(0)
	})

	l.WorkSync(func() {})

	assert.False(t, conn.Alive())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestConnectRejectsForeignSignal(t *testing.T) {
	l := NewLoop("test.sig.foreign")
	defer l.DeleteLater()

	l.WorkSync(func() {
		p := &testProducer{}
		p.Init()
		q := &testProducer{}
		q.Init()

		_, err := Connect(p, &q.Signal1, func(int) {})
		require.ErrorIs(t, err, ErrSignalNotMember)
	})
}

func TestConnectRejectsNilSlot(t *testing.T) {
	p := &testProducer{}
	_, err := Connect[int](p, &p.Signal1, nil)
	require.ErrorIs(t, err, ErrInvalidConnection)
}

func TestDispatchBeforeConnectIsNoOp(t *testing.T) {
	p := &testProducer{}
	// Never connected: the signal has no loop and the emission is a no-op.
	p.Signal1.Dispatch(5)
}

func TestDeliverSyncMode(t *testing.T) {
	a := NewLoop("test.sig.mode.a")
	b := NewLoop("test.sig.mode.b")
	defer a.DeleteLater()
	defer b.DeleteLater()

	sender := &testProducer{}
	a.WorkSync(func() { sender.Init() })

	r := &testReceiver{}
	b.WorkSync(func() {
		r.Init()
		_, err := ConnectTo(sender, &sender.Signal1, r, r.record, DeliverSync)
		require.NoError(t, err)
	})
	a.WorkSync(func() {})

	a.WorkSync(func() {
		sender.Signal1.Dispatch(9)
		// A Sync connection blocks the emitter until the slot ran.
		assert.Equal(t, []int{9}, r.snapshot())
	})
}

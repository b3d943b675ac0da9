package aparrow

// Void is the payload of a signal that carries no arguments.
type Void = struct{}

// DeliveryMode selects how a slot is posted when the receiver lives on a
// different Loop than the signal.
type DeliveryMode uint8

const (
	// DeliverAuto posts the slot without blocking the emitter.
	DeliverAuto DeliveryMode = iota
	// DeliverSync posts the slot and blocks the emitter until it has run.
	DeliverSync
)

// Signal is a typed emission point embedded in an Object. Signals with
// several arguments use a struct payload; nullary signals use [Void].
//
// A Signal must be a field of exactly one Object-embedding struct (the
// container); connect verifies this by address range. Its lifetime is a
// subset of the container's. Signals are not copyable.
//
// The zero value is ready for use; a Signal only becomes live once its
// container is connected.
type Signal[T any] struct {
	_ [0]func() // prevent copying

	mu             SpinMutex
	loop           *Loop
	containerAlive *AliveMutex

	funcs map[*Connection]func(T)
	order []*Connection // stable iteration order for dispatch snapshots
}

// bindContainer records the owning Object's liveness handle and Loop.
// Called on the container's Loop during connect setup and MoveToLoop.
func (s *Signal[T]) bindContainer(o *Object, loop *Loop) {
	s.mu.Lock()
	s.containerAlive = o.alive
	s.loop = loop
	s.mu.Unlock()
}

// connect records the typed callable for a connection. Runs on the
// container's Loop.
func (s *Signal[T]) connect(c *Connection, fn func(T)) {
	s.mu.Lock()
	if s.funcs == nil {
		s.funcs = make(map[*Connection]func(T))
	}
	s.funcs[c] = fn
	s.order = append(s.order, c)
	s.mu.Unlock()
}

// removeConnection drops a connection from the signal's map and order.
func (s *Signal[T]) removeConnection(c *Connection) {
	s.mu.Lock()
	if _, ok := s.funcs[c]; ok {
		delete(s.funcs, c)
		for i, e := range s.order {
			if e == c {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
}

// ConnectionCount returns the number of live connections on the signal.
func (s *Signal[T]) ConnectionCount() int {
	s.mu.Lock()
	n := len(s.funcs)
	s.mu.Unlock()
	return n
}

// Dispatch emits the signal. If the caller is on the signal's Loop the
// emission runs inline; otherwise it is posted there, guarded by the
// container's liveness. A signal that has never been connected is a
// no-op.
func (s *Signal[T]) Dispatch(v T) {
	s.mu.Lock()
	loop := s.loop
	alive := s.containerAlive
	s.mu.Unlock()

	if loop == nil {
		return
	}

	if Current() == loop {
		s.dispatchHelper(v, false)
		return
	}
	loop.Work(func() {
		if !alive.Alive() {
			return
		}
		s.dispatchHelper(v, false)
	})
}

// DispatchSync emits the signal, blocking until every slot has run. Every
// cross-loop invocation uses the blocking posting variant; the caller
// must accept blocking on each receiver Loop in turn.
func (s *Signal[T]) DispatchSync(v T) {
	s.mu.Lock()
	loop := s.loop
	alive := s.containerAlive
	s.mu.Unlock()

	if loop == nil {
		return
	}

	if Current() == loop {
		s.dispatchHelper(v, true)
		return
	}
	loop.WorkSync(func() {
		if !alive.Alive() {
			return
		}
		s.dispatchHelper(v, true)
	})
}

// dispatchHelper is the inline emission loop. It always runs on the
// signal's Loop.
//
// The connection set is snapshotted so concurrent disconnects during
// emission are tolerated; each handle is re-looked-up in the map under
// the signal's lock and skipped if gone. The lock is never held across a
// slot invocation. After every dispatched slot the container's alive flag
// is re-checked so a slot that destroys the container aborts the loop.
func (s *Signal[T]) dispatchHelper(v T, syncAll bool) {
	s.mu.Lock()
	containerAlive := s.containerAlive
	loop := s.loop
	snapshot := make([]*Connection, len(s.order))
	copy(snapshot, s.order)
	s.mu.Unlock()

	for _, c := range snapshot {
		s.mu.Lock()
		fn, ok := s.funcs[c]
		s.mu.Unlock()
		if !ok {
			continue
		}

		if !c.Alive() {
			continue
		}

		var receiverLoop *Loop
		if c.receiver != nil {
			if !c.receiverAlive.Do(func() {
				receiverLoop = c.receiver.loopRef
			}) {
				continue
			}
		} else {
			receiverLoop = c.receiverLoop
		}

		if receiverLoop == loop {
			fn(v)
		} else {
			call := func() { fn(v) }
			if c.receiver != nil {
				receiverAlive := c.receiverAlive
				inner := call
				call = func() {
					if !receiverAlive.Alive() {
						return
					}
					inner()
				}
			}

			mode := c.mode
			if syncAll {
				mode = DeliverSync
			}
			switch mode {
			case DeliverSync:
				receiverLoop.WorkSync(call)
			default:
				receiverLoop.Work(call)
			}
		}

		// The slot may have destroyed the signal's container.
		if !containerAlive.Alive() {
			return
		}
	}
}

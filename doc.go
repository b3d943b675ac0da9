// Package aparrow provides an event-driven concurrency runtime for Go:
// per-goroutine event loops with priorities, a typed signal/slot dispatch
// graph that safely crosses loop boundaries, stackful coroutines with a
// cooperative scheduler and work-balanced pool, and a shared timer
// service.
//
// # Architecture
//
// The runtime is built around [Loop], a prioritised work queue owned by a
// single goroutine (locked to an OS thread). [Object] pins participants
// of the signal graph to exactly one Loop; [Signal] is a typed emission
// point embedded in an Object; [Connection] is the durable record linking
// sender, signal, receiver and slot. [Coroutine] owns one Loop and
// schedules [Context] fibers on it cooperatively; [Timer] multiplexes
// one-shot and periodic timers on a shared scheduling Loop and delivers
// expirations through the signal graph.
//
// # Thread Safety
//
//   - [Loop.Work], [Loop.WorkSync] and signal dispatch are safe to call
//     from any goroutine
//   - An Object's connection sets are mutated only by its affine Loop;
//     cross-loop operations post work there
//   - Liveness across goroutines uses [AliveMutex]: acquire, check
//     alive, act — a dead target is skipped silently
//   - [Loop.Process], [Loop.WaitEvent] and [Loop.WaitProcess] must run on
//     the Loop's own goroutine and fail with [ErrNotLoopGoroutine]
//     otherwise
//
// # Execution Model
//
// Work ordering within a Loop:
//  1. HighPriority ring (always drains first)
//  2. Priority queue, smallest numeric priority first
//  3. FIFO within a single priority
//
// Cross-loop signal delivery consults the connection's [DeliveryMode]:
// DeliverAuto posts without blocking, DeliverSync blocks the emitter
// until the slot has run.
//
// # Usage
//
//	type Producer struct {
//	    aparrow.Object
//	    Changed aparrow.Signal[int]
//	}
//
//	p := &Producer{}
//	p.Init()
//
//	conn, err := aparrow.Connect(p, &p.Changed, func(v int) {
//	    fmt.Println("changed:", v)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer aparrow.Disconnect(conn)
//
//	p.Changed.Dispatch(42)
//
// # Error Handling
//
// Misconfiguration surfaces as errors ([ErrSignalNotMember],
// [ErrInvalidConnection], [ErrNotLoopGoroutine]). Panics raised inside a
// work closure or slot are not recovered — they unwind the loop
// goroutine; callers must wrap. Liveness failures (the target of a
// cross-loop callback has since died) are silent: cleanup proceeds
// without signalling the emitter. Structured diagnostics are emitted
// through the logiface logger installed with [SetLogger].
package aparrow

package aparrow

import (
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
)

// ObjectID identifies an [Object]. IDs are process-wide and monotonically
// increasing; they are never reused.
type ObjectID uint64

var objectIDCounter atomic.Uint64

// SignalBase is the type-erased face of Signal[T], used where the
// argument type does not matter (container binding, teardown, matching).
type SignalBase interface {
	bindContainer(o *Object, loop *Loop)
	removeConnection(c *Connection)
}

// Owner is satisfied by any type that embeds [Object]. The embedded
// Object's promoted method provides the implementation; user code never
// implements Owner directly.
type Owner interface {
	objectBase() *Object
}

// Object is an identity-bearing participant in the signal graph, pinned
// to exactly one [Loop].
//
// Object is meant to be embedded:
//
//	type Producer struct {
//	    aparrow.Object
//	    Changed aparrow.Signal[int]
//	}
//
//	p := &Producer{}
//	p.Init()
//
// Init establishes the identity: it binds the Object to the current Loop
// and allocates a fresh id and liveness handle. Copying a struct that
// embeds Object copies none of the identity semantics; call Init on the
// copy to give it a new identity (connections are never carried over, in
// keeping with the copy semantics of the runtime).
//
// Destroy is the explicit destructor. It must run on the affine Loop; a
// cross-goroutine Destroy is logged as a warning and proceeds unsafely.
type Object struct {
	id        ObjectID
	loopRef   *Loop
	loopAlive *LoopAlive
	alive     *AliveMutex

	asSender   mapset.Set[*Connection]
	asReceiver mapset.Set[*Connection]

	signals map[SignalBase]struct{}
}

// Init binds the Object to the current Loop and assigns a fresh identity.
// It returns the Object for chaining. Init must be called before the
// Object participates in any connection; connect does this lazily for
// convenience, but explicit Init is required before sharing the Object
// across goroutines.
func (o *Object) Init() *Object {
	o.loopRef = Current()
	o.loopAlive = o.loopRef.SharedAlive()
	o.id = ObjectID(objectIDCounter.Add(1))
	o.alive = newAliveMutex()
	o.asSender = mapset.NewThreadUnsafeSet[*Connection]()
	o.asReceiver = mapset.NewThreadUnsafeSet[*Connection]()
	o.signals = make(map[SignalBase]struct{})
	return o
}

func (o *Object) ensureInit() {
	if o.id == 0 {
		o.Init()
	}
}

func (o *Object) objectBase() *Object { return o }

// ID returns the Object's identity.
func (o *Object) ID() ObjectID { return o.id }

// Loop returns the Object's affine Loop.
func (o *Object) Loop() *Loop { return o.loopRef }

// LoopSharedAlive returns the teardown witness of the affine Loop.
func (o *Object) LoopSharedAlive() *LoopAlive { return o.loopAlive }

// AliveHandle returns the Object's liveness witness.
func (o *Object) AliveHandle() *AliveMutex { return o.alive }

// bindSignal binds a signal embedded in this Object to the Object's
// identity and Loop, and remembers it for MoveToLoop rebinding.
func (o *Object) bindSignal(s SignalBase) {
	s.bindContainer(o, o.loopRef)
	o.signals[s] = struct{}{}
}

// MoveToLoop migrates the Object (and every signal bound so far) to
// another Loop. It should be called from the Object's current Loop; a
// cross-goroutine call is logged as a warning and proceeds.
func (o *Object) MoveToLoop(l *Loop) {
	o.ensureInit()
	if Current() != o.loopRef {
		warnCrossLoop("move", o, o.loopRef)
	}
	for s := range o.signals {
		s.bindContainer(o, l)
	}
	o.loopRef = l
	o.loopAlive = l.SharedAlive()
}

// Destroy tears the Object down: the liveness flag flips under its mutex
// first, then every connection in either set is disconnected. Callbacks
// already in flight on other Loops observe the dead flag and skip.
func (o *Object) Destroy() {
	if o.id == 0 {
		return
	}

	o.alive.kill()

	if Current() != o.loopRef {
		warnCrossLoop("destroy", o, o.loopRef)
	}

	o.asSender.Each(func(c *Connection) bool {
		c.invokeDisconnect()
		return false
	})
	o.asReceiver.Each(func(c *Connection) bool {
		c.invokeDisconnect()
		return false
	})
}

// connectAsSender / connectAsReceiver register connection records. They
// run only on the Object's affine Loop.
func (o *Object) connectAsSender(c *Connection)   { o.asSender.Add(c) }
func (o *Object) connectAsReceiver(c *Connection) { o.asReceiver.Add(c) }

func (o *Object) removeAsSender(c *Connection)   { o.asSender.Remove(c) }
func (o *Object) removeAsReceiver(c *Connection) { o.asReceiver.Remove(c) }

// disconnectReceiverID disconnects every as-sender connection delivering
// to the given receiver. Runs on the Object's affine Loop.
func (o *Object) disconnectReceiverID(id ObjectID) {
	o.asSender.Each(func(c *Connection) bool {
		if c.receiverID == id {
			c.invokeDisconnect()
		}
		return false
	})
}

// disconnectMatch disconnects as-sender connections matching the given
// signal, receiver id and slot tag. Nil signal or nil tag matches any.
func (o *Object) disconnectMatch(sig SignalBase, receiverID ObjectID, slotTag any) {
	o.asSender.Each(func(c *Connection) bool {
		if sig != nil && c.signal != sig {
			return false
		}
		if receiverID != 0 && c.receiverID != receiverID {
			return false
		}
		if slotTag != nil && c.slotTag != slotTag {
			return false
		}
		c.invokeDisconnect()
		return false
	})
}

// disconnectSignal disconnects every as-sender connection of the given
// signal; a nil signal disconnects all of them.
func (o *Object) disconnectSignal(sig SignalBase) {
	o.asSender.Each(func(c *Connection) bool {
		if sig == nil || c.signal == sig {
			c.invokeDisconnect()
		}
		return false
	})
}

// disconnectSlot disconnects every as-receiver connection with the given
// slot tag; a nil tag disconnects all of them.
func (o *Object) disconnectSlot(slotTag any) {
	o.asReceiver.Each(func(c *Connection) bool {
		if slotTag == nil || c.slotTag == slotTag {
			c.invokeDisconnect()
		}
		return false
	})
}

// disconnectSenderID disconnects as-receiver connections originating from
// the given sender (optionally restricted to one signal).
func (o *Object) disconnectSenderID(senderID ObjectID, sig SignalBase) {
	o.asReceiver.Each(func(c *Connection) bool {
		if c.senderID != senderID {
			return false
		}
		if sig != nil && c.signal != sig {
			return false
		}
		c.invokeDisconnect()
		return false
	})
}

// onOwnerLoop runs fn on the Object's Loop, guarded by its liveness. It
// is the shared shape of the package-level disconnect helpers.
func onOwnerLoop(o *Object, fn func()) {
	if o.loopRef == Current() {
		fn()
		return
	}
	alive := o.alive
	o.loopRef.Work(func() {
		if !alive.Alive() {
			return
		}
		fn()
	})
}

// DisconnectPair severs every connection from sender to receiver.
func DisconnectPair(sender, receiver Owner) {
	s := sender.objectBase()
	receiverID := receiver.objectBase().ID()
	onOwnerLoop(s, func() {
		s.disconnectReceiverID(receiverID)
	})
}

// DisconnectAsSender severs sender-side connections; a nil signal severs
// all of them, otherwise only those of the given signal.
func DisconnectAsSender(sender Owner, sig SignalBase) {
	s := sender.objectBase()
	onOwnerLoop(s, func() {
		s.disconnectSignal(sig)
	})
}

// DisconnectAsReceiver severs receiver-side connections; a nil slotTag
// severs all of them, otherwise only those carrying the tag.
func DisconnectAsReceiver(receiver Owner, slotTag any) {
	r := receiver.objectBase()
	onOwnerLoop(r, func() {
		r.disconnectSlot(slotTag)
	})
}

// DisconnectFromSender severs the receiver's connections that originate
// from the given sender id, optionally restricted to one signal.
func DisconnectFromSender(receiver Owner, senderID ObjectID, sig SignalBase) {
	r := receiver.objectBase()
	onOwnerLoop(r, func() {
		r.disconnectSenderID(senderID, sig)
	})
}

// DisconnectMatching severs sender-side connections matching the given
// signal / receiver / slot tag combination. Nil arguments match anything.
func DisconnectMatching(sender Owner, sig SignalBase, receiver Owner, slotTag any) {
	s := sender.objectBase()
	var receiverID ObjectID
	if receiver != nil {
		receiverID = receiver.objectBase().ID()
	}
	onOwnerLoop(s, func() {
		s.disconnectMatch(sig, receiverID, slotTag)
	})
}

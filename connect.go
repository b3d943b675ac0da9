package aparrow

import (
	"reflect"
	"sync/atomic"
	"unsafe"
)

// ConnectionID identifies a [Connection]. IDs are process-wide and
// monotonically increasing.
type ConnectionID uint64

var connectionIDCounter atomic.Uint64

// Connection is the durable record linking (sender, signal, receiver?,
// slot, mode). It is shared among the sender Object, the Signal, the
// receiver Object (or the receiver Loop when there is none), and any
// caller holding the returned handle.
//
// Holding the handle does NOT keep the connection alive, and dropping it
// does not disconnect; the record is owned by the participants' sets.
// Explicit teardown is via [Disconnect] or the Object-scoped helpers.
type Connection struct {
	id    ConnectionID
	alive atomic.Bool
	mode  DeliveryMode

	sender      *Object
	senderID    ObjectID
	senderAlive *AliveMutex

	receiver      *Object
	receiverID    ObjectID
	receiverAlive *AliveMutex

	// receiverLoop / receiverLoopAlive replace the receiver fields when
	// the connection has no receiver Object.
	receiverLoop      *Loop
	receiverLoopAlive *LoopAlive

	signal  SignalBase
	slotTag any

	// disconnectFun tears the record down. It must not capture the
	// Connection itself; the record is passed back in.
	disconnectFun func(*Connection)
}

// ID returns the connection's identity.
func (c *Connection) ID() ConnectionID { return c.id }

// Alive reports whether the connection still delivers. The flag
// transitions true → false exactly once.
func (c *Connection) Alive() bool { return c.alive.Load() }

// Mode returns the connection's delivery mode.
func (c *Connection) Mode() DeliveryMode { return c.mode }

func (c *Connection) invokeDisconnect() {
	if c.disconnectFun != nil {
		c.disconnectFun(c)
	}
}

// newConnection builds the shared record. When receiver is nil the
// receiver side is the calling goroutine's Loop.
func newConnection(sender *Object, sig SignalBase, receiver *Object, slotTag any, mode DeliveryMode) *Connection {
	c := &Connection{
		id:          ConnectionID(connectionIDCounter.Add(1)),
		mode:        mode,
		sender:      sender,
		senderID:    sender.id,
		senderAlive: sender.alive,
		signal:      sig,
		slotTag:     slotTag,
	}
	if receiver != nil {
		c.receiver = receiver
		c.receiverID = receiver.id
		c.receiverAlive = receiver.alive
	} else {
		c.receiverLoop = Current()
		c.receiverLoopAlive = c.receiverLoop.SharedAlive()
	}
	c.alive.Store(true)
	return c
}

// Disconnect severs a connection. It is idempotent: a second call on an
// already-dead record returns without effect. Cleanup on the sender and
// on a receiver Object is posted to that Object's Loop under its liveness
// guard, so a participant that has since died is skipped silently; a
// receiver Loop (no receiver Object) drops the record directly.
func Disconnect(c *Connection) {
	if c == nil {
		return
	}
	c.invokeDisconnect()
}

// Connect connects a signal to a free callable. The receiver side is the
// calling goroutine's Loop: the slot always runs there.
func Connect[T any](sender Owner, sig *Signal[T], slot func(T)) (*Connection, error) {
	return connectSlot(sender, sig, nil, nil, slot, DeliverAuto)
}

// ConnectTo connects a signal to a callable bound to a receiver Object.
// The slot runs on the receiver's Loop (inline when it matches the
// signal's Loop; posted per mode otherwise).
func ConnectTo[T any](sender Owner, sig *Signal[T], receiver Owner, slot func(T), mode DeliveryMode) (*Connection, error) {
	if receiver == nil {
		return connectSlot(sender, sig, nil, nil, slot, mode)
	}
	return connectSlot(sender, sig, receiver, nil, slot, mode)
}

// ConnectToSlot is [ConnectTo] with an explicit slot tag, enabling
// tag-based disconnection via [DisconnectAsReceiver] and
// [DisconnectMatching].
func ConnectToSlot[T any](sender Owner, sig *Signal[T], receiver Owner, slotTag any, slot func(T), mode DeliveryMode) (*Connection, error) {
	return connectSlot(sender, sig, receiver, slotTag, slot, mode)
}

// ConnectSignal chains two signals: emitting sig forwards the payload to
// target's Dispatch. The target signal doubles as the slot tag.
func ConnectSignal[T any](sender Owner, sig *Signal[T], receiver Owner, target *Signal[T], mode DeliveryMode) (*Connection, error) {
	if target == nil {
		return nil, ErrInvalidConnection
	}
	return connectSlot(sender, sig, receiver, target, target.Dispatch, mode)
}

// connectSlot is the shared connect implementation.
//
// Setup is posted to the sender's Loop so the sender's connection sets
// are mutated only by their owning goroutine; receiver-side registration
// is analogously posted to the receiver's Loop. Teardown mirrors setup.
func connectSlot[T any](senderOwner Owner, sig *Signal[T], receiverOwner Owner, slotTag any, slot func(T), mode DeliveryMode) (*Connection, error) {
	if senderOwner == nil || sig == nil || slot == nil {
		return nil, ErrInvalidConnection
	}
	if err := checkSignalMember(senderOwner, unsafe.Pointer(sig)); err != nil {
		return nil, err
	}

	sender := senderOwner.objectBase()
	sender.ensureInit()

	var receiver *Object
	if receiverOwner != nil {
		receiver = receiverOwner.objectBase()
		receiver.ensureInit()
	}

	c := newConnection(sender, sig, receiver, slotTag, mode)
	senderAlive := sender.alive

	setup := func() {
		if !senderAlive.Alive() {
			return
		}
		sender.bindSignal(sig)
		sender.connectAsSender(c)
		sig.connect(c, slot)
		if receiver == nil {
			c.receiverLoop.AddSharedConnection(c)
		}
	}
	if sender.loopRef == Current() {
		setup()
	} else {
		sender.loopRef.Work(setup)
	}

	if receiver != nil {
		receiverAlive := receiver.alive

		rsetup := func() {
			if !receiverAlive.Alive() {
				return
			}
			receiver.connectAsReceiver(c)
		}
		if receiver.loopRef == Current() {
			rsetup()
		} else {
			receiver.loopRef.Work(rsetup)
		}

		c.disconnectFun = func(cc *Connection) {
			if !cc.alive.CompareAndSwap(true, false) {
				return
			}
			senderAlive.Do(func() {
				sender.loopRef.Work(func() {
					if !senderAlive.Alive() {
						return
					}
					sender.removeAsSender(cc)
					sig.removeConnection(cc)
				})
			})
			receiverAlive.Do(func() {
				receiver.loopRef.Work(func() {
					if !receiverAlive.Alive() {
						return
					}
					receiver.removeAsReceiver(cc)
				})
			})
		}
	} else {
		receiverLoop := c.receiverLoop

		c.disconnectFun = func(cc *Connection) {
			if !cc.alive.CompareAndSwap(true, false) {
				return
			}
			senderAlive.Do(func() {
				sender.loopRef.Work(func() {
					if !senderAlive.Alive() {
						return
					}
					sender.removeAsSender(cc)
					sig.removeConnection(cc)
				})
			})
			receiverLoop.RemoveSharedConnection(cc)
		}
	}

	return c, nil
}

// checkSignalMember verifies the signal lies within the byte range of the
// sender value, i.e. that the signal really is a field of the sender.
func checkSignalMember(sender Owner, sig unsafe.Pointer) error {
	rv := reflect.ValueOf(sender)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrInvalidConnection
	}
	base := rv.Pointer()
	size := rv.Type().Elem().Size()
	p := uintptr(sig)
	if p < base || p >= base+size {
		return ErrSignalNotMember
	}
	return nil
}

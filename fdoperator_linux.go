//go:build linux

package aparrow

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const epollBatch = 8

// fdWatchInfo pairs a watched operator with its liveness witness, so the
// watch loops never touch a destroyed operator.
type fdWatchInfo struct {
	alive *AliveMutex
	op    *FdOperator
}

var (
	fdWatchMu  SpinMutex
	fdWatchMap = make(map[ObjectID]fdWatchInfo)

	sharedEpollOnce sync.Once
	sharedEpollFd   int
	sharedEpollErr  error

	sharedInotifyEpollOnce sync.Once
	sharedInotifyEpollFd   int
	sharedInotifyEpollErr  error
)

// packWatchID / unpackWatchID squeeze the ObjectID into the epoll event's
// Fd+Pad data words.
func packWatchID(ev *unix.EpollEvent, id ObjectID) {
	ev.Fd = int32(uint32(id))
	ev.Pad = int32(uint32(id >> 32))
}

func unpackWatchID(ev *unix.EpollEvent) ObjectID {
	return ObjectID(uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32)
}

// epollWatchLoop translates epoll readiness into SignalEpollWatch
// emissions. It runs forever on a dedicated watch Loop.
func epollWatchLoop(epfd int) {
	events := make([]unix.EpollEvent, epollBatch)
	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			id := unpackWatchID(&events[i])
			mask := events[i].Events

			fdWatchMu.Lock()
			info, ok := fdWatchMap[id]
			fdWatchMu.Unlock()
			if !ok {
				continue
			}

			info.alive.Do(func() {
				info.op.SignalEpollWatch.Dispatch(mask)
			})
		}
	}
}

// inotifyWatchLoop drains each ready operator's inotify descriptor and
// emits SignalInotifyWatch once per kernel event.
func inotifyWatchLoop(epfd int) {
	events := make([]unix.EpollEvent, epollBatch)
	var buf [4096]byte
	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			id := unpackWatchID(&events[i])

			fdWatchMu.Lock()
			info, ok := fdWatchMap[id]
			fdWatchMu.Unlock()
			if !ok {
				continue
			}

			info.alive.Do(func() {
				length, err := unix.Read(info.op.inotifyFd, buf[:])
				if err != nil {
					return
				}
				for off := 0; off+unix.SizeofInotifyEvent <= length; {
					ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
					info.op.SignalInotifyWatch.Dispatch(ev.Mask)
					off += unix.SizeofInotifyEvent + int(ev.Len)
				}
			})
		}
	}
}

func getSharedEpollFd() (int, error) {
	sharedEpollOnce.Do(func() {
		sharedEpollFd, sharedEpollErr = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if sharedEpollErr != nil {
			return
		}
		fd := sharedEpollFd
		NewLoop("aparrow.fde").Work(func() { epollWatchLoop(fd) })
	})
	return sharedEpollFd, sharedEpollErr
}

func getSharedInotifyEpollFd() (int, error) {
	sharedInotifyEpollOnce.Do(func() {
		sharedInotifyEpollFd, sharedInotifyEpollErr = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if sharedInotifyEpollErr != nil {
			return
		}
		fd := sharedInotifyEpollFd
		NewLoop("aparrow.fdi").Work(func() { inotifyWatchLoop(fd) })
	})
	return sharedInotifyEpollFd, sharedInotifyEpollErr
}

// FdOperator bridges a file descriptor into the signal graph: kernel
// readiness and filesystem events re-enter the runtime as signal
// emissions on the operator's Loop.
type FdOperator struct {
	Object

	// SignalEpollWatch is emitted with the ready-event mask whenever the
	// watched descriptor becomes ready.
	SignalEpollWatch Signal[uint32]

	// SignalInotifyWatch is emitted with the event mask for every inotify
	// event on the watched path.
	SignalInotifyWatch Signal[uint32]

	fd   int
	path string

	epollFd        int // isolated epoll instance, 0 when shared
	inotifyFd      int
	inotifyEpollFd int // isolated inotify epoll instance, 0 when shared
}

// NewFdOperator wraps an already-open descriptor.
func NewFdOperator(fd int, path string) *FdOperator {
	o := &FdOperator{fd: fd, path: path}
	o.Init()
	return o
}

// OpenFdOperator opens path with the given flags and wraps it.
func OpenFdOperator(path string, flags int) (*FdOperator, error) {
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, err
	}
	return NewFdOperator(fd, path), nil
}

// Fd returns the wrapped descriptor.
func (o *FdOperator) Fd() int { return o.fd }

// Path returns the path the operator was opened with, if any.
func (o *FdOperator) Path() string { return o.path }

// Read reads from the descriptor.
func (o *FdOperator) Read(buf []byte) (int, error) {
	return unix.Read(o.fd, buf)
}

// Write writes to the descriptor.
func (o *FdOperator) Write(buf []byte) (int, error) {
	return unix.Write(o.fd, buf)
}

func (o *FdOperator) register() {
	fdWatchMu.Lock()
	fdWatchMap[o.ID()] = fdWatchInfo{alive: o.AliveHandle(), op: o}
	fdWatchMu.Unlock()
}

// EpollWatch starts readiness monitoring of the descriptor. events is an
// EPOLLIN/EPOLLOUT/... mask. With isolated set, the operator gets its own
// epoll instance and watch Loop instead of the shared one.
func (o *FdOperator) EpollWatch(events uint32, isolated bool) error {
	var epfd int
	var err error
	if isolated {
		epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if err != nil {
			return err
		}
		o.epollFd = epfd
		NewLoop("aparrow.fde.isolated").Work(func() { epollWatchLoop(epfd) })
	} else {
		epfd, err = getSharedEpollFd()
		if err != nil {
			return err
		}
	}

	o.register()

	var ev unix.EpollEvent
	ev.Events = events
	packWatchID(&ev, o.ID())
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, o.fd, &ev)
}

// InotifyWatch starts filesystem-event monitoring of the operator's path.
// mask is an IN_MODIFY/IN_CREATE/... mask. With isolated set, the
// operator gets its own epoll instance and watch Loop.
func (o *FdOperator) InotifyWatch(mask uint32, isolated bool) error {
	infd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return err
	}
	if _, err := unix.InotifyAddWatch(infd, o.path, mask); err != nil {
		_ = unix.Close(infd)
		return err
	}
	o.inotifyFd = infd

	var epfd int
	if isolated {
		epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
		if err != nil {
			_ = unix.Close(infd)
			return err
		}
		o.inotifyEpollFd = epfd
		NewLoop("aparrow.fdi.isolated").Work(func() { inotifyWatchLoop(epfd) })
	} else {
		epfd, err = getSharedInotifyEpollFd()
		if err != nil {
			_ = unix.Close(infd)
			return err
		}
	}

	o.register()

	var ev unix.EpollEvent
	ev.Events = unix.EPOLLIN
	packWatchID(&ev, o.ID())
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, infd, &ev)
}

// Close tears down the operator: watches are dropped, descriptors closed,
// and the Object destroyed.
func (o *FdOperator) Close() {
	fdWatchMu.Lock()
	delete(fdWatchMap, o.ID())
	fdWatchMu.Unlock()

	if o.epollFd != 0 {
		_ = unix.Close(o.epollFd)
	}
	if o.inotifyEpollFd != 0 {
		_ = unix.Close(o.inotifyEpollFd)
	}
	if o.inotifyFd != 0 {
		_ = unix.Close(o.inotifyFd)
	}
	if o.fd >= 0 {
		_ = unix.Close(o.fd)
	}

	o.Destroy()
}

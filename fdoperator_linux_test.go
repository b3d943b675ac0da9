//go:build linux

package aparrow

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFdOperatorEpollWatch(t *testing.T) {
	l := NewLoop("test.fd.epoll")
	defer l.DeleteLater()

	var pipeFds [2]int
	require.NoError(t, unix.Pipe(pipeFds[:]))
	writeFd := pipeFds[1]

	var mu sync.Mutex
	var masks []uint32

	var op *FdOperator
	l.WorkSync(func() {
		op = NewFdOperator(pipeFds[0], "")
		_, err := Connect(op, &op.SignalEpollWatch, func(mask uint32) {
			mu.Lock()
			masks = append(masks, mask)
			mu.Unlock()
		})
		require.NoError(t, err)
		require.NoError(t, op.EpollWatch(unix.EPOLLIN, false))
	})

	_, err := unix.Write(writeFd, []byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(masks) > 0
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	assert.NotZero(t, masks[0]&unix.EPOLLIN)
	mu.Unlock()

	var buf [8]byte
	n, err := op.Read(buf[:])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l.WorkSync(func() { op.Close() })
	_ = unix.Close(writeFd)
}

func TestFdOperatorInotifyWatch(t *testing.T) {
	l := NewLoop("test.fd.inotify")
	defer l.DeleteLater()

	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	require.NoError(t, os.WriteFile(path, []byte("seed"), 0o644))

	var mu sync.Mutex
	var masks []uint32

	var op *FdOperator
	l.WorkSync(func() {
		var err error
		op, err = OpenFdOperator(path, unix.O_RDONLY)
		require.NoError(t, err)
		_, err = Connect(op, &op.SignalInotifyWatch, func(mask uint32) {
			mu.Lock()
			masks = append(masks, mask)
			mu.Unlock()
		})
		require.NoError(t, err)
		require.NoError(t, op.InotifyWatch(unix.IN_MODIFY, false))
	})

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(masks) > 0
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	assert.NotZero(t, masks[0]&unix.IN_MODIFY)
	mu.Unlock()

	l.WorkSync(func() { op.Close() })
}

//go:build linux

package fdmanager

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestManager_socket(t *testing.T) {
	a, _ := socketpair(t)
	m := NewManager()

	assert.Nil(t, m.Get(a, false))

	c := m.Get(a, true)
	require.NotNil(t, c)
	assert.Same(t, c, m.Get(a, false))
	assert.Equal(t, a, c.FD())
	assert.True(t, c.IsInit())
	assert.True(t, c.IsSocket())
	assert.True(t, c.SysNonblock())
	assert.False(t, c.UserNonblock())
	assert.False(t, c.IsClosed())

	flags, err := unix.FcntlInt(uintptr(a), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestManager_regularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fd")
	require.NoError(t, err)
	defer f.Close()

	c := NewManager().Get(int(f.Fd()), true)
	require.NotNil(t, c)
	assert.True(t, c.IsInit())
	assert.False(t, c.IsSocket())
	assert.False(t, c.SysNonblock())
}

func TestManager_badDescriptor(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.Get(-1, true))
	c := m.Get(100000, true)
	require.NotNil(t, c)
	assert.False(t, c.IsInit())
	assert.False(t, c.IsSocket())
}

func TestManager_growAndDel(t *testing.T) {
	m := NewManager()
	for _, fd := range []int{2000, 2999, 3000, 9000} {
		require.NotNil(t, m.Get(fd, true), fd)
	}
	m.Del(9000)
	assert.Nil(t, m.Get(9000, false))
	assert.NotNil(t, m.Get(2999, false))
	m.Del(-1)
	m.Del(1 << 20)
}

func TestCtx_timeouts(t *testing.T) {
	a, _ := socketpair(t)
	c := NewManager().Get(a, true)
	assert.Equal(t, NoTimeout, c.Timeout(RecvTimeout))
	assert.Equal(t, NoTimeout, c.Timeout(SendTimeout))

	c.SetTimeout(RecvTimeout, 200*time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, c.Timeout(RecvTimeout))
	assert.Equal(t, NoTimeout, c.Timeout(SendTimeout))

	c.SetTimeout(SendTimeout, -5)
	assert.Equal(t, NoTimeout, c.Timeout(SendTimeout))
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}

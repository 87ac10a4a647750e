//go:build linux

// Package fdmanager tracks per-descriptor state for hooked I/O: whether a
// descriptor is a socket, who asked for non-blocking mode, whether it was
// closed, and the receive/send timeouts the hook layer enforces.
package fdmanager

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/internal/logging"
)

// NoTimeout disables a receive or send timeout.
const NoTimeout time.Duration = -1

// initialSize matches the descriptor table size allocated up front.
const initialSize = 64

// TimeoutKind selects the receive or send timeout of a [Ctx].
type TimeoutKind int

const (
	// RecvTimeout corresponds to SO_RCVTIMEO.
	RecvTimeout TimeoutKind = unix.SO_RCVTIMEO
	// SendTimeout corresponds to SO_SNDTIMEO.
	SendTimeout TimeoutKind = unix.SO_SNDTIMEO
)

// Ctx is the state of one descriptor.
type Ctx struct {
	fd           int
	isInit       bool
	isSocket     bool
	sysNonblock  bool
	userNonblock atomic.Bool
	closed       atomic.Bool
	recvTimeout  atomic.Int64
	sendTimeout  atomic.Int64
}

func newCtx(fd int) *Ctx {
	c := &Ctx{fd: fd}
	c.recvTimeout.Store(int64(NoTimeout))
	c.sendTimeout.Store(int64(NoTimeout))

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return c
	}
	c.isInit = true
	c.isSocket = st.Mode&unix.S_IFMT == unix.S_IFSOCK

	if c.isSocket {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err == nil && flags&unix.O_NONBLOCK == 0 {
			_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
		}
		if err != nil {
			logging.Named("system").Err().
				Err(err).
				Int("fd", fd).
				Log("fdmanager: failed to set O_NONBLOCK")
		}
		c.sysNonblock = true
	}
	return c
}

func (c *Ctx) FD() int { return c.fd }

// IsInit reports whether the descriptor was valid when first observed.
func (c *Ctx) IsInit() bool { return c.isInit }

func (c *Ctx) IsSocket() bool { return c.isSocket }

func (c *Ctx) IsClosed() bool { return c.closed.Load() }

// Close marks the descriptor closed. Waiters woken afterwards observe it.
func (c *Ctx) Close() { c.closed.Store(true) }

// SysNonblock reports whether the runtime forced O_NONBLOCK on the
// descriptor.
func (c *Ctx) SysNonblock() bool { return c.sysNonblock }

// UserNonblock reports whether the application asked for non-blocking
// mode, in which case hooked calls behave exactly like the raw syscalls.
func (c *Ctx) UserNonblock() bool { return c.userNonblock.Load() }

func (c *Ctx) SetUserNonblock(v bool) { c.userNonblock.Store(v) }

// Timeout returns the configured timeout, or NoTimeout.
func (c *Ctx) Timeout(kind TimeoutKind) time.Duration {
	if kind == RecvTimeout {
		return time.Duration(c.recvTimeout.Load())
	}
	return time.Duration(c.sendTimeout.Load())
}

func (c *Ctx) SetTimeout(kind TimeoutKind, d time.Duration) {
	if d < 0 {
		d = NoTimeout
	}
	if kind == RecvTimeout {
		c.recvTimeout.Store(int64(d))
	} else {
		c.sendTimeout.Store(int64(d))
	}
}

// Manager maps descriptors to their Ctx.
type Manager struct {
	mu   sync.RWMutex
	ctxs []*Ctx
}

func NewManager() *Manager {
	return &Manager{ctxs: make([]*Ctx, initialSize)}
}

var defaultManager = NewManager()

// Default returns the process-wide Manager used by the hook layer.
func Default() *Manager { return defaultManager }

// Get returns the Ctx of fd. If it does not exist and autoCreate is set,
// it is created, probing the descriptor (and forcing sockets into
// non-blocking mode). Otherwise Get returns nil.
func (m *Manager) Get(fd int, autoCreate bool) *Ctx {
	if fd < 0 {
		return nil
	}

	m.mu.RLock()
	var c *Ctx
	if fd < len(m.ctxs) {
		c = m.ctxs[fd]
	}
	m.mu.RUnlock()
	if c != nil || !autoCreate {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.ctxs) && m.ctxs[fd] != nil {
		return m.ctxs[fd]
	}
	if fd >= len(m.ctxs) {
		size := max(fd*3/2, fd+1)
		ctxs := make([]*Ctx, size)
		copy(ctxs, m.ctxs)
		m.ctxs = ctxs
	}
	c = newCtx(fd)
	m.ctxs[fd] = c
	return c
}

// Del forgets fd. The Ctx itself stays valid for holders of it.
func (m *Manager) Del(fd int) {
	if fd < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.ctxs) {
		m.ctxs[fd] = nil
	}
}

//go:build linux

package hook

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/fdmanager"
	"github.com/joeycumines/go-fiberio/fiber"
	"github.com/joeycumines/go-fiberio/internal/logging"
	"github.com/joeycumines/go-fiberio/scheduler"
	"github.com/joeycumines/go-fiberio/timer"
)

// ioOp describes a hooked operation: what to wait for when it would
// block, and which socket timeout bounds the wait.
type ioOp struct {
	name    string
	event   scheduler.Event
	timeout fdmanager.TimeoutKind
}

var (
	opRead  = ioOp{"read", scheduler.EventRead, fdmanager.RecvTimeout}
	opWrite = ioOp{"write", scheduler.EventWrite, fdmanager.SendTimeout}
)

const (
	waitPending int32 = iota
	waitResolved
)

// waitInfo guards one wait. Whichever of the resumed fiber and the
// timeout callback moves state away from waitPending first decides the
// outcome; the other side backs off.
type waitInfo struct {
	state atomic.Int32
}

var _ timer.Token = (*waitInfo)(nil)

// Alive reports whether the wait is still unresolved.
func (w *waitInfo) Alive() bool { return w.state.Load() == waitPending }

// doIO runs call, which must perform one syscall against fd, parking the
// calling fiber and retrying whenever it reports EAGAIN.
func doIO(fd int, op ioOp, call func() error) error {
	iom := reactor()
	if iom == nil {
		return call()
	}
	ctx := fdmanager.Default().Get(fd, false)
	if ctx == nil {
		return call()
	}
	if ctx.IsClosed() {
		return unix.EBADF
	}
	if !ctx.IsSocket() || ctx.UserNonblock() {
		return call()
	}

	timeout := ctx.Timeout(op.timeout)
	for {
		err := call()
		for err == unix.EINTR {
			err = call()
		}
		if err != unix.EAGAIN {
			return err
		}
		if err := wait(iom, fd, op, timeout); err != nil {
			return err
		}
		if ctx.IsClosed() {
			return unix.EBADF
		}
	}
}

// wait parks the calling fiber until op's event fires on fd, or timeout
// elapses (unix.ETIMEDOUT).
func wait(iom *scheduler.IOManager, fd int, op ioOp, timeout time.Duration) error {
	if err := iom.AddEvent(fd, op.event, nil); err != nil {
		if logging.Allow(addEventCategory{op.name}) {
			logger().Err().
				Err(err).
				Str("op", op.name).
				Int("fd", fd).
				Log("hook: AddEvent failed")
		}
		return err
	}

	// armed after registration, so an expiry always has an event to cancel
	info := new(waitInfo)
	var t *timer.Timer
	if timeout != fdmanager.NoTimeout {
		t = iom.AddConditionalTimer(timeout, func() {
			if !info.state.CompareAndSwap(waitPending, int32(unix.ETIMEDOUT)) {
				return
			}
			iom.CancelEvent(fd, op.event)
		}, info, false)
	}

	fiber.YieldToHold()

	if t != nil {
		t.Cancel()
	}
	if !info.state.CompareAndSwap(waitPending, waitResolved) {
		return unix.Errno(info.state.Load())
	}
	return nil
}

type addEventCategory struct{ op string }

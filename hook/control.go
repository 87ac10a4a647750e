//go:build linux

package hook

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/fdmanager"
	"github.com/joeycumines/go-fiberio/internal/logging"
)

// Fcntl performs an integer-argument fcntl. For sockets known to the
// descriptor manager, F_SETFL and F_GETFL track the application's
// O_NONBLOCK intent while the descriptor itself stays non-blocking.
func Fcntl(fd int, cmd int, arg int) (int, error) {
	switch cmd {
	case unix.F_SETFL:
		ctx := fdmanager.Default().Get(fd, false)
		if ctx == nil || ctx.IsClosed() || !ctx.IsSocket() {
			return unix.FcntlInt(uintptr(fd), cmd, arg)
		}
		ctx.SetUserNonblock(arg&unix.O_NONBLOCK != 0)
		if ctx.SysNonblock() {
			arg |= unix.O_NONBLOCK
		} else {
			arg &^= unix.O_NONBLOCK
		}
		return unix.FcntlInt(uintptr(fd), cmd, arg)

	case unix.F_GETFL:
		flags, err := unix.FcntlInt(uintptr(fd), cmd, 0)
		if err != nil {
			return flags, err
		}
		ctx := fdmanager.Default().Get(fd, false)
		if ctx == nil || ctx.IsClosed() || !ctx.IsSocket() {
			return flags, nil
		}
		if ctx.UserNonblock() {
			return flags | unix.O_NONBLOCK, nil
		}
		return flags &^ unix.O_NONBLOCK, nil

	case unix.F_DUPFD, unix.F_DUPFD_CLOEXEC, unix.F_SETFD, unix.F_SETOWN, unix.F_SETSIG,
		unix.F_SETLEASE, unix.F_NOTIFY, unix.F_SETPIPE_SZ,
		unix.F_GETFD, unix.F_GETOWN, unix.F_GETSIG, unix.F_GETLEASE, unix.F_GETPIPE_SZ:
		return unix.FcntlInt(uintptr(fd), cmd, arg)

	default:
		if logging.Allow(fcntlCategory{cmd}) {
			logger().Warning().
				Int("fd", fd).
				Int("cmd", cmd).
				Log("hook: unhandled fcntl cmd")
		}
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}
}

type fcntlCategory struct{ cmd int }

// FcntlFlock performs a record-locking fcntl, unmodified.
func FcntlFlock(fd uintptr, cmd int, lk *unix.Flock_t) error {
	return unix.FcntlFlock(fd, cmd, lk)
}

// Ioctl performs an ioctl taking an int argument by pointer. FIONBIO on
// a managed socket records the application's non-blocking intent.
func Ioctl(fd int, req uint, value int) error {
	if req == unix.FIONBIO {
		if ctx := fdmanager.Default().Get(fd, false); ctx != nil && !ctx.IsClosed() && ctx.IsSocket() {
			ctx.SetUserNonblock(value != 0)
			if ctx.SysNonblock() {
				// the kernel flag stays set, only the intent changes
				return nil
			}
		}
	}
	return unix.IoctlSetPointerInt(fd, req, value)
}

func GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

func SetsockoptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

func GetsockoptTimeval(fd, level, opt int) (*unix.Timeval, error) {
	return unix.GetsockoptTimeval(fd, level, opt)
}

// SetsockoptTimeval sets a timeval option. When hooked, SO_RCVTIMEO and
// SO_SNDTIMEO also set the timeout the hook layer enforces, truncated to
// milliseconds; a zero timeval means no timeout.
func SetsockoptTimeval(fd, level, opt int, tv *unix.Timeval) error {
	if IsEnabled() && level == unix.SOL_SOCKET && (opt == unix.SO_RCVTIMEO || opt == unix.SO_SNDTIMEO) {
		if ctx := fdmanager.Default().Get(fd, false); ctx != nil {
			ctx.SetTimeout(fdmanager.TimeoutKind(opt), timevalToTimeout(tv))
		}
	}
	return unix.SetsockoptTimeval(fd, level, opt, tv)
}

func timevalToTimeout(tv *unix.Timeval) time.Duration {
	ms := int64(tv.Sec)*1000 + int64(tv.Usec)/1000
	if ms <= 0 {
		return fdmanager.NoTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

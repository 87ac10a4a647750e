//go:build linux

package hook

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/fdmanager"
)

// Socket creates a socket, registering it with the descriptor manager
// (which forces it into non-blocking mode) when hooking is enabled.
func Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	if IsEnabled() {
		fdmanager.Default().Get(fd, true)
	}
	return fd, nil
}

// Connect is ConnectWithTimeout using [ConnectTimeout].
func Connect(fd int, sa unix.Sockaddr) error {
	return ConnectWithTimeout(fd, sa, ConnectTimeout())
}

// ConnectWithTimeout connects fd to sa, waiting at most timeout
// (fdmanager.NoTimeout for no limit) for the connection to complete.
func ConnectWithTimeout(fd int, sa unix.Sockaddr, timeout time.Duration) error {
	iom := reactor()
	if iom == nil {
		return unix.Connect(fd, sa)
	}
	ctx := fdmanager.Default().Get(fd, false)
	if ctx == nil || ctx.IsClosed() {
		return unix.EBADF
	}
	if !ctx.IsSocket() || ctx.UserNonblock() {
		return unix.Connect(fd, sa)
	}

	err := unix.Connect(fd, sa)
	if err != unix.EINPROGRESS {
		return err
	}

	if err := wait(iom, fd, ioOp{"connect", opWrite.event, opWrite.timeout}, timeout); err != nil {
		return err
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// Accept accepts a connection on fd, registering the new descriptor when
// hooking is enabled.
func Accept(fd int) (nfd int, sa unix.Sockaddr, err error) {
	nfd = -1
	err = doIO(fd, ioOp{"accept", opRead.event, opRead.timeout}, func() error {
		var err error
		nfd, sa, err = unix.Accept(fd)
		return err
	})
	if err != nil {
		return -1, nil, err
	}
	if IsEnabled() {
		fdmanager.Default().Get(nfd, true)
	}
	return nfd, sa, nil
}

// Close closes fd. When hooked, waiters parked on fd are woken first and
// observe unix.EBADF.
func Close(fd int) error {
	if IsEnabled() {
		if ctx := fdmanager.Default().Get(fd, false); ctx != nil {
			ctx.Close()
			if iom := reactor(); iom != nil {
				iom.CancelAll(fd)
			}
			fdmanager.Default().Del(fd)
		}
	}
	return unix.Close(fd)
}

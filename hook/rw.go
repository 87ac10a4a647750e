//go:build linux

package hook

import (
	"golang.org/x/sys/unix"
)

func Read(fd int, p []byte) (n int, err error) {
	err = doIO(fd, opRead, func() error {
		n, err = unix.Read(fd, p)
		return err
	})
	return n, err
}

func Readv(fd int, iovs [][]byte) (n int, err error) {
	err = doIO(fd, ioOp{"readv", opRead.event, opRead.timeout}, func() error {
		n, err = unix.Readv(fd, iovs)
		return err
	})
	return n, err
}

func Recv(fd int, p []byte, flags int) (n int, err error) {
	n, _, err = recvfrom(fd, p, flags, "recv")
	return n, err
}

func Recvfrom(fd int, p []byte, flags int) (n int, from unix.Sockaddr, err error) {
	return recvfrom(fd, p, flags, "recvfrom")
}

func recvfrom(fd int, p []byte, flags int, name string) (n int, from unix.Sockaddr, err error) {
	err = doIO(fd, ioOp{name, opRead.event, opRead.timeout}, func() error {
		n, from, err = unix.Recvfrom(fd, p, flags)
		return err
	})
	return n, from, err
}

func Recvmsg(fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error) {
	err = doIO(fd, ioOp{"recvmsg", opRead.event, opRead.timeout}, func() error {
		n, oobn, recvflags, from, err = unix.Recvmsg(fd, p, oob, flags)
		return err
	})
	return n, oobn, recvflags, from, err
}

func Write(fd int, p []byte) (n int, err error) {
	err = doIO(fd, opWrite, func() error {
		n, err = unix.Write(fd, p)
		return err
	})
	return n, err
}

func Writev(fd int, iovs [][]byte) (n int, err error) {
	err = doIO(fd, ioOp{"writev", opWrite.event, opWrite.timeout}, func() error {
		n, err = unix.Writev(fd, iovs)
		return err
	})
	return n, err
}

func Send(fd int, p []byte, flags int) (int, error) {
	return sendmsg(fd, p, nil, nil, flags, "send")
}

func Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	return sendmsg(fd, p, nil, to, flags, "sendto")
}

func Sendmsg(fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	return sendmsg(fd, p, oob, to, flags, "sendmsg")
}

func sendmsg(fd int, p, oob []byte, to unix.Sockaddr, flags int, name string) (n int, err error) {
	err = doIO(fd, ioOp{name, opWrite.event, opWrite.timeout}, func() error {
		n, err = unix.SendmsgN(fd, p, oob, to, flags)
		return err
	})
	return n, err
}

package scheduler

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// createWakeFd creates the eventfd used to tickle the reactor. The same
// descriptor serves as read and write end.
func createWakeFd(initval uint, flags int) (int, int, error) {
	fd, err := unix.Eventfd(initval, flags)
	return fd, fd, err
}

// signalWakeFd adds one to the eventfd counter.
func signalWakeFd(fd int) error {
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(fd, buf)
	return err
}

// drainWakeFd resets the eventfd counter. The descriptor is non-blocking,
// so the loop ends on EAGAIN.
func drainWakeFd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

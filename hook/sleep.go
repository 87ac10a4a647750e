//go:build linux

package hook

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/fiber"
	"github.com/joeycumines/go-fiberio/scheduler"
)

// Sleep suspends for seconds, returning the number of seconds left
// unslept if interrupted.
func Sleep(seconds uint) uint {
	if iom := reactor(); iom != nil {
		park(iom, time.Duration(seconds)*time.Second)
		return 0
	}
	req := unix.Timespec{Sec: int64(seconds)}
	var rem unix.Timespec
	if err := unix.Nanosleep(&req, &rem); err != nil {
		return uint(rem.Sec)
	}
	return 0
}

// Usleep suspends for usec microseconds. The hooked version has
// millisecond resolution.
func Usleep(usec uint) error {
	if iom := reactor(); iom != nil {
		park(iom, time.Duration(usec/1000)*time.Millisecond)
		return nil
	}
	req := unix.NsecToTimespec(int64(usec) * int64(time.Microsecond))
	return unix.Nanosleep(&req, nil)
}

// Nanosleep suspends for req. The hooked version has millisecond
// resolution and never reports a remainder.
func Nanosleep(req, rem *unix.Timespec) error {
	if iom := reactor(); iom != nil {
		if req.Sec < 0 || req.Nsec < 0 || int64(req.Nsec) >= int64(time.Second) {
			return unix.EINVAL
		}
		ms := int64(req.Sec)*1000 + int64(req.Nsec)/int64(time.Millisecond)
		park(iom, time.Duration(ms)*time.Millisecond)
		return nil
	}
	return unix.Nanosleep(req, rem)
}

// park holds the calling fiber until a one-shot timer reschedules it.
func park(iom *scheduler.IOManager, d time.Duration) {
	f := fiber.GetThis()
	iom.AddTimer(d, func() {
		iom.ScheduleFiber(f, scheduler.AnyThread)
	}, false)
	fiber.YieldToHold()
}

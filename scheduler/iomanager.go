//go:build linux

package scheduler

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/fiber"
	"github.com/joeycumines/go-fiberio/internal/assert"
	"github.com/joeycumines/go-fiberio/internal/logging"
	"github.com/joeycumines/go-fiberio/timer"
)

// IOManager is a Scheduler whose idle duty is an epoll reactor, merged
// with a timer manager. Fibers wait for descriptor readiness through
// [IOManager.AddEvent] and for time through the embedded [timer.Manager];
// both resume them through the scheduler queue.
type IOManager struct {
	*Scheduler
	*timer.Manager

	epfd      int
	wakeFd    int
	wakeWrite int

	contexts contextTable
	pending  atomic.Int64
	closed   atomic.Bool
}

// NewIOManager creates and starts an IOManager. Hooking is enabled on its
// worker threads unless disabled with [WithHookEnabled].
func NewIOManager(threads int, useCaller bool, name string, opts ...Option) (*IOManager, error) {
	cfg, err := resolveOptions(&options{
		hookEnabled: true,
		maxWait:     DefaultMaxWait,
		maxEvents:   DefaultMaxEvents,
	}, opts)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("scheduler: epoll_create1: %w", err)
	}
	wakeFd, wakeWrite, err := createWakeFd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("scheduler: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("%w: ADD wake fd: %w", ErrEpoll, err)
	}

	s, err := newScheduler(threads, useCaller, name, cfg)
	if err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	iom := &IOManager{
		Scheduler: s,
		Manager:   timer.NewManager(),
		epfd:      epfd,
		wakeFd:    wakeFd,
		wakeWrite: wakeWrite,
	}
	s.drv = iom
	iom.Manager.SetOnInsertedAtFront(iom.tickle)
	iom.contexts.resize(32)
	iom.Start()
	return iom, nil
}

// GetIOManager returns the IOManager owning the calling fiber's thread,
// or nil.
func GetIOManager() *IOManager {
	if s := GetThis(); s != nil {
		iom, _ := s.drv.(*IOManager)
		return iom
	}
	return nil
}

// PendingEvents is the number of registered, unfired events.
func (iom *IOManager) PendingEvents() int64 { return iom.pending.Load() }

// Close stops the scheduler and releases the epoll and wake descriptors.
// Calls after the first only stop, and return nil.
func (iom *IOManager) Close() error {
	iom.Stop()
	if !iom.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(unix.Close(iom.wakeFd), unix.Close(iom.epfd))
}

// AddEvent registers interest in ev (EventRead or EventWrite) on fd. When
// the event fires, cb is scheduled, or if cb is nil the calling fiber,
// which must be running, is scheduled. Registering an event that is
// already registered is a fatal contract violation. A failed epoll_ctl is
// returned wrapped in ErrEpoll.
func (iom *IOManager) AddEvent(fd int, ev Event, cb func()) error {
	assert.That(ev == EventRead || ev == EventWrite, "iomanager: invalid event %s", ev)
	ctx := iom.contexts.get(fd, true)
	if ctx == nil {
		return fmt.Errorf("%w: invalid fd %d", ErrEpoll, fd)
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	assert.That(ctx.events&ev == EventNone, "iomanager: event %s already registered on fd %d", ev, fd)

	op := unix.EPOLL_CTL_MOD
	if ctx.events == EventNone {
		op = unix.EPOLL_CTL_ADD
	}
	if err := iom.epollCtl(op, fd, ctx.events|ev); err != nil {
		return err
	}

	iom.pending.Add(1)
	ctx.events |= ev
	ec := ctx.eventContext(ev)
	assert.That(ec.empty(), "iomanager: stale waiter for %s on fd %d", ev, fd)

	ec.scheduler = GetThis()
	if ec.scheduler == nil {
		ec.scheduler = iom.Scheduler
	}
	if cb != nil {
		ec.cb = cb
	} else {
		f := fiber.GetThis()
		assert.That(!f.IsRoot() && f.State() == fiber.StateExec,
			"iomanager: AddEvent without callback outside of a running fiber")
		ec.fiber = f
	}
	return nil
}

// DelEvent removes a registration without firing it.
func (iom *IOManager) DelEvent(fd int, ev Event) bool {
	ctx := iom.contexts.get(fd, false)
	if ctx == nil {
		return false
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events&ev == EventNone {
		return false
	}

	left := ctx.events &^ ev
	if err := iom.epollCtl(iom.rearmOp(left), fd, left); err != nil {
		return false
	}

	iom.pending.Add(-1)
	ctx.events = left
	ctx.eventContext(ev).reset()
	return true
}

// CancelEvent removes a registration and fires it, as though the event
// had occurred.
func (iom *IOManager) CancelEvent(fd int, ev Event) bool {
	ctx := iom.contexts.get(fd, false)
	if ctx == nil {
		return false
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events&ev == EventNone {
		return false
	}

	left := ctx.events &^ ev
	if err := iom.epollCtl(iom.rearmOp(left), fd, left); err != nil {
		return false
	}

	ctx.trigger(ev)
	iom.pending.Add(-1)
	return true
}

// CancelAll fires and removes every registration on fd.
func (iom *IOManager) CancelAll(fd int) bool {
	ctx := iom.contexts.get(fd, false)
	if ctx == nil {
		return false
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events == EventNone {
		return false
	}

	if err := iom.epollCtl(unix.EPOLL_CTL_DEL, fd, EventNone); err != nil {
		return false
	}

	for _, ev := range [...]Event{EventRead, EventWrite} {
		if ctx.events&ev != EventNone {
			ctx.trigger(ev)
			iom.pending.Add(-1)
		}
	}
	assert.That(ctx.events == EventNone, "iomanager: events left on fd %d after cancel", fd)
	return true
}

func (iom *IOManager) rearmOp(left Event) int {
	if left == EventNone {
		return unix.EPOLL_CTL_DEL
	}
	return unix.EPOLL_CTL_MOD
}

func (iom *IOManager) epollCtl(op, fd int, events Event) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	}
	if err := unix.EpollCtl(iom.epfd, op, fd, ev); err != nil {
		if op == unix.EPOLL_CTL_DEL && (err == unix.EBADF || err == unix.ENOENT) {
			// closed behind our back, the kernel already dropped it
			return nil
		}
		if logging.Allow(epollCtlCategory{op}) {
			iom.log.Err().
				Err(err).
				Str("scheduler", iom.name).
				Str("op", epollOpName(op)).
				Int("fd", fd).
				Stringer("events", events).
				Log("iomanager: epoll_ctl failed")
		}
		return fmt.Errorf("%w: %s fd %d: %w", ErrEpoll, epollOpName(op), fd, err)
	}
	return nil
}

type epollCtlCategory struct{ op int }

func (iom *IOManager) tickle() {
	if !iom.HasIdleThreads() {
		return
	}
	if err := signalWakeFd(iom.wakeWrite); err != nil && logging.Allow(tickleCategory{}) {
		iom.log.Err().Err(err).Str("scheduler", iom.name).Log("iomanager: tickle failed")
	}
}

type tickleCategory struct{}

func (iom *IOManager) stopping() bool {
	_, stopping := iom.stoppingWithTimeout()
	return stopping
}

func (iom *IOManager) stoppingWithTimeout() (time.Duration, bool) {
	next := iom.NextTimeout()
	return next, next == timer.Infinite && iom.pending.Load() == 0 && iom.Scheduler.stopping()
}

// waitTimeout converts the wait budget to epoll milliseconds, rounding
// sub-millisecond waits up so timers are not polled early.
func (iom *IOManager) waitTimeout(next time.Duration) int {
	d := min(next, iom.opts.maxWait)
	if iom.hasTasks() {
		d = 0
	}
	if d > 0 && d < time.Millisecond {
		return 1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func (iom *IOManager) idle() {
	events := make([]unix.EpollEvent, iom.opts.maxEvents)
	for {
		next, stopping := iom.stoppingWithTimeout()
		if stopping {
			iom.log.Debug().Str("scheduler", iom.name).Log("iomanager: idle exits")
			break
		}

		n, err := iom.wait(events, iom.waitTimeout(next))
		if err != nil {
			if logging.Allow(epollWaitCategory{}) {
				iom.log.Err().Err(err).Str("scheduler", iom.name).Log("iomanager: epoll_wait failed")
			}
			n = 0
		}

		if cbs := iom.ListExpired(); len(cbs) != 0 {
			tasks := make([]Task, len(cbs))
			for i, cb := range cbs {
				tasks[i] = FuncTask(cb, AnyThread)
			}
			iom.ScheduleBatch(tasks...)
		}

		for i := range n {
			iom.dispatch(&events[i])
		}

		fiber.YieldToHold()
	}
	// pass the wake-up on, so every idle worker observes the stop
	iom.tickle()
}

type epollWaitCategory struct{}

func (iom *IOManager) wait(events []unix.EpollEvent, timeoutMs int) (int, error) {
	for {
		n, err := unix.EpollWait(iom.epfd, events, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (iom *IOManager) dispatch(event *unix.EpollEvent) {
	fd := int(event.Fd)
	if fd == iom.wakeFd {
		drainWakeFd(iom.wakeFd)
		return
	}
	ctx := iom.contexts.get(fd, false)
	if ctx == nil {
		return
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ready := epollToEvents(event.Events)
	if (ctx.events & ready) == EventNone {
		return
	}
	ready &= ctx.events

	left := ctx.events &^ ready
	if err := iom.epollCtl(iom.rearmOp(left), fd, left); err != nil {
		return
	}

	if ready&EventRead != EventNone {
		ctx.trigger(EventRead)
		iom.pending.Add(-1)
	}
	if ready&EventWrite != EventNone {
		ctx.trigger(EventWrite)
		iom.pending.Add(-1)
	}
}

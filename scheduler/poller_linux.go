package scheduler

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberio/fiber"
	"github.com/joeycumines/go-fiberio/internal/assert"
)

// Event is a set of I/O readiness kinds.
type Event uint32

const (
	EventNone Event = 0
	// EventRead corresponds to EPOLLIN.
	EventRead Event = 0x1
	// EventWrite corresponds to EPOLLOUT.
	EventWrite Event = 0x4
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "NONE"
	case EventRead:
		return "READ"
	case EventWrite:
		return "WRITE"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "READ")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "WRITE")
	}
	if rest := e &^ (EventRead | EventWrite); rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// eventsToEpoll converts an Event set to epoll flags, edge triggered.
func eventsToEpoll(events Event) uint32 {
	epollEvents := uint32(unix.EPOLLET)
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts reported epoll flags to an Event set. Errors and
// hang-ups wake both directions, so waiters observe the failure on retry.
func epollToEvents(epollEvents uint32) Event {
	if epollEvents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		epollEvents |= unix.EPOLLIN | unix.EPOLLOUT
	}
	var events Event
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	return events
}

func epollOpName(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "ADD"
	case unix.EPOLL_CTL_MOD:
		return "MOD"
	case unix.EPOLL_CTL_DEL:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// eventContext is the waiter registered for one direction of one fd:
// exactly one of fiber or cb, resumed on scheduler.
type eventContext struct {
	scheduler *Scheduler
	fiber     *fiber.Fiber
	cb        func()
}

func (e *eventContext) empty() bool {
	return e.scheduler == nil && e.fiber == nil && e.cb == nil
}

func (e *eventContext) reset() {
	*e = eventContext{}
}

// fdContext holds the registered interest of one descriptor. mu guards
// every field and is held across the matching epoll_ctl call, so
// registration and firing never interleave on the same descriptor.
type fdContext struct {
	mu     sync.Mutex
	fd     int
	events Event
	read   eventContext
	write  eventContext
}

func (c *fdContext) eventContext(ev Event) *eventContext {
	switch ev {
	case EventRead:
		return &c.read
	case EventWrite:
		return &c.write
	}
	assert.Fail("iomanager: invalid event %s", ev)
	return nil
}

// trigger removes ev from the registered set and schedules its waiter.
// Callers hold c.mu.
func (c *fdContext) trigger(ev Event) {
	assert.That(c.events&ev != EventNone, "iomanager: trigger of unregistered event %s on fd %d", ev, c.fd)
	c.events &^= ev
	ec := c.eventContext(ev)
	if ec.cb != nil {
		ec.scheduler.ScheduleFunc(ec.cb, AnyThread)
	} else {
		ec.scheduler.ScheduleFiber(ec.fiber, AnyThread)
	}
	ec.reset()
}

// contextTable maps fd to fdContext, growing geometrically.
type contextTable struct {
	mu   sync.RWMutex
	ctxs []*fdContext
}

func (t *contextTable) resize(size int) {
	if size <= len(t.ctxs) {
		return
	}
	ctxs := make([]*fdContext, size)
	copy(ctxs, t.ctxs)
	for i := len(t.ctxs); i < size; i++ {
		ctxs[i] = &fdContext{fd: i}
	}
	t.ctxs = ctxs
}

// get returns the context of fd, growing the table if create is set.
func (t *contextTable) get(fd int, create bool) *fdContext {
	if fd < 0 {
		return nil
	}
	t.mu.RLock()
	if fd < len(t.ctxs) {
		c := t.ctxs[fd]
		t.mu.RUnlock()
		return c
	}
	t.mu.RUnlock()
	if !create {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.resize(max(fd*3/2, fd+1))
	return t.ctxs[fd]
}

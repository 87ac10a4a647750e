// Package timer implements an ordered set of future callbacks, with
// cancellation, refresh, and conditional (liveness guarded) timers.
//
// A [Manager] does not run anything by itself: its owner asks how long
// until the next deadline ([Manager.NextTimeout]), sleeps or polls for
// at most that long, then collects and runs the callbacks that are due
// ([Manager.ListExpired]).
package timer

import (
	"container/heap"
	"math"
	"sync"
	"time"
	"weak"
)

// Infinite is returned by NextTimeout when no timer is pending.
const Infinite time.Duration = math.MaxInt64

// rolloverThreshold is how far the clock must move backwards before every
// pending timer is treated as expired.
const rolloverThreshold = time.Hour

type (
	// Token reports whether the state guarded by a conditional timer is
	// still live. Once Alive returns false the timer's callback is skipped.
	Token interface {
		Alive() bool
	}

	// TokenFunc adapts a function to a Token.
	TokenFunc func() bool

	// Manager owns a set of timers ordered by deadline.
	Manager struct {
		mu       sync.RWMutex
		timers   timerHeap
		seq      uint64
		previous time.Time
		// tickled latches front-insertion notifications until the next
		// NextTimeout call, so a burst of earlier timers wakes the owner
		// once.
		tickled bool
		now     func() time.Time
		onFront func()
	}

	// Timer is a handle to a pending (or fired, or cancelled) timer.
	Timer struct {
		manager   *Manager
		seq       uint64
		index     int
		recurring bool
		period    time.Duration
		next      time.Time
		cb        func()
	}

	timerHeap []*Timer
)

// Alive implements Token.
func (f TokenFunc) Alive() bool { return f() }

// Weak returns a Token that stays alive for as long as p is reachable,
// without keeping p reachable itself.
func Weak[T any](p *T) Token {
	w := weak.Make(p)
	return TokenFunc(func() bool { return w.Value() != nil })
}

// NewManager returns an empty Manager.
func NewManager(opts ...Option) *Manager {
	cfg := resolveOptions(opts)
	m := &Manager{
		now:     cfg.clock,
		onFront: cfg.onInsertedAtFront,
	}
	m.previous = m.now()
	return m
}

// SetOnInsertedAtFront replaces the hook invoked when a newly added timer
// becomes the earliest one. It is intended for owners that embed the
// Manager and can only supply the hook after construction.
func (m *Manager) SetOnInsertedAtFront(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFront = fn
}

// AddTimer schedules cb to run after d, and every d thereafter if
// recurring.
func (m *Manager) AddTimer(d time.Duration, cb func(), recurring bool) *Timer {
	t := &Timer{
		manager:   m,
		recurring: recurring,
		period:    d,
		cb:        cb,
		index:     -1,
	}
	m.mu.Lock()
	t.next = m.now().Add(d)
	m.insertLocked(t)
	return t
}

// AddConditionalTimer is AddTimer, except cb runs only if token is still
// alive when the timer fires.
func (m *Manager) AddConditionalTimer(d time.Duration, cb func(), token Token, recurring bool) *Timer {
	return m.AddTimer(d, func() {
		if token.Alive() {
			cb()
		}
	}, recurring)
}

// insertLocked pushes t and releases m.mu, invoking the front-insertion
// hook if t became the earliest timer.
func (m *Manager) insertLocked(t *Timer) {
	m.seq++
	t.seq = m.seq
	heap.Push(&m.timers, t)
	atFront := t.index == 0 && !m.tickled
	if atFront {
		m.tickled = true
	}
	onFront := m.onFront
	m.mu.Unlock()

	if atFront && onFront != nil {
		onFront()
	}
}

// NextTimeout returns the time until the earliest deadline, zero if it
// has passed, or Infinite if no timer is pending.
func (m *Manager) NextTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickled = false
	if len(m.timers) == 0 {
		return Infinite
	}
	d := m.timers[0].next.Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}

// ListExpired removes every due timer and returns their callbacks in
// deadline order. Recurring timers are rescheduled one period from now.
func (m *Manager) ListExpired() []func() {
	m.mu.RLock()
	empty := len(m.timers) == 0
	m.mu.RUnlock()
	if empty {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rollover := m.detectRollover(now)

	var (
		cbs       []func()
		recurring []*Timer
	)
	for len(m.timers) != 0 {
		t := m.timers[0]
		if !rollover && t.next.After(now) {
			break
		}
		heap.Pop(&m.timers)
		cbs = append(cbs, t.cb)
		if t.recurring {
			t.next = now.Add(t.period)
			recurring = append(recurring, t)
		} else {
			t.cb = nil
		}
	}
	for _, t := range recurring {
		heap.Push(&m.timers, t)
	}
	return cbs
}

func (m *Manager) detectRollover(now time.Time) bool {
	rollover := now.Before(m.previous.Add(-rolloverThreshold))
	m.previous = now
	return rollover
}

// HasTimer reports whether any timer is pending.
func (m *Manager) HasTimer() bool {
	return m.Len() != 0
}

// Len returns the number of pending timers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timers)
}

// Cancel removes the timer if it is still pending, reporting whether it
// was.
func (t *Timer) Cancel() bool {
	m := t.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil || t.index < 0 {
		return false
	}
	heap.Remove(&m.timers, t.index)
	t.cb = nil
	return true
}

// Refresh reschedules a pending timer to fire one full period from now.
func (t *Timer) Refresh() bool {
	m := t.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.cb == nil || t.index < 0 {
		return false
	}
	t.next = m.now().Add(t.period)
	heap.Fix(&m.timers, t.index)
	return true
}

// Reset changes the period of a pending timer. If fromNow, the new
// deadline is d from now, otherwise d from when the current period began.
func (t *Timer) Reset(d time.Duration, fromNow bool) bool {
	m := t.manager
	m.mu.Lock()
	if d == t.period && !fromNow {
		m.mu.Unlock()
		return true
	}
	if t.cb == nil || t.index < 0 {
		m.mu.Unlock()
		return false
	}
	heap.Remove(&m.timers, t.index)
	start := t.next.Add(-t.period)
	if fromNow {
		start = m.now()
	}
	t.period = d
	t.next = start.Add(d)
	m.insertLocked(t)
	return true
}

// Period returns the timer's interval.
func (t *Timer) Period() time.Duration {
	t.manager.mu.RLock()
	defer t.manager.mu.RUnlock()
	return t.period
}

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].seq < h[j].seq
	}
	return h[i].next.Before(h[j].next)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

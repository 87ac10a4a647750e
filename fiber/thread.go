package fiber

import "sync/atomic"

var threadCounter atomic.Int64

// Thread is the per-worker context shared by every fiber the worker
// swaps in: its identity, whether blocking calls are hooked, and the
// scheduler that owns it. A fiber observes the Thread of whoever last
// swapped it in, so the record follows a fiber as it migrates.
type Thread struct {
	id        int
	name      string
	hook      atomic.Bool
	scheduler atomic.Pointer[schedulerRef]
}

type schedulerRef struct{ v any }

func newThread(name string) *Thread {
	return &Thread{id: int(threadCounter.Add(1)), name: name}
}

// ID is unique per thread record for the life of the process. It is not
// an OS thread id: goroutines that never lock their OS thread may share
// one.
func (t *Thread) ID() int { return t.id }

func (t *Thread) Name() string { return t.name }

func (t *Thread) HookEnabled() bool { return t.hook.Load() }

func (t *Thread) SetHookEnabled(enabled bool) { t.hook.Store(enabled) }

// Scheduler returns the value stored by SetScheduler, or nil.
func (t *Thread) Scheduler() any {
	if ref := t.scheduler.Load(); ref != nil {
		return ref.v
	}
	return nil
}

func (t *Thread) SetScheduler(v any) {
	if v == nil {
		t.scheduler.Store(nil)
		return
	}
	t.scheduler.Store(&schedulerRef{v: v})
}

// CurrentThread returns the thread of the calling fiber, creating the
// root fiber of the calling goroutine if necessary.
func CurrentThread() *Thread {
	return GetThis().Thread()
}

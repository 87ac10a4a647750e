// Package scheduler dispatches fibers and callbacks across a pool of
// worker threads, and extends that pool into an epoll reactor
// ([IOManager]).
//
// # Dispatch
//
// Each worker is a goroutine locked to its OS thread. It repeatedly takes
// the first queued [Task] it may run (tasks pinned to another worker's
// thread are skipped, as are fibers still executing elsewhere) and swaps
// it in. A fiber that yields READY is queued again; one that yields HOLD
// is left to whoever arranged its wake-up (an I/O event, a timer). Plain
// callbacks run on a scratch fiber that the worker reuses while they keep
// terminating.
//
// When nothing is runnable the worker swaps in its idle fiber. For a
// plain Scheduler the idle fiber parks until tickled; for an IOManager it
// is the reactor loop. A worker exits once its idle fiber terminates,
// which happens when the scheduler is stopping and has drained.
//
// # Caller thread
//
// With useCaller, the goroutine that constructs the scheduler counts as
// one of its workers. Its dispatch loop runs on a dedicated fiber that is
// only driven from [Scheduler.Stop], which must then be called from that
// same goroutine.
package scheduler

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/go-fiberio/fiber"
	"github.com/joeycumines/go-fiberio/internal/assert"
	"github.com/joeycumines/go-fiberio/internal/logging"
)

// driver is the idle-duty extension point. A plain Scheduler drives
// itself; an IOManager replaces it with the reactor.
type driver interface {
	tickle()
	stopping() bool
	idle()
}

// Scheduler is an M:N fiber scheduler. See the package docs.
type Scheduler struct {
	name string
	opts *options
	drv  driver
	log  *logiface.Logger[logiface.Event]

	mu        sync.Mutex
	tasks     []Task
	group     *errgroup.Group
	threadIDs []int

	threadCount   int
	activeThreads atomic.Int32
	idleThreads   atomic.Int32

	stopRequested atomic.Bool
	autoStop      atomic.Bool

	rootFiber  *fiber.Fiber
	rootThread int

	// notify parks idle workers of a plain Scheduler.
	notify chan struct{}
}

// New creates a Scheduler with threads workers. It must be started with
// [Scheduler.Start].
func New(threads int, useCaller bool, name string, opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(&options{}, opts)
	if err != nil {
		return nil, err
	}
	s, err := newScheduler(threads, useCaller, name, cfg)
	if err != nil {
		return nil, err
	}
	s.drv = s
	return s, nil
}

func newScheduler(threads int, useCaller bool, name string, cfg *options) (*Scheduler, error) {
	if threads <= 0 {
		return nil, ErrInvalidThreads
	}
	s := &Scheduler{
		name:       name,
		opts:       cfg,
		log:        logging.Named("system"),
		rootThread: AnyThread,
		notify:     make(chan struct{}, 1),
	}
	s.stopRequested.Store(true)

	if useCaller {
		if GetThis() != nil {
			return nil, ErrCallerBound
		}
		threads--
		thread := fiber.CurrentThread()
		thread.SetScheduler(s)
		s.rootFiber = fiber.New(s.run, 0)
		s.rootThread = thread.ID()
		s.threadIDs = append(s.threadIDs, s.rootThread)
	}
	s.threadCount = threads
	return s, nil
}

// GetThis returns the scheduler owning the calling fiber's thread, or nil.
func GetThis() *Scheduler {
	f := fiber.Current()
	if f == nil {
		return nil
	}
	t := f.Thread()
	if t == nil {
		return nil
	}
	s, _ := t.Scheduler().(*Scheduler)
	return s
}

func (s *Scheduler) Name() string { return s.name }

// ThreadIDs returns the thread ids of the workers, including the caller
// thread when useCaller was set.
func (s *Scheduler) ThreadIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.threadIDs)
}

// ActiveThreads is the number of workers currently running a task.
func (s *Scheduler) ActiveThreads() int { return int(s.activeThreads.Load()) }

// IdleThreads is the number of workers currently in their idle fiber.
func (s *Scheduler) IdleThreads() int { return int(s.idleThreads.Load()) }

func (s *Scheduler) HasIdleThreads() bool { return s.idleThreads.Load() > 0 }

// Start spawns the worker threads. It is a no-op if already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopRequested.Load() {
		return
	}
	s.stopRequested.Store(false)
	assert.That(s.group == nil, "scheduler: %s started twice", s.name)

	var g errgroup.Group
	var ready sync.WaitGroup
	ids := make([]int, s.threadCount)
	for i := range s.threadCount {
		ready.Add(1)
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			thread := fiber.BindThread(fmt.Sprintf("%s_%d", s.name, i))
			defer fiber.ReleaseThread()
			ids[i] = thread.ID()
			ready.Done()
			s.run()
			return nil
		})
	}
	ready.Wait()
	s.group = &g
	s.threadIDs = append(s.threadIDs, ids...)
}

// Stop requests shutdown and waits for the workers to drain and exit. It
// is idempotent. With useCaller it must be called from the constructing
// goroutine, whose dispatch loop runs until drained; otherwise it must
// not be called from one of the scheduler's own fibers.
func (s *Scheduler) Stop() {
	s.autoStop.Store(true)
	if s.rootFiber != nil && s.threadCount == 0 {
		if state := s.rootFiber.State(); state == fiber.StateTerm || state == fiber.StateInit {
			s.stopRequested.Store(true)
			if s.drv.stopping() {
				s.log.Info().Str("scheduler", s.name).Log("scheduler: stopped")
				return
			}
		}
	}

	if s.rootFiber != nil {
		assert.That(GetThis() == s, "scheduler: %s must be stopped from its caller thread", s.name)
	} else {
		assert.That(GetThis() != s, "scheduler: %s cannot be stopped from its own thread", s.name)
	}

	s.stopRequested.Store(true)
	for range s.threadCount {
		s.drv.tickle()
	}
	if s.rootFiber != nil {
		s.drv.tickle()
		if !s.drv.stopping() && s.rootFiber.State().Resumable() {
			s.rootFiber.SwapIn()
		}
	}

	s.mu.Lock()
	g := s.group
	s.group = nil
	s.mu.Unlock()
	if g != nil {
		_ = g.Wait()
		s.log.Info().Str("scheduler", s.name).Log("scheduler: stopped")
	}
}

// Stopping reports whether the scheduler has been asked to stop and has
// no work left.
func (s *Scheduler) Stopping() bool { return s.drv.stopping() }

// ScheduleFiber queues f to be swapped in, on the worker whose thread id
// is thread, or any worker for AnyThread.
func (s *Scheduler) ScheduleFiber(f *fiber.Fiber, thread int) {
	s.Schedule(FiberTask(f, thread))
}

// ScheduleFunc queues cb to run on a scratch fiber.
func (s *Scheduler) ScheduleFunc(cb func(), thread int) {
	s.Schedule(FuncTask(cb, thread))
}

// Schedule queues a task, waking an idle worker if the queue was empty.
func (s *Scheduler) Schedule(task Task) {
	s.ScheduleBatch(task)
}

// ScheduleBatch queues every task under a single lock acquisition,
// tickling at most once.
func (s *Scheduler) ScheduleBatch(tasks ...Task) {
	if len(tasks) == 0 {
		return
	}
	s.mu.Lock()
	needTickle := len(s.tasks) == 0
	for _, task := range tasks {
		assert.That(task.valid(), "scheduler: task must have exactly one of fiber or func")
		s.tasks = append(s.tasks, task)
	}
	s.mu.Unlock()

	if needTickle {
		s.drv.tickle()
	}
}

func (s *Scheduler) hasTasks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) != 0
}

// next pops the first task runnable on thread. busy reports that a task
// was passed over only because its fiber is still executing.
func (s *Scheduler) next(thread int) (task Task, ok, tickleMe, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		if t.Thread != AnyThread && t.Thread != thread {
			tickleMe = true
			continue
		}
		if t.Fiber != nil && t.Fiber.State() == fiber.StateExec {
			busy = true
			continue
		}
		s.tasks = slices.Delete(s.tasks, i, i+1)
		s.activeThreads.Add(1)
		tickleMe = tickleMe || len(s.tasks) != 0
		return t, true, tickleMe, busy
	}
	return Task{}, false, tickleMe, busy
}

// run is the dispatch loop of one worker.
func (s *Scheduler) run() {
	thread := fiber.CurrentThread()
	thread.SetScheduler(s)
	thread.SetHookEnabled(s.opts.hookEnabled)
	s.log.Debug().
		Str("scheduler", s.name).
		Int("thread", thread.ID()).
		Log("scheduler: run")

	idleFiber := fiber.New(s.drv.idle, 0)
	var cbFiber *fiber.Fiber

	for {
		task, ok, tickleMe, busy := s.next(thread.ID())
		if tickleMe {
			s.drv.tickle()
		}

		switch {
		case ok && task.Fiber != nil && !task.Fiber.State().Done():
			state := task.Fiber.SwapIn()
			s.activeThreads.Add(-1)
			if state == fiber.StateReady {
				s.ScheduleFiber(task.Fiber, AnyThread)
			}

		case ok && task.Func != nil:
			if cbFiber != nil {
				cbFiber.Reset(task.Func)
			} else {
				cbFiber = fiber.New(task.Func, 0)
			}
			state := cbFiber.SwapIn()
			s.activeThreads.Add(-1)
			switch {
			case state == fiber.StateReady:
				s.ScheduleFiber(cbFiber, AnyThread)
				cbFiber = nil
			case state.Done():
				// reused by the next callback
			default:
				cbFiber = nil
			}

		case ok:
			// a fiber that finished after it was queued
			s.activeThreads.Add(-1)

		case busy:
			runtime.Gosched()

		default:
			if idleFiber.State().Done() {
				s.log.Debug().
					Str("scheduler", s.name).
					Int("thread", thread.ID()).
					Log("scheduler: idle fiber terminated")
				return
			}
			s.idleThreads.Add(1)
			idleFiber.SwapIn()
			s.idleThreads.Add(-1)
		}
	}
}

func (s *Scheduler) tickle() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoStop.Load() && s.stopRequested.Load() && len(s.tasks) == 0 && s.activeThreads.Load() == 0
}

func (s *Scheduler) idle() {
	for !s.stopping() {
		<-s.notify
		fiber.YieldToHold()
	}
	// pass the wake-up on, so every parked worker observes the stop
	s.tickle()
}

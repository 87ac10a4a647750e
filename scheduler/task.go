package scheduler

import (
	"github.com/joeycumines/go-fiberio/fiber"
)

// AnyThread is the affinity of a task that may run on any worker.
const AnyThread = -1

// Task is a unit of work for a [Scheduler]: exactly one of Fiber or Func,
// optionally pinned to the worker whose thread id is Thread.
type Task struct {
	Fiber  *fiber.Fiber
	Func   func()
	Thread int
}

// FiberTask returns a task resuming f.
func FiberTask(f *fiber.Fiber, thread int) Task {
	return Task{Fiber: f, Thread: thread}
}

// FuncTask returns a task running cb on a scratch fiber.
func FuncTask(cb func(), thread int) Task {
	return Task{Func: cb, Thread: thread}
}

func (t Task) valid() bool {
	return (t.Fiber != nil) != (t.Func != nil)
}

// Package fiber implements cooperatively scheduled units of execution.
//
// # Execution model
//
// Each fiber body runs on a goroutine of its own, started by the first
// [Fiber.SwapIn]. Control passes between a fiber and whoever swapped it in
// as a baton: SwapIn blocks the caller until the fiber yields or returns,
// and a yielded fiber blocks until it is swapped in again. Exactly one
// side of each pair executes at a time, so fibers driven by the same
// worker never run concurrently.
//
// Every goroutine that touches this package has an implicit root fiber,
// created on first use by [GetThis]. A root fiber is always EXEC, has no
// entry function, cannot be reset, and owns the [Thread] record that
// fibers it swaps in inherit.
//
// Contract violations (swapping in a running fiber, resetting a fiber that
// has not finished) are fatal: they panic with an *assert.Violation that
// fiber bodies never recover.
package fiber

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync/atomic"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-fiberio/config"
	"github.com/joeycumines/go-fiberio/internal/assert"
	"github.com/joeycumines/go-fiberio/internal/goid"
	"github.com/joeycumines/go-fiberio/internal/logging"
)

var (
	stackSize = config.Lookup[uint32]("fiber.stack_size", 128*1024, "fiber stack size")

	idCounter   atomic.Uint64
	totalFibers atomic.Int64
)

func logger() *logiface.Logger[logiface.Event] { return logging.Named("system") }

// Fiber is a suspendable unit of execution. See the package docs.
type Fiber struct {
	id        uint64
	stackSize uint32
	root      bool

	state  atomic.Int32
	thread atomic.Pointer[Thread]

	entry func()

	// caller is the fiber blocked in SwapIn on this one. Written by SwapIn
	// before the baton is handed over, read by the body before it yields.
	caller *Fiber

	// resume carries the baton into a yielded fiber.
	resume chan struct{}
	// wake carries the baton back to this fiber while it is the caller.
	wake chan State
}

// New allocates a fiber in StateInit. A zero stackSize selects the
// fiber.stack_size setting; it is advisory since goroutine stacks grow.
func New(entry func(), stackSize uint32) *Fiber {
	assert.That(entry != nil, "fiber: nil entry")
	return newFiber(entry, stackSize, false)
}

func newFiber(entry func(), size uint32, root bool) *Fiber {
	if size == 0 && !root {
		size = stackSize.Value()
	}
	f := &Fiber{
		id:        idCounter.Add(1),
		stackSize: size,
		root:      root,
		entry:     entry,
		resume:    make(chan struct{}),
		wake:      make(chan State),
	}
	totalFibers.Add(1)
	runtime.AddCleanup(f, func(struct{}) { totalFibers.Add(-1) }, struct{}{})
	logger().Debug().
		Uint64("fiber_id", f.id).
		Bool("root", root).
		Log("fiber: created")
	return f
}

// TotalFibers returns the number of fibers not yet garbage collected.
func TotalFibers() int64 { return totalFibers.Load() }

func (f *Fiber) ID() uint64 { return f.id }

func (f *Fiber) State() State { return State(f.state.Load()) }

func (f *Fiber) StackSize() uint32 { return f.stackSize }

// IsRoot reports whether f is the implicit root fiber of a goroutine.
func (f *Fiber) IsRoot() bool { return f.root }

// Thread returns the thread that last swapped f in (for a root fiber,
// its own thread), or nil if f never ran.
func (f *Fiber) Thread() *Thread { return f.thread.Load() }

func (f *Fiber) String() string {
	return "fiber#" + strconv.FormatUint(f.id, 10) + "(" + f.State().String() + ")"
}

// Reset rearms a fiber with a new entry function. It is legal only for a
// non-root fiber in StateInit, StateTerm, or StateExcept.
func (f *Fiber) Reset(entry func()) {
	assert.That(entry != nil, "fiber: nil entry")
	assert.That(!f.root, "fiber: cannot reset root fiber %d", f.id)
	state := f.State()
	assert.That(state.Resettable(), "fiber: cannot reset fiber %d in state %s", f.id, state)
	f.entry = entry
	f.caller = nil
	f.state.Store(int32(StateInit))
}

// SwapIn transfers execution from the calling fiber to f, returning once
// f yields or finishes. The result is the state f left with: one of
// StateReady, StateHold, StateTerm, or StateExcept. Callers must act on
// the returned value rather than re-reading f.State, since a yielded
// fiber may be picked up by another worker immediately.
func (f *Fiber) SwapIn() State {
	assert.That(!f.root, "fiber: cannot swap in root fiber %d", f.id)

	var prev State
	for {
		prev = f.State()
		assert.That(prev.Resumable(), "fiber: cannot swap in fiber %d in state %s", f.id, prev)
		if f.state.CompareAndSwap(int32(prev), int32(StateExec)) {
			break
		}
	}

	caller := GetThis()
	assert.That(caller != f, "fiber: fiber %d cannot swap itself in", f.id)
	f.caller = caller
	f.thread.Store(caller.Thread())

	if prev == StateInit {
		go f.main(f.entry)
	} else {
		f.resume <- struct{}{}
	}

	return <-caller.wake
}

// SwapOut suspends the calling fiber, which must be f, in StateHold.
func (f *Fiber) SwapOut() {
	assert.That(Current() == f, "fiber: SwapOut of fiber %d from another context", f.id)
	f.yield(StateHold)
}

// YieldToReady suspends the calling fiber in StateReady.
func YieldToReady() {
	current(`YieldToReady`).yield(StateReady)
}

// YieldToHold suspends the calling fiber in StateHold.
func YieldToHold() {
	current(`YieldToHold`).yield(StateHold)
}

func current(op string) *Fiber {
	f := Current()
	assert.That(f != nil && !f.root, "fiber: %s outside of a fiber", op)
	return f
}

func (f *Fiber) yield(state State) {
	assert.That(!f.root, "fiber: cannot yield root fiber %d", f.id)
	assert.That(f.State() == StateExec, "fiber: yield of fiber %d in state %s", f.id, f.State())
	// caller must be read before the state is published: once it is, a
	// different worker may swap f in and overwrite it
	caller := f.caller
	f.state.Store(int32(state))
	caller.wake <- state
	<-f.resume
}

func (f *Fiber) main(entry func()) {
	id := goid.Get()
	registry.Store(id, f)

	state := f.run(entry)

	f.entry = nil
	registry.Delete(id)
	caller := f.caller
	f.state.Store(int32(state))
	caller.wake <- state
}

func (f *Fiber) run(entry func()) (state State) {
	defer func() {
		if r := recover(); r != nil {
			if assert.IsViolation(r) {
				panic(r)
			}
			state = StateExcept
			logger().Err().
				Uint64("fiber_id", f.id).
				Any("panic", r).
				Str("stack", string(debug.Stack())).
				Log("fiber: entry panicked")
		}
	}()
	entry()
	return StateTerm
}

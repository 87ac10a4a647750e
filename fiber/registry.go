package fiber

import (
	"sync"

	"github.com/joeycumines/go-fiberio/internal/goid"
)

// registry maps goroutine id to the fiber executing on that goroutine:
// either a fiber body, or the root fiber of a plain goroutine.
var registry sync.Map

func lookup(id uint64) *Fiber {
	if v, ok := registry.Load(id); ok {
		return v.(*Fiber)
	}
	return nil
}

// Current returns the calling fiber, or nil if the calling goroutine has
// neither a fiber body nor a root fiber.
func Current() *Fiber {
	return lookup(goid.Get())
}

// CurrentID returns the id of the calling fiber, or 0.
func CurrentID() uint64 {
	if f := Current(); f != nil {
		return f.id
	}
	return 0
}

// GetThis returns the calling fiber, lazily creating a root fiber (and a
// fresh Thread) for a goroutine that has none.
func GetThis() *Fiber {
	id := goid.Get()
	if f := lookup(id); f != nil {
		return f
	}
	return bindRoot(id, "")
}

// BindThread creates the root fiber and Thread of the calling goroutine,
// with the given name. It panics if the goroutine is already bound.
func BindThread(name string) *Thread {
	id := goid.Get()
	if f := lookup(id); f != nil {
		panic("fiber: goroutine already bound to fiber " + f.String())
	}
	return bindRoot(id, name).Thread()
}

// ReleaseThread forgets the root fiber of the calling goroutine. It is a
// no-op inside a fiber body or for an unbound goroutine.
func ReleaseThread() {
	id := goid.Get()
	if f := lookup(id); f != nil && f.root {
		registry.Delete(id)
		logger().Debug().
			Uint64("fiber_id", f.id).
			Log("fiber: released thread root")
	}
}

func bindRoot(id uint64, name string) *Fiber {
	f := newFiber(nil, 0, true)
	f.state.Store(int32(StateExec))
	f.thread.Store(newThread(name))
	registry.Store(id, f)
	return f
}

package fiber

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fassert "github.com/joeycumines/go-fiberio/internal/assert"
)

func requireViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		if r := recover(); !fassert.IsViolation(r) {
			t.Errorf("expected assertion violation, got %#v", r)
		}
	}()
	fn()
	t.Error("expected panic")
}

func TestFiber_swapSequence(t *testing.T) {
	var trace []string
	f := New(func() {
		trace = append(trace, "a")
		YieldToReady()
		trace = append(trace, "b")
		YieldToHold()
		trace = append(trace, "c")
	}, 0)

	require.Equal(t, StateInit, f.State())
	assert.Equal(t, StateReady, f.SwapIn())
	assert.Equal(t, StateHold, f.SwapIn())
	assert.Equal(t, StateTerm, f.SwapIn())
	assert.Equal(t, []string{"a", "b", "c"}, trace)
	assert.Equal(t, StateTerm, f.State())
}

func TestFiber_neverExecAfterSwapIn(t *testing.T) {
	f := New(func() {
		for range 10 {
			YieldToReady()
		}
	}, 0)
	for {
		s := f.SwapIn()
		require.NotEqual(t, StateExec, s)
		require.NotEqual(t, StateExec, f.State())
		if s.Done() {
			break
		}
	}
}

func TestFiber_panicIsExcept(t *testing.T) {
	f := New(func() { panic(errors.New("boom")) }, 0)
	assert.Equal(t, StateExcept, f.SwapIn())
	assert.Equal(t, StateExcept, f.State())
}

func TestFiber_reset(t *testing.T) {
	var n int
	f := New(func() { n++ }, 0)
	require.Equal(t, StateTerm, f.SwapIn())

	f.Reset(func() { n += 10 })
	require.Equal(t, StateInit, f.State())
	require.Equal(t, StateTerm, f.SwapIn())
	assert.Equal(t, 11, n)

	f.Reset(func() { panic("x") })
	require.Equal(t, StateExcept, f.SwapIn())
	f.Reset(func() {})
	assert.Equal(t, StateTerm, f.SwapIn())
}

func TestFiber_resetWhileSuspended(t *testing.T) {
	f := New(func() {
		YieldToReady()
		YieldToHold()
	}, 0)
	require.Equal(t, StateReady, f.SwapIn())
	requireViolation(t, func() { f.Reset(func() {}) })
	require.Equal(t, StateHold, f.SwapIn())
	requireViolation(t, func() { f.Reset(func() {}) })
	require.Equal(t, StateTerm, f.SwapIn())
}

func TestFiber_swapInFinished(t *testing.T) {
	f := New(func() {}, 0)
	require.Equal(t, StateTerm, f.SwapIn())
	requireViolation(t, func() { f.SwapIn() })
}

func TestFiber_root(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ReleaseThread()

		assert.Nil(t, Current())
		root := GetThis()
		assert.True(t, root.IsRoot())
		assert.Equal(t, StateExec, root.State())
		assert.Same(t, root, GetThis())
		assert.Equal(t, root.ID(), CurrentID())
		assert.NotNil(t, root.Thread())

		requireViolation(t, func() { root.Reset(func() {}) })
		requireViolation(t, func() { root.SwapIn() })
		requireViolation(t, YieldToHold)
	}()
	<-done
}

func TestReleaseThread(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		first := GetThis()
		ReleaseThread()
		assert.Nil(t, Current())
		second := GetThis()
		assert.NotSame(t, first, second)
		ReleaseThread()
	}()
	<-done
}

func TestFiber_currentInsideBody(t *testing.T) {
	var inside *Fiber
	var thread *Thread
	f := New(func() {
		inside = GetThis()
		thread = CurrentThread()
	}, 0)
	f.SwapIn()
	assert.Same(t, f, inside)
	assert.Same(t, GetThis().Thread(), thread)
}

func TestFiber_nested(t *testing.T) {
	var trace []string
	inner := New(func() {
		trace = append(trace, "inner")
		YieldToHold()
		trace = append(trace, "inner-end")
	}, 0)
	outer := New(func() {
		trace = append(trace, "outer")
		assert.Equal(t, StateHold, inner.SwapIn())
		YieldToReady()
		assert.Equal(t, StateTerm, inner.SwapIn())
		trace = append(trace, "outer-end")
	}, 0)
	require.Equal(t, StateReady, outer.SwapIn())
	require.Equal(t, StateTerm, outer.SwapIn())
	assert.Equal(t, []string{"outer", "inner", "inner-end", "outer-end"}, trace)
}

func TestFiber_migratesBetweenGoroutines(t *testing.T) {
	f := New(func() {
		for range 4 {
			YieldToHold()
		}
	}, 0)
	var threads []*Thread
	var mu sync.Mutex
	for i := 0; ; i++ {
		var s State
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer ReleaseThread()
			s = f.SwapIn()
			mu.Lock()
			threads = append(threads, f.Thread())
			mu.Unlock()
		}()
		<-done
		if s == StateTerm {
			break
		}
		require.Equal(t, StateHold, s)
	}
	require.Len(t, threads, 5)
	assert.NotSame(t, threads[0], threads[1])
}

func TestFiber_stackSize(t *testing.T) {
	assert.Equal(t, uint32(4096), New(func() {}, 4096).StackSize())
	assert.Equal(t, stackSize.Value(), New(func() {}, 0).StackSize())
}

func TestTotalFibers(t *testing.T) {
	before := TotalFibers()
	f := New(func() {}, 0)
	assert.GreaterOrEqual(t, TotalFibers(), before+1)
	f.SwapIn()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "HOLD", StateHold.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestThread_uniqueIDs(t *testing.T) {
	const n = 16
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer ReleaseThread()
			ids <- BindThread("").ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool, n)
	for id := range ids {
		assert.Positive(t, id)
		assert.False(t, seen[id], "duplicate thread id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

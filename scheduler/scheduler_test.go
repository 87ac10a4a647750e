package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-fiberio/fiber"
)

func newStarted(t *testing.T, threads int) *Scheduler {
	t.Helper()
	s, err := New(threads, false, t.Name())
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestNew_invalidThreads(t *testing.T) {
	_, err := New(0, false, "x")
	assert.ErrorIs(t, err, ErrInvalidThreads)
}

func TestScheduler_callbacks(t *testing.T) {
	s := newStarted(t, 3)
	require.Len(t, s.ThreadIDs(), 3)

	var n atomic.Int32
	for range 100 {
		s.ScheduleFunc(func() { n.Add(1) }, AnyThread)
	}
	s.Stop()
	assert.Equal(t, int32(100), n.Load())
	assert.True(t, s.Stopping())
}

func TestScheduler_batch(t *testing.T) {
	s := newStarted(t, 2)
	var n atomic.Int32
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = FuncTask(func() { n.Add(1) }, AnyThread)
	}
	s.ScheduleBatch(tasks...)
	s.Stop()
	assert.Equal(t, int32(10), n.Load())
}

func TestScheduler_stopIdempotent(t *testing.T) {
	s := newStarted(t, 2)
	s.Stop()
	s.Stop()
	assert.True(t, s.Stopping())
}

func TestScheduler_fiberYieldReady(t *testing.T) {
	s := newStarted(t, 2)
	var steps atomic.Int32
	done := make(chan struct{})
	f := fiber.New(func() {
		for range 5 {
			steps.Add(1)
			fiber.YieldToReady()
		}
		close(done)
	}, 0)
	s.ScheduleFiber(f, AnyThread)
	waitFor(t, done, "fiber")
	assert.Equal(t, int32(5), steps.Load())
}

func TestScheduler_holdUntilRescheduled(t *testing.T) {
	s := newStarted(t, 1)
	parked := make(chan *fiber.Fiber, 1)
	resumed := make(chan struct{})
	s.ScheduleFunc(func() {
		parked <- fiber.GetThis()
		fiber.YieldToHold()
		close(resumed)
	}, AnyThread)

	var f *fiber.Fiber
	select {
	case f = <-parked:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}

	select {
	case <-resumed:
		t.Fatal("held fiber resumed on its own")
	case <-time.After(50 * time.Millisecond):
	}

	s.ScheduleFiber(f, AnyThread)
	waitFor(t, resumed, "held fiber")
}

func TestScheduler_affinity(t *testing.T) {
	s := newStarted(t, 3)
	ids := s.ThreadIDs()
	target := ids[2]

	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		s.ScheduleFunc(func() {
			defer wg.Done()
			mu.Lock()
			seen = append(seen, fiber.CurrentThread().ID())
			mu.Unlock()
		}, target)
	}
	wg.Wait()
	require.Len(t, seen, 20)
	for _, id := range seen {
		assert.Equal(t, target, id)
	}
}

func TestScheduler_getThis(t *testing.T) {
	s := newStarted(t, 1)
	assert.Nil(t, GetThis())
	got := make(chan *Scheduler, 1)
	hook := make(chan bool, 1)
	s.ScheduleFunc(func() {
		got <- GetThis()
		hook <- fiber.CurrentThread().HookEnabled()
	}, AnyThread)
	assert.Same(t, s, <-got)
	assert.False(t, <-hook)
}

func TestScheduler_panicDoesNotKillWorker(t *testing.T) {
	s := newStarted(t, 1)
	done := make(chan struct{})
	s.ScheduleFunc(func() { panic("boom") }, AnyThread)
	s.ScheduleFunc(func() { close(done) }, AnyThread)
	waitFor(t, done, "callback after panic")
}

func TestScheduler_useCaller(t *testing.T) {
	result := make(chan []int, 1)
	go func() {
		defer fiber.ReleaseThread()
		s, err := New(1, true, "caller")
		if !assert.NoError(t, err) {
			result <- nil
			return
		}
		s.Start()
		assert.Len(t, s.ThreadIDs(), 1)

		var order []int
		for i := range 3 {
			s.ScheduleFunc(func() { order = append(order, i) }, AnyThread)
		}
		assert.Empty(t, order, "nothing runs before Stop")
		s.Stop()
		s.Stop()
		result <- order
	}()
	select {
	case order := <-result:
		assert.Equal(t, []int{0, 1, 2}, order)
	case <-time.After(5 * time.Second):
		t.Fatal("caller scheduler did not stop")
	}
}

func TestScheduler_useCallerAffinity(t *testing.T) {
	type result struct {
		ids        []int
		ranInStop  bool
		ranOn      int
		callerID   int
		earlyCount int
	}
	out := make(chan result, 1)
	go func() {
		defer fiber.ReleaseThread()
		s, err := New(8, true, "caller_affinity")
		if !assert.NoError(t, err) {
			out <- result{}
			return
		}
		s.Start()

		var (
			r       result
			inStop  atomic.Bool
			ran     atomic.Int32
			ranOnID atomic.Int64
		)
		r.ids = s.ThreadIDs()
		r.callerID = fiber.CurrentThread().ID()
		s.ScheduleFunc(func() {
			ran.Add(1)
			ranOnID.Store(int64(fiber.CurrentThread().ID()))
			r.ranInStop = inStop.Load()
		}, r.callerID)

		time.Sleep(100 * time.Millisecond)
		r.earlyCount = int(ran.Load())
		inStop.Store(true)
		s.Stop()
		r.ranOn = int(ranOnID.Load())
		out <- r
	}()

	var r result
	select {
	case r = <-out:
	case <-time.After(5 * time.Second):
		t.Fatal("caller scheduler did not stop")
	}
	require.Len(t, r.ids, 8)
	assert.Equal(t, r.callerID, r.ids[0])
	seen := make(map[int]bool)
	for _, id := range r.ids {
		assert.False(t, seen[id], "duplicate thread id %d in %v", id, r.ids)
		seen[id] = true
	}
	assert.Zero(t, r.earlyCount, "task pinned to the caller ran on a worker")
	assert.True(t, r.ranInStop)
	assert.Equal(t, r.callerID, r.ranOn)
}

func TestScheduler_useCallerAlreadyBound(t *testing.T) {
	s := newStarted(t, 1)
	errs := make(chan error, 1)
	s.ScheduleFunc(func() {
		_, err := New(1, true, "nested")
		errs <- err
	}, AnyThread)
	assert.ErrorIs(t, <-errs, ErrCallerBound)
}

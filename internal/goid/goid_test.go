package goid

import (
	"sync"
	"testing"
)

func TestGet_stable(t *testing.T) {
	a, b := Get(), Get()
	if a == 0 || a != b {
		t.Fatalf("unexpected ids: %d %d", a, b)
	}
}

func TestGet_distinct(t *testing.T) {
	const n = 16
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- Get()
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[uint64]struct{}{Get(): {}}
	for id := range ids {
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate goroutine id %d", id)
		}
		seen[id] = struct{}{}
	}
}

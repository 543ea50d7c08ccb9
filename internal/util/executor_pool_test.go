package util

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestExecutorPool_ProcessesAllItems(t *testing.T) {
	var processed int64
	pool := NewExecutorPool(4, 10, func(n int) {
		atomic.AddInt64(&processed, int64(n))
	})

	total := int64(0)
	for i := 1; i <= 100; i++ {
		pool.Submit(i)
		total += int64(i)
	}
	pool.Close()

	if processed != total {
		t.Errorf("processed sum = %d, want %d", processed, total)
	}
}

func TestExecutorPool_BoundsConcurrency(t *testing.T) {
	const limit = 3
	var current, peak int64
	var mu sync.Mutex

	gate := make(chan struct{})
	pool := NewExecutorPool(limit, 20, func(int) {
		n := atomic.AddInt64(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		<-gate
		atomic.AddInt64(&current, -1)
	})

	for i := 0; i < 10; i++ {
		pool.Submit(i)
	}
	close(gate)
	pool.Close()

	if peak > limit {
		t.Errorf("peak concurrency = %d, limit %d", peak, limit)
	}
}

func TestExecutorPool_SubmitAfterClose(t *testing.T) {
	pool := NewExecutorPool(1, 1, func(int) {})
	pool.Close()

	// Must not panic or block.
	pool.Submit(1)
	pool.Close()
}

func TestSafeMap(t *testing.T) {
	sm := NewSafeMap[int]()

	if _, ok := sm.Get("missing"); ok {
		t.Error("missing key should not be found")
	}

	sm.Set("a", 1)
	sm.Set("b", 2)
	sm.Set("a", 3)

	if v, ok := sm.Get("a"); !ok || v != 3 {
		t.Errorf("a = %d %v", v, ok)
	}
	if keys := sm.Keys(); len(keys) != 2 {
		t.Errorf("keys = %v", keys)
	}
}

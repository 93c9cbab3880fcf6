// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBoundedFIFOOrder(t *testing.T) {
	q := NewBounded(1, 0)
	for i := 0; i < 5; i++ {
		q.Push(i, 1)
	}
	q.Done()
	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		if !ok || v.(int) != i {
			t.Fatalf("expected %d, got %v (ok=%v)", i, v, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected drained queue to report done")
	}
}

func TestBoundedCostLimitBlocksProducer(t *testing.T) {
	q := NewBounded(1, 2)
	done := make(chan struct{})
	go func() {
		q.Push("a", 2)
		q.Push("b", 2) // must block until "a" (cost 2) is popped
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("second push should have blocked under the cost ceiling")
	default:
	}

	if v, ok := q.Pop(); !ok || v.(string) != "a" {
		t.Fatalf("unexpected pop: %v %v", v, ok)
	}
	<-done
	q.Done()
	if v, ok := q.Pop(); !ok || v.(string) != "b" {
		t.Fatalf("unexpected pop: %v %v", v, ok)
	}
}

func TestPriorityDeliversInOrder(t *testing.T) {
	q := NewPriority(0, 3)
	var wg sync.WaitGroup
	order := []uint64{2, 0, 1}
	for _, p := range order {
		wg.Add(1)
		go func(p uint64) {
			defer wg.Done()
			q.Push(p, p)
			q.Done()
		}(p)
	}
	wg.Wait()

	for want := uint64(0); want < 3; want++ {
		v, ok := q.Pop()
		if !ok || v.(uint64) != want {
			t.Fatalf("expected %d, got %v (ok=%v)", want, v, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected queue to report completion after all items drained")
	}
}

func TestBarrierReleasesAllParticipants(t *testing.T) {
	const n = 8
	b := NewBarrier(n)
	var before, after int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			atomic.AddInt32(&before, 1)
			b.Arrive()
			atomic.AddInt32(&after, 1)
		}()
	}
	wg.Wait()
	if after != n {
		t.Fatalf("expected all %d participants past the barrier, got %d", n, after)
	}
}

func TestBarrierBorrowsWhileWaiting(t *testing.T) {
	b := NewBarrier(2)
	var borrowCalls int32
	var mu sync.Mutex
	workQueue := []int{1, 2, 3}

	b.Borrow = func() bool {
		mu.Lock()
		defer mu.Unlock()
		atomic.AddInt32(&borrowCalls, 1)
		if len(workQueue) == 0 {
			return false
		}
		workQueue = workQueue[1:]
		return true
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.Arrive() // arrives first, borrows until the other participant shows up
	}()
	go func() {
		defer wg.Done()
		time.Sleep(30 * time.Millisecond)
		b.Arrive()
	}()
	wg.Wait()

	if atomic.LoadInt32(&borrowCalls) == 0 {
		t.Fatalf("expected the early arriver to borrow at least once while waiting")
	}
}

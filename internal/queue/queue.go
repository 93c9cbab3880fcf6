// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package queue implements the bounded work queues and reusable barrier
// the segmentation engine (C5) uses to fan work out to a worker pool and
// reassemble results in order, grounded on the cost-bounded and
// priority-ordered queues of the original implementation's queue.h and
// generalized to the teacher's channel/WaitGroup/heap idiom (parallel.go).
package queue

import (
	"container/heap"
	"sync"
)

// Bounded is a FIFO queue bounded by total item cost rather than item
// count (e.g. total bytes rather than number of contigs), with a
// registering-producer mechanism: Pop returns ok=false only once every
// producer has called Done and the queue has drained, mirroring
// CBoundedQueue's "is there more data coming" contract.
type Bounded struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items       []boundedItem
	producers   int
	maxCost     int
	currentCost int
}

type boundedItem struct {
	value interface{}
	cost  int
}

// NewBounded creates a queue with nProducers active producers and a total
// cost ceiling of maxCost (0 means unbounded).
func NewBounded(nProducers, maxCost int) *Bounded {
	q := &Bounded{producers: nProducers, maxCost: maxCost}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push blocks until there is room under the cost ceiling, then appends
// value.
func (q *Bounded) Push(value interface{}, cost int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.maxCost > 0 && q.currentCost >= q.maxCost {
		q.notFull.Wait()
	}
	wasEmpty := len(q.items) == 0
	q.items = append(q.items, boundedItem{value, cost})
	q.currentCost += cost
	if wasEmpty {
		q.notEmpty.Broadcast()
	}
}

// Pop blocks until an item is available or every producer has called
// Done, in which case it returns ok=false.
func (q *Bounded) Pop() (value interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && q.producers > 0 {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.currentCost -= item.cost
	q.notFull.Broadcast()
	return item.value, true
}

// Done marks one producer as finished; once every producer registered at
// construction has called Done, pending Pop calls on an empty queue
// return ok=false instead of blocking forever.
func (q *Bounded) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.producers--
	if q.producers == 0 {
		q.notEmpty.Broadcast()
	}
}

// Len reports the number of items currently queued.
func (q *Bounded) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// heapEntry is one entry of the priority-ordered reassembly queue.
type heapEntry struct {
	priority uint64
	value    interface{}
}

type entryHeap []heapEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Priority is a strictly-ordered reassembly queue: items may be pushed in
// any order (as worker goroutines finish out of order) but Pop only ever
// returns them in increasing priority order, one at a time, blocking
// until the next expected priority has been pushed. This is the ordered-
// output barrier the segmentation engine (C5) needs to write each
// sample's contigs out in their original order even though they are
// segmented concurrently, generalizing the teacher's blockHeap/assemble
// pattern (parallel.go) from a single decompression stream to an
// arbitrary keyed item type.
type Priority struct {
	mu       sync.Mutex
	cond     *sync.Cond
	h        entryHeap
	next     uint64
	producers int
}

// NewPriority creates a reassembly queue whose first expected priority is
// start (typically 0) and which drains once nProducers producers have
// each called Done.
func NewPriority(start uint64, nProducers int) *Priority {
	q := &Priority{next: start, producers: nProducers}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues value under priority. Safe to call out of order; Pop
// still delivers items strictly in increasing priority order.
func (q *Priority) Push(priority uint64, value interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, heapEntry{priority, value})
	q.cond.Broadcast()
}

// Done marks one producer finished.
func (q *Priority) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.producers--
	if q.producers == 0 {
		q.cond.Broadcast()
	}
}

// Pop blocks until the item at the current expected priority is
// available, then returns it and advances the expectation by one. ok is
// false once every producer is done and no more in-order items remain.
func (q *Priority) Pop() (value interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.h) > 0 && q.h[0].priority == q.next {
			e := heap.Pop(&q.h).(heapEntry)
			q.next++
			return e.value, true
		}
		if q.producers == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Barrier is a reusable counting barrier: n goroutines call Arrive and
// block until all n have arrived, at which point every call returns and
// the barrier resets for the next round. Unlike sync.WaitGroup, it can be
// used for repeated rounds without reconstruction (the segmentation
// engine runs one round per sample).
//
// Borrow, if set, is called by a goroutine that is about to block waiting
// for the rest of the cohort to arrive; if it returns true, the goroutine
// performs one unit of opportunistically borrowed work (e.g. helping
// drain a deferred-segment queue from a slower peer) before checking the
// barrier again, rather than sitting idle. The segmentation engine leaves
// Borrow unset.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	round   int

	Borrow func() bool
}

// NewBarrier creates a barrier for n participants.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Arrive blocks the calling goroutine until all n participants have
// called Arrive in the current round, opportunistically calling Borrow
// while waiting if it is set.
func (b *Barrier) Arrive() {
	b.mu.Lock()
	myRound := b.round
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.round++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for b.round == myRound {
		if b.Borrow == nil {
			b.cond.Wait()
			continue
		}
		b.mu.Unlock()
		borrowed := b.Borrow()
		b.mu.Lock()
		if !borrowed && b.round == myRound {
			b.cond.Wait()
		}
	}
	b.mu.Unlock()
}

// Package ratelimit bounds the request rate of every venue-mutating call
// with a leaky-bucket token pool.
package ratelimit

import (
	"sync"
	"time"
)

// LeakyBucket holds up to N tokens, gaining one per interval. Acquire blocks
// until enough tokens exist and debits them exactly once; the background
// filler goroutine touches nothing but the token count. The bucket starts
// empty so a fresh process cannot burst ahead of its budget.
type LeakyBucket struct {
	mu     sync.Mutex
	cond   *sync.Cond
	n      int
	tokens int

	interval time.Duration
	closed   bool
	done     chan struct{}
}

// NewLeakyBucket starts the filler goroutine. Capacity 5 with a 200ms
// interval limits the average rate to 5/s with bursts up to 10/s.
func NewLeakyBucket(n int, interval time.Duration) *LeakyBucket {
	b := &LeakyBucket{
		n:        n,
		interval: interval,
		done:     make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.fill()
	return b
}

func (b *LeakyBucket) fill() {
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			b.mu.Lock()
			b.tokens++
			if b.tokens > b.n {
				b.tokens = b.n
			}
			b.mu.Unlock()
			b.cond.Broadcast()
		}
	}
}

// Acquire blocks until at least n tokens are available, then debits exactly
// n. Returns false if the bucket was closed while waiting.
func (b *LeakyBucket) Acquire(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.tokens < n {
		if b.closed {
			return false
		}
		b.cond.Wait()
	}
	b.tokens -= n
	return true
}

// TryAcquire debits n tokens only if they are already available.
func (b *LeakyBucket) TryAcquire(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Available returns the current token count without consuming anything.
// The per-tick hot path uses this to skip actions it cannot afford instead
// of blocking the decision loop.
func (b *LeakyBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns N.
func (b *LeakyBucket) Capacity() int {
	return b.n
}

// Close stops the filler and wakes every blocked Acquire. Safe to call more
// than once; returns well within a few intervals.
func (b *LeakyBucket) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.cond.Broadcast()
}

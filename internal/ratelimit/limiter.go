// Package ratelimit provides a token-bucket admission limiter for outbound
// embedding requests. Refill is lazy: tokens are topped up on demand from the
// elapsed wall-clock time, rather than by a background ticker.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket rate limiter with FIFO waiter ordering.
//
// Tokens accrue at Rate per second up to Burst capacity. Acquire blocks the
// caller until a token is available; TryAcquire never blocks. Waiters are
// released in FIFO order: a single timer wakes the head of the queue once the
// bucket will hold at least one token, and that waiter's release in turn
// schedules the next wake-up if more waiters remain.
type Limiter struct {
	mu sync.Mutex

	rate   float64 // tokens per second
	burst  float64 // bucket capacity
	tokens float64 // current token count, in [0, burst]

	lastRefill time.Time
	waiters    *list.List // of *waiter, FIFO
	timer      *time.Timer

	now func() time.Time
}

type waiter struct {
	ready chan struct{}
}

// New creates a Limiter with steady rate r (tokens/second) and burst capacity b.
// The bucket starts full.
func New(r, b float64) *Limiter {
	if r <= 0 {
		r = 1
	}
	if b <= 0 {
		b = 1
	}
	return &Limiter{
		rate:       r,
		burst:      b,
		tokens:     b,
		lastRefill: time.Now(),
		waiters:    list.New(),
		now:        time.Now,
	}
}

// refill tops up tokens based on elapsed time since the last refill. Caller
// must hold mu.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// TryAcquire attempts to take one token without blocking. It reports whether
// a token was taken.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Acquire blocks until one token is available or ctx is done. Waiters are
// served strictly in the order they called Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.refill()
	if l.tokens >= 1 && l.waiters.Len() == 0 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	elem := l.waiters.PushBack(w)
	l.scheduleWake()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		// Remove ourselves if we're still queued (not yet released).
		for e := l.waiters.Front(); e != nil; e = e.Next() {
			if e == elem {
				l.waiters.Remove(e)
				break
			}
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// scheduleWake arms a single timer for the earliest time the bucket will
// contain at least one token, if not already armed. Caller must hold mu.
func (l *Limiter) scheduleWake() {
	if l.timer != nil {
		return
	}
	l.refill()
	var delay time.Duration
	if l.tokens >= 1 {
		delay = 0
	} else {
		needed := 1 - l.tokens
		delay = time.Duration(needed / l.rate * float64(time.Second))
	}
	l.timer = time.AfterFunc(delay, l.onTimerFire)
}

// onTimerFire runs when the armed timer expires. It refills, releases as many
// FIFO waiters as there are tokens for, and re-arms if waiters remain.
func (l *Limiter) onTimerFire() {
	l.mu.Lock()
	l.timer = nil
	l.refill()

	for l.tokens >= 1 && l.waiters.Len() > 0 {
		l.tokens--
		front := l.waiters.Front()
		l.waiters.Remove(front)
		w := front.Value.(*waiter)
		close(w.ready)
	}

	if l.waiters.Len() > 0 {
		l.scheduleWake()
	}
	l.mu.Unlock()
}

// Reset releases all currently queued waiters immediately, without consuming
// tokens on their behalf, and stops any armed timer. Used to unblock callers
// when a caller-level operation (e.g. an indexing run) is cancelled.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	for e := l.waiters.Front(); e != nil; e = l.waiters.Front() {
		l.waiters.Remove(e)
		w := e.Value.(*waiter)
		close(w.ready)
	}
}

// Tokens returns the current token count, for tests and diagnostics.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

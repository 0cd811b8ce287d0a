package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsBurst(t *testing.T) {
	l := New(1, 3)
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestTokensStayWithinBounds(t *testing.T) {
	l := New(100, 2)
	for i := 0; i < 10; i++ {
		l.TryAcquire()
	}
	tokens := l.Tokens()
	assert.GreaterOrEqual(t, tokens, 0.0)
	assert.LessOrEqual(t, tokens, 2.0)
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	l := New(1000, 1) // fast refill so the test stays quick
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireFIFOOrdering(t *testing.T) {
	l := New(50, 1)
	require.True(t, l.TryAcquire()) // drain the only token

	const n = 5
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger start order deterministically by serializing entry
			// into Acquire via a small sleep proportional to i.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			_ = l.Acquire(context.Background())
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "waiters should be released in FIFO order")
	}
}

func TestAcquireContextCancellation(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResetReleasesAllWaiters(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.TryAcquire())

	const n = 3
	var released int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err == nil {
				atomic.AddInt32(&released, 1)
			}
		}()
	}

	// Give the waiters time to enqueue before resetting.
	time.Sleep(20 * time.Millisecond)
	l.Reset()
	wg.Wait()

	assert.Equal(t, int32(n), released)
}

func TestSteadyStateAdmissionRateApproachesRate(t *testing.T) {
	const rate = 50.0
	l := New(rate, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	var admitted int
	for {
		if err := l.Acquire(ctx); err != nil {
			break
		}
		admitted++
		if time.Since(start) > time.Second {
			break
		}
	}
	elapsed := time.Since(start).Seconds()
	observedRate := float64(admitted) / elapsed
	// Long-run admission rate should approach rate from below, allow slack
	// for scheduling jitter in CI.
	assert.LessOrEqual(t, observedRate, rate*1.5)
}

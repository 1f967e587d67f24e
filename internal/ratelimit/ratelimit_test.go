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

func TestGovernor_BoundsAdmissionsWithinWindow(t *testing.T) {
	var clock int64 // nanoseconds, manipulated only via atomic for the goroutine-safety of the test itself
	now := func() time.Time { return time.Unix(0, atomic.LoadInt64(&clock)) }
	g := NewGovernor(WithClock(now))
	g.Configure("chat", "conversations.history", 10)

	var wg sync.WaitGroup
	admittedAt := make([]time.Duration, 11)
	start := time.Now()
	for i := 0; i < 11; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = g.Acquire(context.Background(), "chat", "conversations.history", 10)
			admittedAt[i] = time.Since(start)
		}(i)
	}
	// First 10 should admit promptly. The 11th keeps re-checking the
	// injected clock, which still reads Unix 0, so it is not admitted until
	// the clock is moved past the window; moving it only after the 200ms
	// "prompt" cutoff lets the 11th be told apart from the first 10 without
	// the test waiting a full minute.
	time.Sleep(300 * time.Millisecond)
	atomic.StoreInt64(&clock, int64(61*time.Second))
	wg.Wait()

	fast := 0
	for _, d := range admittedAt {
		if d < 200*time.Millisecond {
			fast++
		}
	}
	assert.Equal(t, 10, fast, "exactly 10 requests should admit before the window advances")
}

func TestGovernor_NotifyRetryAfterBlocksUntilDuration(t *testing.T) {
	g := NewGovernor()
	g.Configure("embed", "embeddings", 1000)

	require.NoError(t, g.Acquire(context.Background(), "embed", "embeddings", 1000))
	g.NotifyRetryAfter("embed", "embeddings", 80*time.Millisecond)

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background(), "embed", "embeddings", 1000))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestGovernor_AcquireRespectsContextCancellation(t *testing.T) {
	g := NewGovernor()
	g.Configure("chat", "users.info", 1)
	require.NoError(t, g.Acquire(context.Background(), "chat", "users.info", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx, "chat", "users.info", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

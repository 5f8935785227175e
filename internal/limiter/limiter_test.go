package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetriesTransientThenSucceeds(t *testing.T) {
	l := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MinSpacing: 0})

	var calls int32
	err := l.Do(context.Background(), "nike", func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &StatusError{StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSurfacesErrorAfterMaxAttempts(t *testing.T) {
	l := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	var calls int32
	upstream := &StatusError{StatusCode: 429, Message: "rate limited"}
	err := l.Do(context.Background(), "adidas", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return upstream
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFatalErrorsAreNotRetried(t *testing.T) {
	l := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	var calls int32
	err := l.Do(context.Background(), "feed", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &StatusError{StatusCode: 400, Message: "bad request"}
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExplicitFatalWrap(t *testing.T) {
	base := errors.New("schema violation")
	assert.True(t, IsFatal(Fatal(base)))
	assert.False(t, IsFatal(errors.New("connection reset")))
	assert.False(t, IsFatal(&StatusError{StatusCode: 500}))
	assert.False(t, IsFatal(&StatusError{StatusCode: 429}))
	assert.True(t, IsFatal(&StatusError{StatusCode: 404}))
}

func TestPerSourceConcurrencyCeiling(t *testing.T) {
	l := New(Config{Concurrency: 2, MaxAttempts: 1, BaseDelay: time.Millisecond})

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), "nike", func(ctx context.Context) error {
				cur := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&maxActive)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
}

func TestMinSpacingBetweenCalls(t *testing.T) {
	spacing := 20 * time.Millisecond
	l := New(Config{Concurrency: 1, MaxAttempts: 1, MinSpacing: spacing})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Do(context.Background(), "nike", func(ctx context.Context) error {
			return nil
		}))
	}

	// three calls need at least two spacing gaps
	assert.GreaterOrEqual(t, time.Since(start), 2*spacing)
}

func TestContextCancellationStopsBackoff(t *testing.T) {
	l := New(Config{MaxAttempts: 5, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Do(ctx, "nike", func(ctx context.Context) error {
			return &StatusError{StatusCode: 503}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

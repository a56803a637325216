package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/worker"
)

func shutdown(t *testing.T, p *worker.Pool) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return p.Shutdown(ctx)
}

func TestPool_Go(t *testing.T) {
	p := worker.NewPool(2, 4, nil)

	var count atomic.Int32

	for range 20 {
		p.Go(func(context.Context) { count.Add(1) })
	}

	require.NoError(t, shutdown(t, p))
	assert.Equal(t, int32(20), count.Load())
}

func TestPool_Go_DoesNotBlockWhenQueueFull(t *testing.T) {
	p := worker.NewPool(1, 0, nil)
	release := make(chan struct{})

	var count atomic.Int32

	submitted := make(chan struct{})

	go func() {
		for range 5 {
			p.Go(func(context.Context) {
				<-release
				count.Add(1)
			})
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Go blocked on a full queue")
	}

	close(release)
	require.NoError(t, shutdown(t, p))
	assert.Equal(t, int32(5), count.Load())
}

func TestPool_After(t *testing.T) {
	p := worker.NewPool(1, 1, nil)

	var ran atomic.Bool

	start := time.Now()
	var elapsed atomic.Int64

	p.After(50*time.Millisecond, func(context.Context) {
		elapsed.Store(int64(time.Since(start)))
		ran.Store(true)
	})

	assert.False(t, ran.Load())

	// Shutdown waits for armed timers.
	require.NoError(t, shutdown(t, p))
	assert.True(t, ran.Load())
	assert.GreaterOrEqual(t, time.Duration(elapsed.Load()), 50*time.Millisecond)
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	p := worker.NewPool(1, 1, nil)
	require.NoError(t, shutdown(t, p))

	var ran atomic.Bool

	p.Go(func(context.Context) { ran.Store(true) })
	p.After(time.Millisecond, func(context.Context) { ran.Store(true) })

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
	assert.ErrorIs(t, shutdown(t, p), worker.ErrClosed)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := worker.NewPool(1, 1, nil)

	var after atomic.Bool

	p.Go(func(context.Context) { panic("boom") })
	p.Go(func(context.Context) { after.Store(true) })

	require.NoError(t, shutdown(t, p))
	assert.True(t, after.Load())
}

func TestPool_ShutdownTimeoutCancelsTasks(t *testing.T) {
	p := worker.NewPool(1, 1, nil)
	cancelled := make(chan struct{})

	p.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

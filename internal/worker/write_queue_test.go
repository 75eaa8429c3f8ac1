package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stairs/internal/core"
	"stairs/internal/log"
)

func newTestQueue(t *testing.T, cfg WriteQueueConfig) *WriteQueue {
	t.Helper()
	q := NewWriteQueue(cfg, log.Discard())
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q
}

func TestWriteQueueRunsInSubmissionOrder(t *testing.T) {
	q := newTestQueue(t, WriteQueueConfig{Size: 4})

	var (
		mu    sync.Mutex
		order []int
	)
	var tickets []*Ticket
	for i := 0; i < 100; i++ {
		i := i
		tickets = append(tickets, q.Submit("test", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, tk := range tickets {
		require.NoError(t, tk.Wait(context.Background()))
	}

	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestWriteQueueRunsOneAtATime(t *testing.T) {
	q := newTestQueue(t, DefaultWriteQueueConfig())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk := q.Submit("test", func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
			_ = tk.Wait(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestWriteQueueContinuesAfterFailure(t *testing.T) {
	q := newTestQueue(t, DefaultWriteQueueConfig())

	boom := errors.New("disk full")
	failed := q.Submit("bad", func(context.Context) error { return boom })
	panicked := q.Submit("panics", func(context.Context) error { panic("unexpected") })
	var ran atomic.Bool
	ok := q.Submit("good", func(context.Context) error { ran.Store(true); return nil })

	err := failed.Wait(context.Background())
	require.ErrorIs(t, err, core.ErrWriteFailure)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, panicked.Wait(context.Background()), core.ErrWriteFailure)
	require.NoError(t, ok.Wait(context.Background()))
	assert.True(t, ran.Load())

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestWriteQueueCloseDrainsPendingJobs(t *testing.T) {
	q := NewWriteQueue(WriteQueueConfig{Size: 16}, log.Discard())

	release := make(chan struct{})
	var count atomic.Int32
	q.Submit("blocker", func(context.Context) error { <-release; return nil })
	var last *Ticket
	for i := 0; i < 10; i++ {
		last = q.Submit("job", func(context.Context) error { count.Add(1); return nil })
	}

	closed := make(chan error, 1)
	go func() { closed <- q.Close(context.Background()) }()
	close(release)

	require.NoError(t, <-closed)
	assert.Equal(t, int32(10), count.Load())
	require.NoError(t, last.Wait(context.Background()))

	late := q.Submit("late", func(context.Context) error { return nil })
	require.ErrorIs(t, late.Wait(context.Background()), ErrQueueClosed)
	require.NoError(t, q.Close(context.Background()), "close is idempotent")
}

func TestWriteQueueCloseTimeout(t *testing.T) {
	q := NewWriteQueue(DefaultWriteQueueConfig(), log.Discard())
	release := make(chan struct{})
	defer close(release)
	q.Submit("slow", func(context.Context) error { <-release; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

func TestTicketWaitHonoursContext(t *testing.T) {
	q := newTestQueue(t, DefaultWriteQueueConfig())
	release := make(chan struct{})
	tk := q.Submit("slow", func(context.Context) error { <-release; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tk.Wait(ctx), context.Canceled)

	close(release)
	require.NoError(t, tk.Wait(context.Background()))
}

func TestWriteQueueJobTimeout(t *testing.T) {
	q := newTestQueue(t, WriteQueueConfig{JobTimeout: 10 * time.Millisecond})
	tk := q.Submit("hangs", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := tk.Wait(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, core.ErrWriteFailure)
}

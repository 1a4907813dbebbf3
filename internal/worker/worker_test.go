package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestPool(t *testing.T, cfg config.WorkerConfig) (*Pool, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	pool := NewPool(cfg, notifier, logger)
	pool.Start(context.Background())
	return pool, notifier
}

func TestPoolRunsTasks(t *testing.T) {
	pool, _ := newTestPool(t, config.WorkerConfig{PoolSize: 2, MaxRetries: 0, RetryDelay: time.Millisecond})

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(Task{
			Name: "count",
			Run: func(ctx context.Context) error {
				done.Add(1)
				return nil
			},
		}))
	}
	pool.Shutdown()
	assert.Equal(t, int32(10), done.Load())
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	pool, notifier := newTestPool(t, config.WorkerConfig{PoolSize: 1, MaxRetries: 3, RetryDelay: time.Millisecond})

	var attempts atomic.Int32
	require.NoError(t, pool.Submit(Task{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))
	pool.Shutdown()

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 0, notifier.count())
}

func TestPoolNotifiesOnExhaustion(t *testing.T) {
	pool, notifier := newTestPool(t, config.WorkerConfig{PoolSize: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

	var attempts atomic.Int32
	require.NoError(t, pool.Submit(Task{
		Name: "doomed",
		Run: func(ctx context.Context) error {
			attempts.Add(1)
			return errors.New("permanent")
		},
	}))
	pool.Shutdown()

	// One initial attempt plus two retries.
	assert.Equal(t, int32(3), attempts.Load())
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, notify.EventRetriesExhausted, notifier.events[0].Type)
}

func TestPoolSerializesByKey(t *testing.T) {
	pool, _ := newTestPool(t, config.WorkerConfig{PoolSize: 4, MaxRetries: 0, RetryDelay: time.Millisecond})

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit(Task{
			Name: "keyed",
			Key:  "sub-1",
			Run: func(ctx context.Context) error {
				now := inFlight.Add(1)
				for {
					seen := maxInFlight.Load()
					if now <= seen || maxInFlight.CompareAndSwap(seen, now) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			},
		}))
	}
	pool.Shutdown()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestSubmitAfterShutdown(t *testing.T) {
	pool, _ := newTestPool(t, config.WorkerConfig{PoolSize: 1, MaxRetries: 0, RetryDelay: time.Millisecond})
	pool.Shutdown()
	err := pool.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
}

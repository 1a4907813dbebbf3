// Package worker runs background tasks on a bounded pool. Tasks carry a
// serialization key so work touching the same subscription never runs
// concurrently, and failed tasks are retried with backoff a bounded number
// of times before operators are notified.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stackhost-io/stackhost/internal/config"
	"github.com/stackhost-io/stackhost/internal/notify"
)

// ErrQueueFull is returned by Submit when the task queue is saturated.
var ErrQueueFull = errors.New("task queue is full")

// ErrStopped is returned by Submit after Shutdown.
var ErrStopped = errors.New("worker pool is stopped")

// Task is one unit of background work.
type Task struct {
	// Name identifies the task in logs and notifications.
	Name string
	// Key serializes tasks: two tasks with the same non-empty key never
	// run at the same time.
	Key string
	// Run does the work. A non-nil error triggers a retry.
	Run func(ctx context.Context) error
}

// Pool executes tasks with bounded concurrency and retries.
type Pool struct {
	cfg      config.WorkerConfig
	notifier notify.Notifier
	logger   *slog.Logger

	tasks chan Task
	wg    sync.WaitGroup

	mu      sync.Mutex
	keys    map[string]*sync.Mutex
	stopped bool
}

// NewPool creates a pool; call Start to begin processing.
func NewPool(cfg config.WorkerConfig, notifier notify.Notifier, logger *slog.Logger) *Pool {
	size := cfg.PoolSize
	if size <= 0 {
		size = 1
	}
	return &Pool{
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		tasks:    make(chan Task, size*16),
		keys:     make(map[string]*sync.Mutex),
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled and
// the queue drains.
func (p *Pool) Start(ctx context.Context) {
	size := p.cfg.PoolSize
	if size <= 0 {
		size = 1
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, task)
		}
	}
}

// Submit enqueues a task. It never blocks; a saturated queue is an error the
// caller must handle.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	default:
		return fmt.Errorf("%w: dropping task %s", ErrQueueFull, task.Name)
	}
}

// Shutdown stops intake and waits for in-flight tasks.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.tasks)
	p.wg.Wait()
}

func (p *Pool) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.keys[key]; !ok {
		p.keys[key] = &sync.Mutex{}
	}
	return p.keys[key]
}

// execute runs a task with retries. The attempt budget is MaxRetries
// additional tries after the first failure.
func (p *Pool) execute(ctx context.Context, task Task) {
	if task.Key != "" {
		lock := p.keyLock(task.Key)
		lock.Lock()
		defer lock.Unlock()
	}

	var lastErr error
	attempts := p.cfg.MaxRetries + 1
	delay := p.cfg.RetryDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		lastErr = task.Run(ctx)
		if lastErr == nil {
			if attempt > 1 {
				p.logger.Info("task recovered", "task", task.Name, "attempt", attempt)
			}
			return
		}
		p.logger.Warn("task failed", "task", task.Name, "attempt", attempt, "error", lastErr)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	p.notifier.Notify(ctx, notify.Event{
		Type:    notify.EventRetriesExhausted,
		Message: fmt.Sprintf("task %s failed after %d attempts: %v", task.Name, attempts, lastErr),
	})
	p.logger.Error("task retries exhausted", "task", task.Name, "attempts", attempts, "error", lastErr)
}

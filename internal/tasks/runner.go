// Package tasks runs detached, best-effort side effects (expired row cleanup,
// opportunistic rehash, notifications) off the request path. Tasks outlive
// the request that scheduled them, and failures are logged, never returned.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/internal/logging"
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Config sizes the runner.
type Config struct {
	Workers   int           `toml:"workers"`
	QueueSize int           `toml:"queue_size"`
	Timeout   time.Duration `toml:"timeout"`
}

type job struct {
	ctx  context.Context
	name string
	fn   Task
}

// Runner executes tasks on a worker pool. When the queue is full the task
// gets its own goroutine instead of being dropped.
type Runner struct {
	cfg Config
	log logging.Logger

	mu       sync.RWMutex
	closed   bool
	ch       chan job
	workers  sync.WaitGroup
	inflight sync.WaitGroup

	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	closeOnce sync.Once
}

// New starts cfg.Workers workers.
func New(cfg Config, log logging.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if log == nil {
		log = logging.Nop()
	}

	r := &Runner{
		cfg: cfg,
		log: log.With("component", "tasks"),
		ch:  make(chan job, cfg.QueueSize),
	}
	r.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.work()
	}
	return r
}

func (r *Runner) work() {
	defer r.workers.Done()
	for j := range r.ch {
		r.execute(j)
	}
}

// Go schedules fn. The task context keeps the values of ctx (request id)
// but not its cancellation.
func (r *Runner) Go(ctx context.Context, name string, fn Task) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{ctx: context.WithoutCancel(ctx), name: name, fn: fn}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.rejected.Add(1)
		r.log.Warn(j.ctx, "background task rejected after shutdown", "task", name)
		return
	}

	r.inflight.Add(1)
	select {
	case r.ch <- j:
	default:
		r.workers.Add(1)
		go func() {
			defer r.workers.Done()
			r.execute(j)
		}()
	}
}

func (r *Runner) execute(j job) {
	defer r.inflight.Done()

	ctx := j.ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if err := r.safeRun(ctx, j); err != nil {
		r.failed.Add(1)
		r.log.Warn(ctx, "background task failed", "task", j.name, "err", err)
		return
	}
	r.completed.Add(1)
}

func (r *Runner) safeRun(ctx context.Context, j job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return j.fn(ctx)
}

// Wait blocks until every task scheduled so far has finished.
func (r *Runner) Wait() {
	if r == nil {
		return
	}
	r.inflight.Wait()
}

// Close stops accepting tasks and drains everything already scheduled.
func (r *Runner) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
		r.workers.Wait()
	})
}

func (r *Runner) Completed() uint64 {
	if r == nil {
		return 0
	}
	return r.completed.Load()
}

func (r *Runner) Failed() uint64 {
	if r == nil {
		return 0
	}
	return r.failed.Load()
}

func (r *Runner) Rejected() uint64 {
	if r == nil {
		return 0
	}
	return r.rejected.Load()
}

package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one periodic unit of work. The context is cancelled on shutdown.
type Task func(ctx context.Context)

type job struct {
	name     string
	interval time.Duration
	task     Task
	running  atomic.Bool
	skips    atomic.Int64
}

// Runner drives registered tasks on independent timers. A tick is skipped,
// not queued, while the previous tick for the same task is still running.
type Runner struct {
	mu      sync.Mutex
	jobs    []*job
	started bool
	cancel  context.CancelFunc
	done    sync.WaitGroup
	logger  *slog.Logger
	paused  atomic.Bool
}

// NewRunner constructs an idle runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Register adds a periodic task. Registration after Start is rejected so the
// task set stays fixed for the lifetime of the runner.
func (r *Runner) Register(name string, interval time.Duration, task Task) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("schedule: task name required")
	}
	if interval <= 0 {
		return fmt.Errorf("schedule: task %s interval must be positive", name)
	}
	if task == nil {
		return fmt.Errorf("schedule: task %s function required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("schedule: runner already started")
	}
	for _, existing := range r.jobs {
		if existing.name == name {
			return fmt.Errorf("schedule: duplicate task %s", name)
		}
	}
	r.jobs = append(r.jobs, &job{name: name, interval: interval, task: task})
	return nil
}

// Start launches one goroutine per registered task. It is an error to start
// twice.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("schedule: runner already started")
	}
	r.started = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, j := range r.jobs {
		r.done.Add(1)
		go r.loop(runCtx, j)
	}
	return nil
}

func (r *Runner) loop(ctx context.Context, j *job) {
	defer r.done.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.paused.Load() {
				r.logger.Debug("tick dropped, runner paused", "task", j.name)
				continue
			}
			if !j.running.CompareAndSwap(false, true) {
				j.skips.Add(1)
				r.logger.Warn("tick skipped, previous run still in progress", "task", j.name)
				continue
			}
			start := time.Now()
			func() {
				defer func() {
					if recovered := recover(); recovered != nil {
						r.logger.Error("task panicked", "task", j.name, "panic", recovered)
					}
					j.running.Store(false)
				}()
				j.task(ctx)
			}()
			r.logger.Debug("task finished", "task", j.name, "elapsed", time.Since(start))
		}
	}
}

// Shutdown cancels all tasks and waits for in-flight ticks to finish or the
// context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()
	if !started || cancel == nil {
		return nil
	}
	cancel()
	finished := make(chan struct{})
	go func() {
		r.done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule: shutdown timed out: %w", ctx.Err())
	}
}

// Pause suspends tick execution across all tasks. Ticks that fire while the
// runner is paused are dropped, not queued. In-flight ticks run to completion.
func (r *Runner) Pause() { r.paused.Store(true) }

// Resume re-enables tick execution after a Pause.
func (r *Runner) Resume() { r.paused.Store(false) }

// Paused reports whether tick execution is currently suspended.
func (r *Runner) Paused() bool { return r.paused.Load() }

// Skips reports how many ticks were skipped for the named task. Primarily
// for testing and status endpoints.
func (r *Runner) Skips(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.name == name {
			return j.skips.Load()
		}
	}
	return 0
}

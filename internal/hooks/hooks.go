// Package hooks runs side effects that follow a committed write: realtime
// pushes, notifications, email and search indexing. Hook failures are logged
// and never reach the request that scheduled them.
package hooks

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Func func(ctx context.Context) error

type Dispatcher interface {
	Dispatch(name string, fn Func)
}

type job struct {
	name string
	fn   Func
}

// Async runs hooks on a fixed pool of workers. Each hook gets its own context
// detached from the request, bounded by the per-hook timeout.
type Async struct {
	queue   chan job
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

func NewAsync(workers, queueSize int, timeout time.Duration) *Async {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Async{
		queue:   make(chan job, queueSize),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

// Dispatch enqueues fn. When the queue is full or the dispatcher is closed
// the hook is dropped and logged.
func (a *Async) Dispatch(name string, fn Func) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		log.WithField("hook", name).Warn("hook dropped after shutdown")
		return
	}
	select {
	case a.queue <- job{name: name, fn: fn}:
	default:
		log.WithField("hook", name).Warn("hook queue full, dropping hook")
	}
}

// Close stops accepting hooks and waits for queued ones to finish or for ctx
// to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) work() {
	defer a.wg.Done()
	for j := range a.queue {
		run(j, a.timeout)
	}
}

func run(j job, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"hook": j.name, "panic": r}).Error("hook panicked")
		}
	}()
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		log.WithError(err).WithField("hook", j.name).Warn("hook failed")
		return
	}
	log.WithFields(log.Fields{"hook": j.name, "duration_ms": time.Since(start).Milliseconds()}).Debug("hook completed")
}

// Inline runs each hook synchronously before Dispatch returns.
type Inline struct {
	Timeout time.Duration
}

func (i Inline) Dispatch(name string, fn Func) {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	run(job{name: name, fn: fn}, timeout)
}

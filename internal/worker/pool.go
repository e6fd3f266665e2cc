package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Pool runs one goroutine per key. Keys are unique while running; a task
// is forgotten once its function returns.
type Pool struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   map[string]context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func NewPool(ctx context.Context) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Go starts fn under key. It returns false if the key is already running or
// the pool has been stopped. onPanic, when non-nil, is called with the
// recovered value after a panic in fn.
func (p *Pool) Go(key string, fn func(ctx context.Context), onPanic func(any)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if _, ok := p.tasks[key]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.tasks[key] = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.forget(key)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("worker panic", "task", key, "panic", r, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn(ctx)
	}()
	return true
}

// Running reports whether key has a live task.
func (p *Pool) Running(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[key]
	return ok
}

// Len returns the number of live tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Cancel stops a single task without waiting for it.
func (p *Pool) Cancel(key string) {
	p.mu.Lock()
	cancel, ok := p.tasks[key]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every task and waits for all of them to return. Further
// calls to Go are rejected.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Wait blocks until all tasks started so far have returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) forget(key string) {
	p.mu.Lock()
	delete(p.tasks, key)
	p.mu.Unlock()
}

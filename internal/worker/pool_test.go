package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	p := NewPool(context.Background())
	defer p.Stop()

	release := make(chan struct{})
	if !p.Go("a", func(ctx context.Context) { <-release }, nil) {
		t.Fatal("expected first start to succeed")
	}
	if p.Go("a", func(ctx context.Context) {}, nil) {
		t.Fatal("expected duplicate key to be rejected")
	}
	if !p.Running("a") {
		t.Fatal("expected task a to be running")
	}
	close(release)
	p.Wait()
	if p.Running("a") {
		t.Fatal("expected task a to be forgotten after return")
	}
}

func TestPoolStopCancelsAllTasks(t *testing.T) {
	t.Parallel()

	p := NewPool(context.Background())
	var exited atomic.Int32
	for _, key := range []string{"a", "b", "c"} {
		p.Go(key, func(ctx context.Context) {
			<-ctx.Done()
			exited.Add(1)
		}, nil)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 tasks, got %d", p.Len())
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	if got := exited.Load(); got != 3 {
		t.Fatalf("expected 3 tasks to exit, got %d", got)
	}
	if p.Go("d", func(ctx context.Context) {}, nil) {
		t.Fatal("expected Go after Stop to be rejected")
	}
}

func TestPoolCancelSingleTask(t *testing.T) {
	t.Parallel()

	p := NewPool(context.Background())
	defer p.Stop()

	stopped := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		p.Go(key, func(ctx context.Context) {
			<-ctx.Done()
			stopped <- key
		}, nil)
	}
	p.Cancel("a")
	select {
	case got := <-stopped:
		if got != "a" {
			t.Fatalf("expected a to stop, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task a was not cancelled")
	}
	if !p.Running("b") {
		t.Fatal("expected b to keep running")
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	t.Parallel()

	p := NewPool(context.Background())
	defer p.Stop()

	recovered := make(chan any, 1)
	p.Go("boom", func(ctx context.Context) { panic("kaboom") }, func(r any) { recovered <- r })
	p.Wait()

	select {
	case r := <-recovered:
		if r != "kaboom" {
			t.Fatalf("expected kaboom, got %v", r)
		}
	default:
		t.Fatal("expected onPanic to be called")
	}
}

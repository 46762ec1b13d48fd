package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsTask(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})
	m.Go("test", func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	if err := m.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestShutdownWaitsForTasks(t *testing.T) {
	m := NewManager()
	var finished atomic.Bool
	m.Go("slow", func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	if err := m.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !finished.Load() {
		t.Fatal("shutdown returned before the task finished")
	}
}

func TestShutdownCancelsStragglers(t *testing.T) {
	m := NewManager()
	canceled := make(chan struct{})
	m.Go("stuck", func(ctx context.Context) {
		<-ctx.Done()
		close(canceled)
	})

	if err := m.Shutdown(20 * time.Millisecond); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("straggler was not canceled")
	}
}

func TestGoAfterShutdownIsRejected(t *testing.T) {
	m := NewManager()
	if err := m.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	ran := make(chan struct{})
	m.Go("late", func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
		t.Fatal("task ran after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
	if m.Active() != 0 {
		t.Fatalf("active = %d, want 0", m.Active())
	}
}

func TestPanicIsContained(t *testing.T) {
	m := NewManager()
	m.Go("panicky", func(ctx context.Context) { panic("boom") })
	if err := m.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown after panic: %v", err)
	}
}

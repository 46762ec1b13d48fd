// Package tasks tracks fire-and-forget background jobs so shutdown can
// wait for them instead of killing work mid-write.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// cancelGrace is how long Shutdown waits after cancelling stragglers.
const cancelGrace = 2 * time.Second

// Manager runs named goroutines against a shared lifecycle context.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int32
	closed atomic.Bool
	log    *slog.Logger
}

func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		log:    slog.With("component", "tasks"),
	}
}

// Go starts fn on the manager's lifecycle context. The caller returns
// immediately; endpoints that spawn work respond before it runs. Panics
// are contained so one bad job cannot take the server down.
func (m *Manager) Go(name string, fn func(ctx context.Context)) {
	if m.closed.Load() {
		m.log.Warn("task rejected after shutdown", "task", name)
		return
	}
	m.wg.Add(1)
	m.active.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.active.Add(-1)
		defer func() {
			if p := recover(); p != nil {
				m.log.Error("task panicked", "task", name, "panic", p)
			}
		}()
		m.log.Debug("task started", "task", name)
		fn(m.ctx)
		m.log.Debug("task finished", "task", name)
	}()
}

// Active returns the number of currently running tasks.
func (m *Manager) Active() int { return int(m.active.Load()) }

// Shutdown waits up to timeout for running tasks, then cancels the
// remainder and waits briefly for the cancellation to take.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.closed.Store(true)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-time.After(timeout):
	}

	m.log.Warn("tasks still running at shutdown deadline, cancelling", "active", m.Active())
	m.cancel()

	select {
	case <-done:
		return nil
	case <-time.After(cancelGrace):
		return context.DeadlineExceeded
	}
}

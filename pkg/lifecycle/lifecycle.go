// Package lifecycle coordinates startup, background work, and shutdown for
// the service's subsystems.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ReadinessChecker reports whether a subsystem is ready to serve traffic.
type ReadinessChecker interface {
	Ready() bool
}

// AllReady reports whether every checker is ready.
func AllReady(checkers ...ReadinessChecker) bool {
	for _, c := range checkers {
		if !c.Ready() {
			return false
		}
	}
	return true
}

// Coordinator runs startup hooks, long-lived background loops, and
// shutdown hooks against one cancellable context.
type Coordinator struct {
	ctx     context.Context
	cancel  context.CancelFunc
	startup sync.WaitGroup
	running sync.WaitGroup
	ready   atomic.Bool
}

// New creates a Coordinator with a cancellable context.
func New() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the coordinator's context, cancelled on shutdown.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// OnStartup runs fn concurrently as part of startup.
func (c *Coordinator) OnStartup(fn func()) {
	c.startup.Go(fn)
}

// OnShutdown runs fn concurrently and has Shutdown wait for it. Hooks
// block on <-Context().Done() before cleaning up.
func (c *Coordinator) OnShutdown(fn func()) {
	c.running.Go(fn)
}

// Go runs fn in the background with the coordinator context. Shutdown waits
// for fn to return, so fn must exit once ctx is cancelled.
func (c *Coordinator) Go(fn func(ctx context.Context)) {
	c.running.Go(func() {
		fn(c.ctx)
	})
}

// Ready reports whether WaitForStartup has returned.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// WaitForStartup blocks until every startup hook returns, then marks the
// coordinator ready.
func (c *Coordinator) WaitForStartup() {
	c.startup.Wait()
	c.ready.Store(true)
}

// Shutdown cancels the context and waits up to timeout for shutdown hooks
// and background loops to return.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.ready.Store(false)
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.running.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

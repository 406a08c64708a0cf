package harvest

import (
	"context"
	"sync"
)

// Control is the lever set for one running session: cooperative stop
// and a pause gate the page loop parks on. The gate is a condition
// variable, so a paused session burns no CPU and wakes the instant
// Resume or Stop is called.
type Control struct {
	mu    sync.Mutex
	cond  *sync.Cond
	stop  bool
	pause bool
}

// NewControl returns an unset lever pair.
func NewControl() *Control {
	c := &Control{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Stop requests cooperative shutdown and wakes anyone paused. It is
// one-way: a stopped session never resumes.
func (c *Control) Stop() {
	c.mu.Lock()
	c.stop = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Pause parks the session at its next page boundary.
func (c *Control) Pause() {
	c.mu.Lock()
	c.pause = true
	c.mu.Unlock()
}

// Resume releases a paused session.
func (c *Control) Resume() {
	c.mu.Lock()
	c.pause = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Stopped reports whether stop was requested.
func (c *Control) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop
}

// Paused reports whether the pause lever is set.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pause
}

// AwaitResume blocks while paused. It wakes on Resume, Stop, or ctx
// cancellation; callers recheck Stopped after it returns. The helper
// goroutine exists because sync.Cond cannot select on a context.
func (c *Control) AwaitResume(ctx context.Context) error {
	done := ctx.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pause && !c.stop {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				c.cond.Broadcast()
			case <-ch:
			}
		}()
		c.cond.Wait()
		close(ch)
	}
	return ctx.Err()
}

package harvest

import (
	"context"
	"errors"
	"sync"
)

// ErrAuthExhausted means the re-authentication budget ran out; the
// session cannot make further progress and should fail.
var ErrAuthExhausted = errors.New("harvest: re-authentication attempts exhausted")

// AuthGate serializes re-authentication. When several workers hit a
// login wall at once, the first runs the reauth and the rest join its
// result instead of stampeding the login flow. Consecutive failures
// count against a bounded budget; a success clears it.
type AuthGate struct {
	mu       sync.Mutex
	reauth   func(ctx context.Context) error
	inflight chan struct{} // non-nil while an attempt runs, closed on settle
	result   error
	failures int
	max      int
}

// NewAuthGate builds a gate around reauth with at most max consecutive
// failures. max <= 0 defaults to 3.
func NewAuthGate(max int, reauth func(ctx context.Context) error) *AuthGate {
	if max <= 0 {
		max = 3
	}
	return &AuthGate{max: max, reauth: reauth}
}

// Ensure runs one re-authentication attempt, or joins the attempt
// already in flight and returns its result. Callers arriving after a
// settle start a fresh attempt.
func (g *AuthGate) Ensure(ctx context.Context) error {
	g.mu.Lock()
	if ch := g.inflight; ch != nil {
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.mu.Lock()
		err := g.result
		g.mu.Unlock()
		return err
	}
	if g.failures >= g.max {
		g.mu.Unlock()
		return ErrAuthExhausted
	}
	ch := make(chan struct{})
	g.inflight = ch
	g.mu.Unlock()

	err := g.reauth(ctx)

	g.mu.Lock()
	g.result = err
	if err != nil {
		g.failures++
	} else {
		g.failures = 0
	}
	g.inflight = nil
	g.mu.Unlock()
	close(ch)
	return err
}

// Failures returns the consecutive-failure count.
func (g *AuthGate) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

package pace

import (
	"context"
	"testing"
	"time"
)

// fakeClock lets tests march time without sleeping.
type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}
func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testLimiter(cfg Config) (*Limiter, *fakeClock) {
	l := NewLimiter(cfg, nil)
	clk := newFakeClock()
	l.now = clk.now
	return l, clk
}

func TestBreakerFullCycle(t *testing.T) {
	// WHAT: threshold errors open the circuit; after the reset timeout a
	// probe is admitted (half-open); one success closes it and zeroes the
	// error count.
	// WHY: this is the recovery path after a burst of failures; a stuck
	// breaker would end the session for no reason.
	l, clk := testLimiter(Config{ErrorThreshold: 3, ResetTimeout: 30 * time.Second})

	for i := 0; i < 3; i++ {
		l.RecordError(Signal{Status: 500})
	}
	if got := l.Snapshot().State; got != "open" {
		t.Fatalf("state = %q, want open", got)
	}
	if l.CanRequest() {
		t.Fatal("CanRequest true while circuit open")
	}

	clk.advance(29 * time.Second)
	if l.CanRequest() {
		t.Fatal("CanRequest true before reset timeout elapsed")
	}

	clk.advance(2 * time.Second)
	if !l.CanRequest() {
		t.Fatal("CanRequest false after reset timeout")
	}
	if got := l.Snapshot().State; got != "half-open" {
		t.Fatalf("state = %q, want half-open", got)
	}

	l.RecordRequest()
	snap := l.Snapshot()
	if snap.State != "closed" {
		t.Fatalf("state = %q, want closed after probe success", snap.State)
	}
	if snap.ErrorCount != 0 {
		t.Fatalf("error_count = %d, want 0 after close", snap.ErrorCount)
	}
}

func TestBreakerHostileSignalOpensImmediately(t *testing.T) {
	// WHAT: a single 429 opens the circuit and raises the penalty even
	// though the error threshold is far away.
	// WHY: explicit throttling means every further request digs the hole
	// deeper; waiting for 5 of them is how accounts get banned.
	for _, sig := range []Signal{
		{Status: 429},
		{Status: 403},
		{Blocked: true},
		{LoginRedirect: true},
	} {
		l, _ := testLimiter(Config{ErrorThreshold: 5})
		l.RecordError(sig)
		snap := l.Snapshot()
		if snap.State != "open" {
			t.Fatalf("signal %+v: state = %q, want open", sig, snap.State)
		}
		if snap.Penalty != 1 {
			t.Fatalf("signal %+v: penalty = %d, want 1", sig, snap.Penalty)
		}
	}
}

func TestBreakerPenaltyCapped(t *testing.T) {
	l, clk := testLimiter(Config{ResetTimeout: time.Second})
	for i := 0; i < 8; i++ {
		l.RecordError(Signal{Status: 429})
		clk.advance(2 * time.Second)
	}
	if got := l.Snapshot().Penalty; got != 5 {
		t.Fatalf("penalty = %d, want cap 5", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	l, clk := testLimiter(Config{ErrorThreshold: 2, ResetTimeout: 10 * time.Second})
	l.RecordError(Signal{Status: 500})
	l.RecordError(Signal{Status: 500})
	clk.advance(11 * time.Second)
	if !l.CanRequest() {
		t.Fatal("expected half-open admission")
	}
	l.RecordError(Signal{Status: 500})
	if l.CanRequest() {
		t.Fatal("CanRequest true right after a failed probe")
	}
}

func TestRateWindow(t *testing.T) {
	// WHAT: with rpm=5, the 5th recorded request exhausts the window and
	// the next admission is denied until the oldest timestamp ages out.
	l, clk := testLimiter(Config{RequestsPerMinute: 5})

	for i := 0; i < 5; i++ {
		if !l.CanRequest() {
			t.Fatalf("CanRequest false at request %d", i)
		}
		l.RecordRequest()
		clk.advance(time.Second)
	}
	if l.CanRequest() {
		t.Fatal("CanRequest true with a full window")
	}

	// First request was 5s ago; it exits the window after 60s total.
	clk.advance(56 * time.Second)
	if !l.CanRequest() {
		t.Fatal("CanRequest false after oldest timestamp left the window")
	}
}

func TestAdaptiveDelay(t *testing.T) {
	// WHAT: delay = base × (1 + errors×0.2), ×2 half-open, ×(1 + penalty×0.5).
	l, _ := testLimiter(Config{MinDelay: time.Millisecond, MaxDelay: time.Hour})

	base := time.Second
	if got := l.AdaptiveDelay(base); got != base {
		t.Fatalf("clean delay = %v, want %v", got, base)
	}

	l.RecordError(Signal{Status: 500})
	l.RecordError(Signal{Status: 500})
	if got, want := l.AdaptiveDelay(base), 1400*time.Millisecond; got != want {
		t.Fatalf("delay with 2 errors = %v, want %v", got, want)
	}
}

func TestAdaptiveDelayHalfOpenDoubles(t *testing.T) {
	l, clk := testLimiter(Config{ErrorThreshold: 1, ResetTimeout: 5 * time.Second, MinDelay: time.Millisecond, MaxDelay: time.Hour})
	l.RecordError(Signal{Status: 500})
	clk.advance(6 * time.Second)

	// errorCount=1 → ×1.2, half-open → ×2.
	if got, want := l.AdaptiveDelay(time.Second), 2400*time.Millisecond; got != want {
		t.Fatalf("half-open delay = %v, want %v", got, want)
	}
}

func TestAdaptiveDelayPenaltyScaling(t *testing.T) {
	l, clk := testLimiter(Config{ResetTimeout: time.Second, MinDelay: time.Millisecond, MaxDelay: time.Hour})
	l.RecordError(Signal{Status: 429}) // penalty 1
	clk.advance(2 * time.Second)
	if !l.CanRequest() { // half-open
		t.Fatal("expected half-open admission")
	}
	l.RecordRequest() // closes, decays errorCount to 0

	// closed, errorCount 0, penalty 1 → 1s × 1.0 × 1.5.
	if got, want := l.AdaptiveDelay(time.Second), 1500*time.Millisecond; got != want {
		t.Fatalf("penalty delay = %v, want %v", got, want)
	}
}

func TestAdaptiveDelayClamped(t *testing.T) {
	l, _ := testLimiter(Config{MinDelay: 2 * time.Second, MaxDelay: 3 * time.Second})
	if got := l.AdaptiveDelay(time.Millisecond); got != 2*time.Second {
		t.Fatalf("floor clamp = %v, want 2s", got)
	}
	for i := 0; i < 4; i++ {
		l.RecordError(Signal{Status: 500})
	}
	if got := l.AdaptiveDelay(10 * time.Second); got != 3*time.Second {
		t.Fatalf("cap clamp = %v, want 3s", got)
	}
}

func TestWaitForSlotContextCancel(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 1, PollInterval: 10 * time.Millisecond})
	l.RecordRequest() // window full

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.WaitForSlot(ctx); err == nil {
		t.Fatal("WaitForSlot returned nil on a full window with cancelled context")
	}
}

func TestWaitForSlotImmediate(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 10})
	if err := l.WaitForSlot(context.Background()); err != nil {
		t.Fatalf("WaitForSlot: %v", err)
	}
}

func TestResetClosesBreakerKeepsPenalty(t *testing.T) {
	// WHAT: Reset (post-reauth) closes the circuit and zeroes errors but
	// keeps the backoff penalty.
	// WHY: a fresh login fixes the auth failure, not the site's mood.
	l, _ := testLimiter(Config{})
	l.RecordError(Signal{LoginRedirect: true})
	l.Reset()

	snap := l.Snapshot()
	if snap.State != "closed" {
		t.Fatalf("state = %q, want closed after reset", snap.State)
	}
	if snap.ErrorCount != 0 {
		t.Fatalf("error_count = %d, want 0", snap.ErrorCount)
	}
	if snap.Penalty != 1 {
		t.Fatalf("penalty = %d, want 1 preserved", snap.Penalty)
	}
}

func TestSetRPMShrinkAppliesToNextAdmission(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 10})
	for i := 0; i < 3; i++ {
		l.RecordRequest()
	}
	l.SetRPM(3)
	if l.CanRequest() {
		t.Fatal("CanRequest true after ceiling shrank below window count")
	}
}

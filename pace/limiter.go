// CLAUDE:SUMMARY Sliding-window rate limiter with a three-state circuit breaker gating every outbound fetch.

// Package pace is the admission-control layer of the harvester: a
// per-session rate limiter with a circuit breaker, and an adaptive
// controller that retunes concurrency, per-item delay and the RPM
// ceiling against live throughput and error feedback.
package pace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Signal carries the parts of a fetch outcome the breaker reacts to.
type Signal struct {
	Status        int
	Blocked       bool
	LoginRedirect bool
}

func (s Signal) hostile() bool {
	return s.Status == 429 || s.Status == 403 || s.Blocked || s.LoginRedirect
}

// requestWindow is the sliding window over which requests are counted.
const requestWindow = time.Minute

// Config tunes a Limiter. Zero values take defaults.
type Config struct {
	RequestsPerMinute int           // window ceiling, default 30
	ErrorThreshold    int           // errors before the breaker opens, default 5
	ResetTimeout      time.Duration // open → half-open, default 30s
	MinDelay          time.Duration // adaptive delay floor, default 500ms
	MaxDelay          time.Duration // adaptive delay cap, default 15s
	PollInterval      time.Duration // WaitForSlot poll, default 1s
}

func (c *Config) defaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 30
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Limiter is the admission gate for outbound fetches. One instance per
// session; safe for concurrent use by pool workers.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	history  []time.Time // completed requests inside the window
	state    CircuitState
	lastOpen time.Time

	errorCount int
	penalty    int // backoff penalty, 0..5
	consecOK   int

	logger *slog.Logger
	now    func() time.Time
}

// maxPenalty caps the hostile-signal backoff multiplier.
const maxPenalty = 5

// NewLimiter builds a Limiter with cfg. A nil logger falls back to
// slog.Default().
func NewLimiter(cfg Config, logger *slog.Logger) *Limiter {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:    cfg,
		state:  CircuitClosed,
		logger: logger,
		now:    time.Now,
	}
}

// CanRequest reports whether a fetch may go out now. While the breaker
// is open it returns false until ResetTimeout elapses, at which point
// the breaker moves to half-open and probing resumes.
func (l *Limiter) CanRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canRequestLocked(l.now())
}

func (l *Limiter) canRequestLocked(now time.Time) bool {
	if l.state == CircuitOpen {
		if now.Sub(l.lastOpen) < l.cfg.ResetTimeout {
			return false
		}
		l.state = CircuitHalfOpen
		l.logger.Info("pace: circuit half-open, probing resumes")
	}
	l.pruneLocked(now)
	return len(l.history) < l.cfg.RequestsPerMinute
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-requestWindow)
	i := 0
	for i < len(l.history) && l.history[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.history = append(l.history[:0], l.history[i:]...)
	}
}

// WaitForSlot blocks until CanRequest is true or ctx is done. Polling
// interval is Config.PollInterval.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	if l.CanRequest() {
		return nil
	}
	t := time.NewTicker(l.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if l.CanRequest() {
				return nil
			}
		}
	}
}

// RecordRequest records one completed request: appends its timestamp to
// the window, decays the error count and backoff penalty, and closes the
// breaker if it was half-open.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	l.history = append(l.history, now)

	if l.errorCount > 0 {
		l.errorCount--
	}
	l.consecOK++
	if l.consecOK%10 == 0 && l.penalty > 0 {
		l.penalty--
	}

	if l.state == CircuitHalfOpen {
		l.state = CircuitClosed
		l.errorCount = 0
		l.logger.Info("pace: circuit closed after successful probe")
	}
}

// RecordError feeds one failure into the breaker. Hostile signals
// (429, 403, block page, login redirect) open the circuit immediately
// and raise the backoff penalty; other errors open it only once the
// error count reaches the configured threshold. Any error while
// half-open reopens the circuit.
func (l *Limiter) RecordError(sig Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.errorCount++
	l.consecOK = 0

	switch {
	case sig.hostile():
		if l.penalty < maxPenalty {
			l.penalty++
		}
		l.openLocked(now, "hostile signal", sig)
	case l.state == CircuitHalfOpen:
		l.openLocked(now, "probe failed", sig)
	case l.errorCount >= l.cfg.ErrorThreshold:
		l.openLocked(now, "error threshold", sig)
	}
}

func (l *Limiter) openLocked(now time.Time, cause string, sig Signal) {
	l.state = CircuitOpen
	l.lastOpen = now
	l.logger.Warn("pace: circuit open",
		"cause", cause,
		"status", sig.Status,
		"error_count", l.errorCount,
		"penalty", l.penalty)
}

// AdaptiveDelay scales base by the current error pressure:
// base × (1 + errorCount×0.2), doubled while half-open, further scaled
// by (1 + penalty×0.5), clamped to [MinDelay, MaxDelay].
func (l *Limiter) AdaptiveDelay(base time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Resolve a pending open → half-open transition so the doubling
	// applies as soon as probing is allowed.
	l.canRequestLocked(l.now())

	d := float64(base) * (1 + float64(l.errorCount)*0.2)
	if l.state == CircuitHalfOpen {
		d *= 2
	}
	d *= 1 + float64(l.penalty)*0.5

	out := time.Duration(d)
	if out < l.cfg.MinDelay {
		out = l.cfg.MinDelay
	}
	if out > l.cfg.MaxDelay {
		out = l.cfg.MaxDelay
	}
	return out
}

// SetRPM updates the window ceiling. The controller pushes retuned
// values here; mid-window shrinks take effect on the next admission.
func (l *Limiter) SetRPM(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n != l.cfg.RequestsPerMinute {
		l.logger.Info("pace: rpm ceiling changed", "from", l.cfg.RequestsPerMinute, "to", n)
		l.cfg.RequestsPerMinute = n
	}
}

// Reset closes the breaker and zeroes the error count. Called after a
// successful re-authentication: the failure cause is gone, but the
// request window and the backoff penalty are kept so the site's
// observed hostility still shapes pacing.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = CircuitClosed
	l.errorCount = 0
	l.consecOK = 0
	l.logger.Info("pace: limiter reset")
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	State       string `json:"state"`
	ErrorCount  int    `json:"error_count"`
	Penalty     int    `json:"penalty"`
	WindowCount int    `json:"window_count"`
	RPM         int    `json:"rpm"`
}

// Snapshot returns current limiter state for event payloads and logs.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	state := l.state
	if state == CircuitOpen && now.Sub(l.lastOpen) >= l.cfg.ResetTimeout {
		state = CircuitHalfOpen
	}
	return Stats{
		State:       state.String(),
		ErrorCount:  l.errorCount,
		Penalty:     l.penalty,
		WindowCount: len(l.history),
		RPM:         l.cfg.RequestsPerMinute,
	}
}

// CLAUDE:SUMMARY Adaptive concurrency controller: 60s throughput window, debounced retuning of concurrency/delay/RPM.
package pace

import (
	"log/slog"
	"sync"
	"time"
)

// sample is one observation of the cumulative successful-fetch count.
type sample struct {
	t     time.Time
	count int
}

// Tuning is the actuator set the controller manages.
type Tuning struct {
	Concurrency  int           `json:"concurrency"`
	ProfileDelay time.Duration `json:"profile_delay"`
	RPM          int           `json:"rpm"`
}

// ControllerConfig seeds a Controller. Concurrency and ProfileDelay are
// caller overrides; zero means derive from the mode preset. Overrides
// are clamped to the mode's bounds, never honoured beyond them.
type ControllerConfig struct {
	Mode         Mode
	TargetPerMin int
	Concurrency  int
	ProfileDelay time.Duration
}

// adjustEvery debounces retuning so one bad second cannot whipsaw the
// actuators.
const adjustEvery = 15 * time.Second

// delayShrinkAbove: the delay actuator only shrinks while above this.
const delayShrinkAbove = 800 * time.Millisecond

// Controller closes the loop between observed throughput and the three
// actuators: worker concurrency, per-item delay, and the limiter's RPM
// ceiling. Observe feeds it samples, Adjust retunes at most once per
// 15s window.
type Controller struct {
	mu         sync.Mutex
	preset     Preset
	target     int
	limiter    *Limiter
	samples    []sample
	tuning     Tuning
	lastAdjust time.Time

	logger *slog.Logger
	now    func() time.Time
}

// NewController builds a Controller for the given mode and pushes the
// initial RPM ceiling into limiter. A nil logger falls back to
// slog.Default().
func NewController(cfg ControllerConfig, limiter *Limiter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	preset := cfg.Mode.Preset()
	if preset.MaxConcurrency > GlobalMaxConcurrency {
		preset.MaxConcurrency = GlobalMaxConcurrency
	}

	target := cfg.TargetPerMin
	if target <= 0 {
		target = DefaultTargetPerMin
	}

	conc := cfg.Concurrency
	if conc <= 0 {
		conc = preset.StartConcurrency
	}
	conc = clampInt(conc, preset.MinConcurrency, preset.MaxConcurrency)

	delay := cfg.ProfileDelay
	if delay <= 0 {
		delay = time.Duration(float64(BaseProfileDelay) * preset.DelayMultiplier)
	}
	delay = clampDur(delay, MinProfileDelay, MaxProfileDelay)

	rpm := int(float64(target) * preset.RPMMultiplier)
	if rpm < 1 {
		rpm = 1
	}
	if limiter != nil {
		limiter.SetRPM(rpm)
	}

	return &Controller{
		preset:  preset,
		target:  target,
		limiter: limiter,
		tuning:  Tuning{Concurrency: conc, ProfileDelay: delay, RPM: rpm},
		logger:  logger,
		now:     time.Now,
	}
}

// Observe records the cumulative successful-fetch count at the current
// instant. Call after every batch and at page boundaries.
func (c *Controller) Observe(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.samples = append(c.samples, sample{t: now, count: total})
	c.pruneLocked(now)
}

func (c *Controller) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(c.samples) && c.samples[i].t.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = append(c.samples[:0], c.samples[i:]...)
	}
}

// Throughput returns observed profiles per minute over the sample
// window. Zero until the window spans at least two samples.
func (c *Controller) Throughput() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throughputLocked(c.now())
}

func (c *Controller) throughputLocked(now time.Time) float64 {
	c.pruneLocked(now)
	if len(c.samples) < 2 {
		return 0
	}
	first, last := c.samples[0], c.samples[len(c.samples)-1]
	span := last.t.Sub(first.t)
	if span <= 0 {
		return 0
	}
	return float64(last.count-first.count) / span.Minutes()
}

// Adjust runs one control cycle against the given error rate. It is
// debounced to one adjustment per 15s and holds still until the sample
// window spans enough history to trust. The returned bool reports
// whether any actuator moved.
func (c *Controller) Adjust(errorRate float64) (Tuning, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastAdjust.IsZero() && now.Sub(c.lastAdjust) < adjustEvery {
		return c.tuning, false
	}
	c.pruneLocked(now)
	if len(c.samples) < 2 || c.samples[len(c.samples)-1].t.Sub(c.samples[0].t) < adjustEvery {
		return c.tuning, false
	}
	c.lastAdjust = now

	tp := c.throughputLocked(now)
	target := float64(c.target)
	prev := c.tuning

	next := prev
	switch {
	case errorRate > 0.10 || tp > 1.25*target:
		next.Concurrency--
	case tp < 0.9*target && errorRate < 0.05:
		next.Concurrency++
	}
	next.Concurrency = clampInt(next.Concurrency, c.preset.MinConcurrency, c.preset.MaxConcurrency)

	if errorRate > 0.12 {
		next.ProfileDelay = clampDur(time.Duration(float64(next.ProfileDelay)*1.2), MinProfileDelay, MaxProfileDelay)
	} else if tp < target && next.ProfileDelay > delayShrinkAbove {
		next.ProfileDelay = clampDur(time.Duration(float64(next.ProfileDelay)*0.9), MinProfileDelay, MaxProfileDelay)
	}

	rpm := int(target * c.preset.RPMMultiplier)
	if rpm < 1 {
		rpm = 1
	}
	next.RPM = rpm
	if next.RPM != prev.RPM && c.limiter != nil {
		c.limiter.SetRPM(next.RPM)
	}

	changed := next != prev
	if changed {
		c.logger.Info("pace: retuned",
			"throughput", tp,
			"target", c.target,
			"error_rate", errorRate,
			"concurrency", next.Concurrency,
			"delay_ms", next.ProfileDelay.Milliseconds(),
			"rpm", next.RPM)
	}
	c.tuning = next
	return next, changed
}

// Current returns the tuning in effect.
func (c *Controller) Current() Tuning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuning
}

// Target returns the throughput goal in profiles per minute.
func (c *Controller) Target() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

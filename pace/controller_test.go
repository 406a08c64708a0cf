package pace

import (
	"testing"
	"time"
)

func testController(cfg ControllerConfig) (*Controller, *fakeClock) {
	c := NewController(cfg, nil, nil)
	clk := newFakeClock()
	c.now = clk.now
	return c, clk
}

func TestModePresetFallback(t *testing.T) {
	if Mode("experimental").Preset() != ModeBalanced.Preset() {
		t.Fatal("unknown mode should fall back to balanced preset")
	}
	if Mode("experimental").Valid() {
		t.Fatal("unknown mode reported valid")
	}
	if !ModeFast.Valid() {
		t.Fatal("fast mode reported invalid")
	}
}

func TestControllerSeedsFromPreset(t *testing.T) {
	c, _ := testController(ControllerConfig{Mode: ModeBalanced, TargetPerMin: 20})
	got := c.Current()
	if got.Concurrency != 3 {
		t.Fatalf("concurrency = %d, want balanced start 3", got.Concurrency)
	}
	if got.ProfileDelay != 1500*time.Millisecond {
		t.Fatalf("delay = %v, want 1500ms", got.ProfileDelay)
	}
	if got.RPM != 30 {
		t.Fatalf("rpm = %d, want 20×1.5", got.RPM)
	}
}

func TestControllerOverridesClampedToMode(t *testing.T) {
	// WHAT: a requested concurrency of 99 on a conservative session is
	// honoured only up to the mode's ceiling.
	// WHY: overrides tune within a temperament, they do not escape it.
	c, _ := testController(ControllerConfig{
		Mode:         ModeConservative,
		Concurrency:  99,
		ProfileDelay: time.Hour,
	})
	got := c.Current()
	if got.Concurrency != 3 {
		t.Fatalf("concurrency = %d, want conservative max 3", got.Concurrency)
	}
	if got.ProfileDelay != MaxProfileDelay {
		t.Fatalf("delay = %v, want cap %v", got.ProfileDelay, MaxProfileDelay)
	}
}

func TestControllerPushesRPMToLimiter(t *testing.T) {
	l, _ := testLimiter(Config{RequestsPerMinute: 5})
	NewController(ControllerConfig{Mode: ModeFast, TargetPerMin: 20}, l, nil)
	if got := l.Snapshot().RPM; got != 40 {
		t.Fatalf("limiter rpm = %d, want 20×2.0", got)
	}
}

func TestThroughput(t *testing.T) {
	c, clk := testController(ControllerConfig{Mode: ModeBalanced})
	c.Observe(0)
	clk.advance(30 * time.Second)
	c.Observe(10)
	if got := c.Throughput(); got < 19.9 || got > 20.1 {
		t.Fatalf("throughput = %.2f, want ~20/min", got)
	}
}

func TestAdjustHoldsWithoutHistory(t *testing.T) {
	c, clk := testController(ControllerConfig{Mode: ModeBalanced})
	c.Observe(0)
	clk.advance(time.Second)
	if _, changed := c.Adjust(0); changed {
		t.Fatal("adjusted with a window too short to trust")
	}
}

// drive runs repeated observe/adjust cycles with a fixed per-cycle
// success increment and error rate.
func drive(c *Controller, clk *fakeClock, cycles, perCycle int, errRate float64) {
	total := 0
	c.Observe(total)
	for i := 0; i < cycles; i++ {
		clk.advance(16 * time.Second)
		total += perCycle
		c.Observe(total)
		c.Adjust(errRate)
	}
}

func TestConcurrencyNeverLeavesModeBounds(t *testing.T) {
	// WHAT: under sustained under-target throughput with clean errors the
	// actuator climbs but stops at the preset max; under heavy errors it
	// falls but stops at the preset min.
	c, clk := testController(ControllerConfig{Mode: ModeFast, TargetPerMin: 60})
	drive(c, clk, 30, 1, 0) // ~4/min against target 60 → grow every cycle
	if got := c.Current().Concurrency; got != 12 {
		t.Fatalf("concurrency = %d, want fast max 12", got)
	}

	c2, clk2 := testController(ControllerConfig{Mode: ModeFast, TargetPerMin: 60})
	drive(c2, clk2, 30, 1, 0.5)
	if got := c2.Current().Concurrency; got != 3 {
		t.Fatalf("concurrency = %d, want fast min 3", got)
	}
}

func TestDelayInflatesUnderErrorsAndCaps(t *testing.T) {
	c, clk := testController(ControllerConfig{Mode: ModeBalanced, TargetPerMin: 20})
	drive(c, clk, 40, 1, 0.2)
	if got := c.Current().ProfileDelay; got != MaxProfileDelay {
		t.Fatalf("delay = %v, want cap %v", got, MaxProfileDelay)
	}
}

func TestDelayShrinksTowardFloor(t *testing.T) {
	// WHAT: clean but slow sessions shave the delay by 10% per cycle, but
	// only while above the 800ms shrink threshold.
	c, clk := testController(ControllerConfig{Mode: ModeBalanced, TargetPerMin: 60, ProfileDelay: 1500 * time.Millisecond})
	drive(c, clk, 12, 1, 0)
	got := c.Current().ProfileDelay
	if got > 800*time.Millisecond {
		t.Fatalf("delay = %v, want at or below shrink threshold", got)
	}
	if got < MinProfileDelay {
		t.Fatalf("delay = %v fell below floor %v", got, MinProfileDelay)
	}
}

func TestAdjustDebounced(t *testing.T) {
	c, clk := testController(ControllerConfig{Mode: ModeBalanced, TargetPerMin: 60})
	c.Observe(0)
	clk.advance(20 * time.Second)
	c.Observe(1)

	if _, changed := c.Adjust(0); !changed {
		t.Fatal("first adjust should retune (throughput far below target)")
	}
	before := c.Current()

	clk.advance(5 * time.Second)
	c.Observe(2)
	tuning, changed := c.Adjust(0)
	if changed {
		t.Fatal("second adjust inside the 15s debounce window retuned")
	}
	if tuning != before {
		t.Fatalf("tuning moved during debounce: %+v vs %+v", tuning, before)
	}
}

func TestAdjustHoldsInDeadBand(t *testing.T) {
	// WHAT: error rate between 5% and 10% with near-target throughput
	// moves nothing.
	c, clk := testController(ControllerConfig{Mode: ModeBalanced, TargetPerMin: 20, ProfileDelay: 800 * time.Millisecond})
	before := c.Current()
	// ~20/min: 6 per 16s cycle ≈ 22/min, inside (0.9t, 1.25t).
	drive(c, clk, 6, 6, 0.07)
	got := c.Current()
	if got.Concurrency != before.Concurrency {
		t.Fatalf("concurrency moved in dead band: %d → %d", before.Concurrency, got.Concurrency)
	}
}

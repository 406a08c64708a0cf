package pace

import "time"

// Mode selects a harvesting temperament. Each mode maps to a preset of
// concurrency bounds and pacing multipliers; the controller never moves
// an actuator outside its mode's bounds.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeFast         Mode = "fast"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeConservative, ModeBalanced, ModeFast:
		return true
	}
	return false
}

// Preset bounds the adaptive controller for one mode.
type Preset struct {
	MinConcurrency   int
	MaxConcurrency   int
	StartConcurrency int
	RPMMultiplier    float64 // rpm ceiling = target throughput × multiplier
	DelayMultiplier  float64 // initial delay = BaseProfileDelay × multiplier
}

// Preset returns the tuning bounds for m. Unknown modes fall back to
// balanced rather than failing: a stale checkpoint with a retired mode
// name should still resume.
func (m Mode) Preset() Preset {
	switch m {
	case ModeConservative:
		return Preset{MinConcurrency: 1, MaxConcurrency: 3, StartConcurrency: 2, RPMMultiplier: 1.0, DelayMultiplier: 1.5}
	case ModeFast:
		return Preset{MinConcurrency: 3, MaxConcurrency: 12, StartConcurrency: 6, RPMMultiplier: 2.0, DelayMultiplier: 0.7}
	default:
		return Preset{MinConcurrency: 2, MaxConcurrency: 6, StartConcurrency: 3, RPMMultiplier: 1.5, DelayMultiplier: 1.0}
	}
}

const (
	// DefaultTargetPerMin is the throughput goal used when the caller
	// does not set one.
	DefaultTargetPerMin = 20

	// BaseProfileDelay is the per-item delay before mode multipliers.
	BaseProfileDelay = 1500 * time.Millisecond

	// GlobalMaxConcurrency caps every mode. No preset may exceed it.
	GlobalMaxConcurrency = 12

	// MinProfileDelay and MaxProfileDelay bound the adaptive delay
	// actuator in both directions.
	MinProfileDelay = 700 * time.Millisecond
	MaxProfileDelay = 8 * time.Second
)

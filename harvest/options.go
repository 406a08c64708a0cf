package harvest

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hazyhaar/moisson/pace"
)

// DefaultMaxPages caps pagination when the caller sets no limit.
const DefaultMaxPages = 100

// Options selects what one session harvests and how hard it pushes.
// Query is required; everything else has a usable zero value. The
// struct round-trips through JSON into the session checkpoint, so a
// resumed session runs with exactly the options it started with.
type Options struct {
	Query string    `json:"query"`
	Mode  pace.Mode `json:"mode,omitempty"`

	// Goals. Zero means unbounded.
	TargetProfiles    int `json:"target_profiles,omitempty"`
	TimeBudgetMinutes int `json:"time_budget_minutes,omitempty"`

	// Throughput goal in profiles per minute. Zero takes the default.
	TargetProfilesPerMin int `json:"target_profiles_per_min,omitempty"`

	// Caller overrides for the adaptive actuators. Zero derives both
	// from the mode preset; set values are clamped to the mode bounds,
	// never honoured beyond them.
	RequestedConcurrency    int `json:"requested_concurrency,omitempty"`
	RequestedProfileDelayMS int `json:"requested_profile_delay_ms,omitempty"`

	// MaxPages caps pagination. Zero takes DefaultMaxPages.
	MaxPages int `json:"max_pages,omitempty"`

	// SkipDetails ends each page after the listing phase. Candidates
	// are still recorded and queued, so a later resume can fetch them.
	SkipDetails bool `json:"skip_details,omitempty"`

	// MaxBatchSize chunks the detail phase. Zero takes the pool default.
	MaxBatchSize int `json:"max_batch_size,omitempty"`
}

func (o *Options) defaults() {
	if !o.Mode.Valid() {
		o.Mode = pace.ModeBalanced
	}
	if o.TargetProfilesPerMin <= 0 {
		o.TargetProfilesPerMin = pace.DefaultTargetPerMin
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
}

// Validate rejects options that cannot run at all.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Query) == "" {
		return errors.New("harvest: options need a query")
	}
	if o.Mode != "" && !o.Mode.Valid() {
		return errors.New("harvest: unknown mode " + string(o.Mode))
	}
	return nil
}

func (o Options) profileDelay() time.Duration {
	return time.Duration(o.RequestedProfileDelayMS) * time.Millisecond
}

// EncodeOptions serializes options for checkpoint storage.
func EncodeOptions(o Options) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeOptions restores options recorded in a checkpoint.
func DecodeOptions(s string) (Options, error) {
	var o Options
	if s == "" {
		return o, errors.New("harvest: checkpoint carries no options")
	}
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return o, err
	}
	return o, nil
}

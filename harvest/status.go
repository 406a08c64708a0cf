package harvest

// Status is the lifecycle position of a session. Stored in checkpoints
// as its string form, so renaming a value is a migration.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusRunning       Status = "running"
	StatusPaused        Status = "paused"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusStopped       Status = "stopped"
	StatusTimeBudget    Status = "time_budget_exceeded"
	StatusTargetReached Status = "target_reached"
)

// Terminal reports whether no further work will happen in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped, StatusTimeBudget, StatusTargetReached:
		return true
	}
	return false
}

// Reason says why a session ended. Carried on the done event and in
// the run outcome; failed sessions carry the error instead.
type Reason string

const (
	// ReasonCompleted: pagination exhausted or stalled and every queued
	// profile was attempted.
	ReasonCompleted Reason = "completed"

	// ReasonStopRequested: an explicit stop call ended the session.
	ReasonStopRequested Reason = "stop_requested"

	// ReasonStopped: the surrounding context was cancelled, typically
	// process shutdown.
	ReasonStopped Reason = "stopped"

	// ReasonTimeBudget: the configured wall-clock budget ran out.
	ReasonTimeBudget Reason = "time_budget_exceeded"

	// ReasonTargetReached: the configured profile count was collected.
	ReasonTargetReached Reason = "target_profiles_reached"
)

// statusFor maps a termination reason to the terminal status recorded
// in the checkpoint.
func statusFor(reason Reason) Status {
	switch reason {
	case ReasonStopRequested:
		return StatusStopped
	case ReasonStopped:
		// Shutdown parks the session resumable; only an explicit stop
		// is terminal.
		return StatusPaused
	case ReasonTimeBudget:
		return StatusTimeBudget
	case ReasonTargetReached:
		return StatusTargetReached
	default:
		return StatusCompleted
	}
}

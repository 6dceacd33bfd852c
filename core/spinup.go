package core

import "time"

// DefaultSpinupWait is how long the wheel is assumed to need to reach a newly
// commanded speed.
const DefaultSpinupWait = 750 * time.Millisecond

// SpinupState is the estimator phase.
type SpinupState int

const (
	Idle SpinupState = iota
	SpinningUp
	AtTarget
)

func (s SpinupState) String() string {
	switch s {
	case Idle:
		return "idle"
	case SpinningUp:
		return "spinning_up"
	case AtTarget:
		return "at_target"
	default:
		return "unknown"
	}
}

// SpinupEstimator asserts readiness after a fixed, tunable delay. There is
// no sensor: "at target" means enough time has passed since the last command.
type SpinupEstimator struct {
	defaultWait time.Duration
	wait        time.Duration
	state       SpinupState
	start       time.Time
}

// NewSpinupEstimator creates an Idle estimator. A non-positive wait falls
// back to DefaultSpinupWait.
func NewSpinupEstimator(wait time.Duration) *SpinupEstimator {
	if wait <= 0 {
		wait = DefaultSpinupWait
	}
	return &SpinupEstimator{defaultWait: wait, wait: wait}
}

// Command restarts the spin-up timer. Every command resets it, including one
// issued while already AtTarget.
func (e *SpinupEstimator) Command(now time.Time) {
	e.state = SpinningUp
	e.start = now
}

// Stop returns to Idle and clears the timestamp.
func (e *SpinupEstimator) Stop() {
	e.state = Idle
	e.start = time.Time{}
}

// Advance applies the time-based SpinningUp -> AtTarget transition.
func (e *SpinupEstimator) Advance(now time.Time) SpinupState {
	if e.state == SpinningUp && now.Sub(e.start) >= e.wait {
		e.state = AtTarget
	}
	return e.state
}

// State returns the phase as of the last Advance.
func (e *SpinupEstimator) State() SpinupState { return e.state }

// Started returns the spin-up start time; zero while Idle.
func (e *SpinupEstimator) Started() time.Time { return e.start }

// Wait returns the active spin-up delay.
func (e *SpinupEstimator) Wait() time.Duration { return e.wait }

// SetWait changes the delay. Non-positive values restore the default.
func (e *SpinupEstimator) SetWait(d time.Duration) {
	if d <= 0 {
		d = e.defaultWait
	}
	e.wait = d
}

// IsAtTarget reports readiness for a launcher commanded to targetSpeed.
func (e *SpinupEstimator) IsAtTarget(now time.Time, targetSpeed float64) bool {
	return e.Advance(now) == AtTarget && targetSpeed != 0
}

// Elapsed is the time since the last command, or zero while Idle.
func (e *SpinupEstimator) Elapsed(now time.Time) time.Duration {
	if e.state == Idle {
		return 0
	}
	return now.Sub(e.start)
}

// Remaining is the time left until readiness is asserted.
func (e *SpinupEstimator) Remaining(now time.Time) time.Duration {
	if e.state == Idle {
		return 0
	}
	if r := e.wait - e.Elapsed(now); r > 0 {
		return r
	}
	return 0
}

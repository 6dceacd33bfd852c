// Package core implements the open-loop launcher: the voltage model, the
// time-based spin-up estimator and the launcher and feeder controllers.
//
// Nothing in this package reads hardware feedback. Collaborators are reached
// through the small interfaces declared here.
package core

import "errors"

var (
	// ErrActuation wraps failures reported by a motor sink. Controller state is
	// updated regardless, so a failed stop still leaves the launcher Idle.
	ErrActuation = errors.New("actuation failed")
	// ErrInvalidModel marks out-of-range electrical constants.
	ErrInvalidModel = errors.New("invalid actuation model")
)

// VoltageSink drives the launcher motor.
type VoltageSink interface {
	SetVoltage(volts float64) error
}

// FeedSink drives the feeder at a signed output fraction in [-1, 1].
type FeedSink interface {
	SetFeedRate(fraction float64) error
}

// TelemetrySink receives named values for the dashboard. GetNumber is the
// one read path; it exists so the spin-up wait can be tuned live.
type TelemetrySink interface {
	PutNumber(key string, value float64)
	PutString(key, value string)
	PutBoolean(key string, value bool)
	GetNumber(key string, def float64) float64
}

// ProfileSelector exposes the operator's current profile choice.
type ProfileSelector interface {
	Selected() (name string, ok bool)
}

// LauncherRecorder receives launcher measurements for metrics export.
type LauncherRecorder interface {
	ObserveLauncher(s LauncherState)
	RangeViolation(profile, side string)
	ProfileFallback()
}

// FeederRecorder receives the commanded feeder output.
type FeederRecorder interface {
	ObserveFeeder(fraction float64)
}

type nopTelemetry struct{}

func (nopTelemetry) PutNumber(string, float64)               {}
func (nopTelemetry) PutString(string, string)                {}
func (nopTelemetry) PutBoolean(string, bool)                 {}
func (nopTelemetry) GetNumber(_ string, def float64) float64 { return def }

type nopRecorder struct{}

func (nopRecorder) ObserveLauncher(LauncherState) {}
func (nopRecorder) RangeViolation(string, string) {}
func (nopRecorder) ProfileFallback()              {}
func (nopRecorder) ObserveFeeder(float64)         {}

package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/profile"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

var testStart = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type recordingMotor struct {
	volts []float64
	err   error
}

func (m *recordingMotor) SetVoltage(v float64) error {
	m.volts = append(m.volts, v)
	return m.err
}

func (m *recordingMotor) last() float64 {
	if len(m.volts) == 0 {
		return -1
	}
	return m.volts[len(m.volts)-1]
}

type recordingFeed struct {
	rates []float64
	err   error
}

func (f *recordingFeed) SetFeedRate(r float64) error {
	f.rates = append(f.rates, r)
	return f.err
}

type mapTelemetry struct {
	numbers map[string]float64
	strings map[string]string
	bools   map[string]bool
}

func newMapTelemetry() *mapTelemetry {
	return &mapTelemetry{
		numbers: map[string]float64{},
		strings: map[string]string{},
		bools:   map[string]bool{},
	}
}

func (m *mapTelemetry) PutNumber(k string, v float64) { m.numbers[k] = v }
func (m *mapTelemetry) PutString(k, v string)         { m.strings[k] = v }
func (m *mapTelemetry) PutBoolean(k string, v bool)   { m.bools[k] = v }

func (m *mapTelemetry) GetNumber(k string, def float64) float64 {
	if v, ok := m.numbers[k]; ok {
		return v
	}
	return def
}

type staticSelector struct {
	name string
	ok   bool
}

func (s *staticSelector) Selected() (string, bool) { return s.name, s.ok }

type countingRecorder struct {
	observed   int
	violations []string
	fallbacks  int
}

func (r *countingRecorder) ObserveLauncher(LauncherState) { r.observed++ }
func (r *countingRecorder) ProfileFallback()              { r.fallbacks++ }

func (r *countingRecorder) RangeViolation(profile, side string) {
	r.violations = append(r.violations, profile+"/"+side)
}

var errMotor = errors.New("bus off")

type launcherFixture struct {
	launcher  *Launcher
	motor     *recordingMotor
	clock     *timectrl.ManualClock
	telemetry *mapTelemetry
	recorder  *countingRecorder
	registry  *profile.Registry
}

func newLauncherFixture(t *testing.T, mutate func(*LauncherConfig)) *launcherFixture {
	t.Helper()
	reg, err := profile.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	f := &launcherFixture{
		motor:     &recordingMotor{},
		clock:     timectrl.NewManualClock(testStart),
		telemetry: newMapTelemetry(),
		recorder:  &countingRecorder{},
		registry:  reg,
	}
	cfg := LauncherConfig{
		Registry:  reg,
		Motor:     f.motor,
		Clock:     f.clock,
		Telemetry: f.telemetry,
		Recorder:  f.recorder,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := NewLauncher(cfg)
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	f.launcher = l
	return f
}

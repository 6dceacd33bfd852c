// Package actuator provides the motor and feeder sinks: recording
// simulators and a serial line bridge to a motor controller board.
package actuator

import (
	"context"
	"sync"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
)

// SimMotor records voltage commands in place of a motor driver.
type SimMotor struct {
	mu      sync.Mutex
	volts   float64
	history []float64
	log     logging.Logger
}

// NewSimMotor creates a simulated motor. log may be nil.
func NewSimMotor(log logging.Logger) *SimMotor {
	if log == nil {
		log = logging.Noop()
	}
	return &SimMotor{log: log.With(logging.String("sink", "sim_motor"))}
}

// SetVoltage records volts.
func (m *SimMotor) SetVoltage(volts float64) error {
	m.mu.Lock()
	changed := volts != m.volts || len(m.history) == 0
	m.volts = volts
	m.history = append(m.history, volts)
	m.mu.Unlock()
	if changed {
		m.log.Debug(context.Background(), "motor voltage", logging.Float("volts", volts))
	}
	return nil
}

// Voltage returns the last commanded voltage.
func (m *SimMotor) Voltage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volts
}

// Commands returns every voltage received, oldest first.
func (m *SimMotor) Commands() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.history...)
}

// StopAll drives zero volts.
func (m *SimMotor) StopAll() error { return m.SetVoltage(0) }

// SimFeeder records feed commands in place of a feeder driver.
type SimFeeder struct {
	mu       sync.Mutex
	fraction float64
	history  []float64
	log      logging.Logger
}

// NewSimFeeder creates a simulated feeder. log may be nil.
func NewSimFeeder(log logging.Logger) *SimFeeder {
	if log == nil {
		log = logging.Noop()
	}
	return &SimFeeder{log: log.With(logging.String("sink", "sim_feeder"))}
}

// SetFeedRate records fraction.
func (f *SimFeeder) SetFeedRate(fraction float64) error {
	f.mu.Lock()
	changed := fraction != f.fraction || len(f.history) == 0
	f.fraction = fraction
	f.history = append(f.history, fraction)
	f.mu.Unlock()
	if changed {
		f.log.Debug(context.Background(), "feed rate", logging.Float("fraction", fraction))
	}
	return nil
}

// Rate returns the last commanded fraction.
func (f *SimFeeder) Rate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fraction
}

// Commands returns every fraction received, oldest first.
func (f *SimFeeder) Commands() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.history...)
}

// StopAll zeroes the feeder.
func (f *SimFeeder) StopAll() error { return f.SetFeedRate(0) }

package core

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
)

// Feeder output presets. Positive feeds toward the launcher.
const (
	IntakeFraction = 0.8
	EjectFraction  = -0.5
	feederSpeedKey = "Feeder/Speed"
)

// Feeder drives the mechanism that pushes game pieces into the wheel. It only
// exposes set-speed and stop.
type Feeder struct {
	sink      FeedSink
	telemetry TelemetrySink
	recorder  FeederRecorder
	log       logging.Logger
	speed     float64
}

// NewFeeder wraps sink. telemetry, recorder and log may be nil.
func NewFeeder(sink FeedSink, telemetry TelemetrySink, recorder FeederRecorder, log logging.Logger) (*Feeder, error) {
	if sink == nil {
		return nil, errors.New("feeder: sink is nil")
	}
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Feeder{
		sink:      sink,
		telemetry: telemetry,
		recorder:  recorder,
		log:       log.With(logging.String("component", "feeder")),
	}, nil
}

// SetSpeed drives the feeder at fraction, clamped to [-1, 1].
func (f *Feeder) SetSpeed(ctx context.Context, fraction float64) error {
	if math.IsNaN(fraction) {
		fraction = 0
	}
	f.speed = math.Max(-1, math.Min(1, fraction))
	f.telemetry.PutNumber(feederSpeedKey, f.speed)
	f.recorder.ObserveFeeder(f.speed)

	if err := f.sink.SetFeedRate(f.speed); err != nil {
		f.log.Warn(ctx, "feeder rejected command", logging.Float("fraction", f.speed), logging.Err(err))
		return fmt.Errorf("%w: feed %.2f: %v", ErrActuation, f.speed, err)
	}
	return nil
}

// Stop halts the feeder.
func (f *Feeder) Stop(ctx context.Context) error {
	return f.SetSpeed(ctx, 0)
}

// Speed returns the last commanded output fraction.
func (f *Feeder) Speed() float64 { return f.speed }

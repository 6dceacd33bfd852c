// Package sequence runs launcher routines on the control loop: the shoot
// sequence and the other task variants, owned per mechanism by a single
// cooperative Scheduler.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/core"
)

var (
	// ErrInvalidTask is returned by Submit for a malformed task.
	ErrInvalidTask = errors.New("invalid task")
	// ErrUnknownTask is returned by Cancel for an ID that is not active.
	ErrUnknownTask = errors.New("unknown task")
)

// Defaults applied to shoot tasks that leave the field zero.
const (
	DefaultFeedRate = 0.5
	DefaultDwell    = 500 * time.Millisecond
)

// Launcher is the slice of the launcher controller the routines drive.
type Launcher interface {
	SetSpeedForDistance(ctx context.Context, distance float64) error
	SetSpeedDirect(ctx context.Context, wheelRPM float64) error
	ResolveSpeed(distance float64) float64
	IsDistanceSafe(distance float64) bool
	IsReady() bool
	Stop(ctx context.Context) error
}

// Feeder is the feeder's low-level control.
type Feeder interface {
	SetSpeed(ctx context.Context, fraction float64) error
	Stop(ctx context.Context) error
}

// DistanceSource reports the current estimated distance to the target in
// meters.
type DistanceSource interface {
	CurrentDistance() float64
}

// Kind tags a task variant.
type Kind int

const (
	ShootAtFixedDistance Kind = iota + 1
	ShootAtLiveDistance
	ManualSpeed
	TrackDistance
	Feed
	HardwareTest
	EmergencyStop
)

func (k Kind) String() string {
	switch k {
	case ShootAtFixedDistance:
		return "shoot_fixed"
	case ShootAtLiveDistance:
		return "shoot_live"
	case ManualSpeed:
		return "manual_speed"
	case TrackDistance:
		return "track_distance"
	case Feed:
		return "feed"
	case HardwareTest:
		return "hardware_test"
	case EmergencyStop:
		return "emergency_stop"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Mechanism is a physical actuator a routine may own.
type Mechanism int

const (
	MechanismLauncher Mechanism = iota
	MechanismFeeder
)

func (m Mechanism) String() string {
	if m == MechanismFeeder {
		return "feeder"
	}
	return "launcher"
}

// Task describes one routine to run. Only the fields relevant to Kind are
// read.
type Task struct {
	Kind     Kind
	Distance float64       // ShootAtFixedDistance, meters
	Speed    float64       // ManualSpeed, wheel RPM
	FeedRate float64       // shoot kinds, ManualSpeed, Feed
	Dwell    time.Duration // shoot kinds
	Label    string
}

// ShootAt shoots once at a fixed distance.
func ShootAt(distance float64) Task {
	return Task{Kind: ShootAtFixedDistance, Distance: distance}
}

// ShootLive shoots once at the distance sampled when the routine starts.
func ShootLive() Task { return Task{Kind: ShootAtLiveDistance} }

// RunAt holds a wheel speed, optionally feeding, until cancelled.
func RunAt(rpm, feedRate float64) Task {
	return Task{Kind: ManualSpeed, Speed: rpm, FeedRate: feedRate}
}

// Track follows the live distance until cancelled.
func Track() Task { return Task{Kind: TrackDistance} }

// FeedAt runs the feeder alone until cancelled.
func FeedAt(fraction float64) Task { return Task{Kind: Feed, FeedRate: fraction} }

// Intake runs the feeder forward at the intake preset until cancelled.
func Intake() Task { return FeedAt(core.IntakeFraction) }

// Eject runs the feeder backward at the eject preset until cancelled.
func Eject() Task { return FeedAt(core.EjectFraction) }

// StepTest runs the launcher through the hardware check speeds.
func StepTest() Task { return Task{Kind: HardwareTest} }

// Halt stops everything.
func Halt() Task { return Task{Kind: EmergencyStop} }

// withDefaults fills zero-valued shoot parameters.
func (t Task) withDefaults(feedRate float64, dwell time.Duration) Task {
	switch t.Kind {
	case ShootAtFixedDistance, ShootAtLiveDistance:
		if t.FeedRate == 0 {
			t.FeedRate = feedRate
		}
		if t.Dwell == 0 {
			t.Dwell = dwell
		}
	}
	return t
}

// Validate reports whether t is well formed.
func (t Task) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidTask, t.Kind, fmt.Sprintf(format, args...))
	}
	if !finite(t.Distance) || !finite(t.Speed) || !finite(t.FeedRate) {
		return bad("non-finite parameter")
	}
	if t.FeedRate < -1 || t.FeedRate > 1 {
		return bad("feed rate %.2f outside [-1, 1]", t.FeedRate)
	}
	if t.Dwell < 0 {
		return bad("negative dwell %v", t.Dwell)
	}

	switch t.Kind {
	case ManualSpeed:
		if t.Speed < 0 {
			return bad("speed %.0f must not be negative", t.Speed)
		}
	case Feed:
		if t.FeedRate == 0 {
			return bad("feed rate must be nonzero")
		}
	case ShootAtFixedDistance, ShootAtLiveDistance, TrackDistance, HardwareTest, EmergencyStop:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTask, int(t.Kind))
	}
	return nil
}

// Mechanisms lists what a routine for t owns while it runs.
func (t Task) Mechanisms() []Mechanism {
	switch t.Kind {
	case ShootAtFixedDistance, ShootAtLiveDistance, EmergencyStop:
		return []Mechanism{MechanismLauncher, MechanismFeeder}
	case ManualSpeed:
		if t.FeedRate != 0 {
			return []Mechanism{MechanismLauncher, MechanismFeeder}
		}
		return []Mechanism{MechanismLauncher}
	case TrackDistance, HardwareTest:
		return []Mechanism{MechanismLauncher}
	case Feed:
		return []Mechanism{MechanismFeeder}
	}
	return nil
}

func (t Task) needsDistanceSource() bool {
	return t.Kind == ShootAtLiveDistance || t.Kind == TrackDistance
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

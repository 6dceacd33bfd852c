package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"github.com/signalsfoundry/flywheel-launcher/profile"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

// Dashboard keys written by the launcher. SpinupWaitKey is also read back
// once per tick for live tuning.
const (
	SpinupWaitKey        = "Shooter/Spinup Wait (s)"
	targetRPMKey         = "Shooter/Target RPM"
	estimatedRPMKey      = "Shooter/Estimated RPM"
	voltageKey           = "Shooter/Commanded Voltage"
	openLoopKey          = "Shooter/Open Loop Mode"
	atTargetKey          = "Shooter/At Target"
	spinupElapsedKey     = "Shooter/Spinup Elapsed (s)"
	spinupRemainingKey   = "Shooter/Spinup Remaining (s)"
	activeProfileKey     = "Shooter/Active Profile"
	profileAngleKey      = "Shooter/Profile Angle (deg)"
	profileMinKey        = "Shooter/Profile Min Dist (m)"
	profileMaxKey        = "Shooter/Profile Max Dist (m)"
	distanceInRangeKey   = "Shooter/Distance In Range"
	lastDistanceKey      = "Shooter/Last Distance (m)"
	lastCommandedRPMKey  = "Shooter/Last Commanded RPM"
	noActiveProfileLabel = "NONE"
)

// DefaultNoProfileRPM is commanded when no profile resolves.
const DefaultNoProfileRPM = 3500.0

// LauncherState is a snapshot of the launcher's command state.
type LauncherState struct {
	TargetSpeed      float64
	CommandedVoltage float64
	EstimatedSpeed   float64
	Spinup           SpinupState
	SpinupStart      time.Time // zero while Idle
	SpinupElapsed    time.Duration
	Ready            bool
	ActiveProfile    string
	LastDistance     float64
}

// LauncherConfig wires a Launcher to its collaborators. Motor and Clock are
// required; everything else has a usable default.
type LauncherConfig struct {
	Model     OpenLoopModel
	Registry  *profile.Registry
	Motor     VoltageSink
	Clock     timectrl.SimClock
	Telemetry TelemetrySink
	Selector  ProfileSelector
	Recorder  LauncherRecorder
	Logger    logging.Logger

	SpinupWait     time.Duration // default DefaultSpinupWait
	NoProfileSpeed float64       // default DefaultNoProfileRPM
}

// Launcher is the flywheel controller. It is driven from the single control
// loop and is not safe for concurrent use.
type Launcher struct {
	model     OpenLoopModel
	registry  *profile.Registry
	motor     VoltageSink
	clock     timectrl.SimClock
	telemetry TelemetrySink
	selector  ProfileSelector
	recorder  LauncherRecorder
	log       logging.Logger
	estimator *SpinupEstimator

	noProfileSpeed float64
	defaultWait    time.Duration

	targetSpeed      float64
	commandedVoltage float64
	lastDistance     float64
	lastSelected     string
}

// NewLauncher validates cfg and publishes the tunable spin-up wait.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if cfg.Motor == nil {
		return nil, errors.New("launcher: motor sink is nil")
	}
	if cfg.Clock == nil {
		return nil, errors.New("launcher: clock is nil")
	}
	if cfg.Model == (OpenLoopModel{}) {
		cfg.Model = DefaultOpenLoopModel()
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, fmt.Errorf("launcher: %w", err)
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = nopTelemetry{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.SpinupWait <= 0 {
		cfg.SpinupWait = DefaultSpinupWait
	}
	if cfg.NoProfileSpeed <= 0 {
		cfg.NoProfileSpeed = DefaultNoProfileRPM
	}

	l := &Launcher{
		model:          cfg.Model,
		registry:       cfg.Registry,
		motor:          cfg.Motor,
		clock:          cfg.Clock,
		telemetry:      cfg.Telemetry,
		selector:       cfg.Selector,
		recorder:       cfg.Recorder,
		log:            cfg.Logger.With(logging.String("component", "launcher")),
		estimator:      NewSpinupEstimator(cfg.SpinupWait),
		noProfileSpeed: cfg.NoProfileSpeed,
		defaultWait:    cfg.SpinupWait,
	}
	if cfg.Registry != nil {
		l.lastSelected = cfg.Registry.ActiveName()
	}

	l.telemetry.PutNumber(SpinupWaitKey, cfg.SpinupWait.Seconds())
	l.log.Warn(context.Background(), "launcher running open loop, no speed feedback",
		logging.Float("max_voltage", l.model.MaxVoltage()),
		logging.Duration("spinup_wait", cfg.SpinupWait),
	)
	return l, nil
}

// SetSpeedForDistance commands the speed the active profile calibrates for
// distance. Distances outside the safe range are clamped to the safe edge and
// reported in the returned error; the speed is commanded either way. With no
// active profile the fixed fallback speed is commanded and
// profile.ErrNoActiveProfile returned.
func (l *Launcher) SetSpeedForDistance(ctx context.Context, distance float64) error {
	active := l.activeProfile()
	if active == nil {
		l.log.Error(ctx, "no active profile, using fallback speed", logging.Float("rpm", l.noProfileSpeed))
		l.recorder.ProfileFallback()
		if err := l.SetSpeedDirect(ctx, l.noProfileSpeed); err != nil {
			return errors.Join(profile.ErrNoActiveProfile, err)
		}
		return profile.ErrNoActiveProfile
	}

	var rangeErr error
	lookup, err := active.ClampToSafeRange(distance)
	if err != nil {
		rangeErr = err
		l.reportRange(ctx, active, err, "distance outside safe range, using edge value")
	}
	l.telemetry.PutBoolean(distanceInRangeKey, rangeErr == nil)

	speed, err := active.SpeedForDistance(lookup)
	if err != nil {
		l.reportRange(ctx, active, err, "distance outside calibration points, using edge value")
		if rangeErr == nil {
			rangeErr = err
		}
	}
	// One violation per request, even when both clamps fire.
	var rerr *profile.RangeError
	if errors.As(rangeErr, &rerr) {
		l.recorder.RangeViolation(active.Name(), rerr.Side.String())
	}

	l.lastDistance = distance
	actErr := l.SetSpeedDirect(ctx, speed)
	l.telemetry.PutNumber(lastDistanceKey, distance)
	l.telemetry.PutNumber(lastCommandedRPMKey, speed)

	return errors.Join(rangeErr, actErr)
}

// ResolveSpeed returns the speed SetSpeedForDistance would command for
// distance without commanding it or reporting range violations.
func (l *Launcher) ResolveSpeed(distance float64) float64 {
	active := l.activeProfile()
	if active == nil {
		return l.noProfileSpeed
	}
	lookup, _ := active.ClampToSafeRange(distance)
	speed, _ := active.SpeedForDistance(lookup)
	return speed
}

// SetSpeedDirect commands a wheel speed in RPM and restarts the spin-up
// estimate. A non-positive speed drives zero volts and leaves the estimator
// Idle, so IsReady stays false.
func (l *Launcher) SetSpeedDirect(ctx context.Context, wheelRPM float64) error {
	l.targetSpeed = wheelRPM
	l.commandedVoltage = l.model.Voltage(wheelRPM)

	err := l.motor.SetVoltage(l.commandedVoltage)
	if err != nil {
		l.log.Warn(ctx, "motor rejected voltage command",
			logging.Float("volts", l.commandedVoltage), logging.Err(err))
		err = fmt.Errorf("%w: set %.2fV: %v", ErrActuation, l.commandedVoltage, err)
	}

	if wheelRPM > 0 {
		l.estimator.Command(l.clock.Now())
	} else {
		l.estimator.Stop()
	}
	l.log.Debug(ctx, "speed commanded",
		logging.Float("target_rpm", wheelRPM),
		logging.Float("volts", l.commandedVoltage),
	)
	return err
}

// SetMotorSpeed commands the launcher by motor RPM instead of wheel RPM.
func (l *Launcher) SetMotorSpeed(ctx context.Context, motorRPM float64) error {
	return l.SetSpeedDirect(ctx, l.model.MotorToWheel(motorRPM))
}

// Stop zeroes the command and returns the estimator to Idle.
func (l *Launcher) Stop(ctx context.Context) error {
	l.targetSpeed = 0
	l.commandedVoltage = 0
	l.estimator.Stop()

	if err := l.motor.SetVoltage(0); err != nil {
		l.log.Warn(ctx, "motor rejected stop", logging.Err(err))
		return fmt.Errorf("%w: stop: %v", ErrActuation, err)
	}
	return nil
}

// IsReady reports whether the wheel is assumed to be at the commanded speed.
func (l *Launcher) IsReady() bool {
	return l.estimator.IsAtTarget(l.clock.Now(), l.targetSpeed)
}

// IsDistanceSafe reports whether distance is inside the active profile's
// safe range; false when no profile resolves.
func (l *Launcher) IsDistanceSafe(distance float64) bool {
	active := l.activeProfile()
	if active == nil {
		return false
	}
	return active.IsInSafeRange(distance)
}

// SelectProfile applies a profile choice through the registry.
func (l *Launcher) SelectProfile(ctx context.Context, name string) error {
	if l.registry == nil {
		return profile.ErrNoActiveProfile
	}
	err := l.registry.Select(name)
	if err != nil {
		l.log.Warn(ctx, "profile not found, using default",
			logging.String("requested", name),
			logging.String("default", l.registry.DefaultName()),
		)
	}
	active := l.registry.Active()
	l.log.Info(ctx, "launcher profile selected",
		logging.String("profile", active.Name()),
		logging.Float("angle_deg", active.AngleDegrees()),
		logging.Float("min_safe_m", active.MinSafeDistance()),
		logging.Float("max_safe_m", active.MaxSafeDistance()),
	)
	return err
}

// ActiveProfileName returns the active profile name or "NONE".
func (l *Launcher) ActiveProfileName() string {
	if active := l.activeProfile(); active != nil {
		return active.Name()
	}
	return noActiveProfileLabel
}

// Periodic runs once per control tick: it absorbs an external profile
// choice, reads the live spin-up wait, advances the estimator and publishes
// telemetry.
func (l *Launcher) Periodic(ctx context.Context) {
	if l.selector != nil && l.registry != nil {
		if name, ok := l.selector.Selected(); ok && name != l.lastSelected {
			l.lastSelected = name
			_ = l.SelectProfile(ctx, name)
		}
	}

	waitSeconds := l.telemetry.GetNumber(SpinupWaitKey, l.defaultWait.Seconds())
	l.estimator.SetWait(time.Duration(waitSeconds * float64(time.Second)))

	s := l.Snapshot()
	l.telemetry.PutNumber(targetRPMKey, s.TargetSpeed)
	l.telemetry.PutNumber(estimatedRPMKey, s.EstimatedSpeed)
	l.telemetry.PutNumber(voltageKey, s.CommandedVoltage)
	l.telemetry.PutBoolean(openLoopKey, true)
	l.telemetry.PutBoolean(atTargetKey, s.Ready)
	l.telemetry.PutNumber(spinupElapsedKey, s.SpinupElapsed.Seconds())
	l.telemetry.PutNumber(spinupRemainingKey, l.estimator.Remaining(l.clock.Now()).Seconds())

	if active := l.activeProfile(); active != nil {
		l.telemetry.PutString(activeProfileKey, active.Name())
		l.telemetry.PutNumber(profileAngleKey, active.AngleDegrees())
		l.telemetry.PutNumber(profileMinKey, active.MinSafeDistance())
		l.telemetry.PutNumber(profileMaxKey, active.MaxSafeDistance())
	}
	l.recorder.ObserveLauncher(s)
}

// Snapshot returns the current command state.
func (l *Launcher) Snapshot() LauncherState {
	now := l.clock.Now()
	state := l.estimator.Advance(now)
	return LauncherState{
		TargetSpeed:      l.targetSpeed,
		CommandedVoltage: l.commandedVoltage,
		EstimatedSpeed:   l.model.EstimatedSpeed(l.commandedVoltage),
		Spinup:           state,
		SpinupStart:      l.estimator.Started(),
		SpinupElapsed:    l.estimator.Elapsed(now),
		Ready:            l.estimator.IsAtTarget(now, l.targetSpeed),
		ActiveProfile:    l.ActiveProfileName(),
		LastDistance:     l.lastDistance,
	}
}

// SpinupWait returns the delay currently applied by the estimator.
func (l *Launcher) SpinupWait() time.Duration { return l.estimator.Wait() }

func (l *Launcher) activeProfile() *profile.Table {
	if l.registry == nil {
		return nil
	}
	return l.registry.Active()
}

func (l *Launcher) reportRange(ctx context.Context, active *profile.Table, err error, msg string) {
	var rerr *profile.RangeError
	if !errors.As(err, &rerr) {
		return
	}
	l.log.Warn(ctx, msg,
		logging.String("profile", active.Name()),
		logging.Float("distance_m", rerr.Distance),
		logging.Float("bound_m", rerr.Bound),
		logging.String("side", rerr.Side.String()),
	)
}

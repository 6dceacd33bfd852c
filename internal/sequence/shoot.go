package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/core"
	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
)

// Phase is a shoot sequence step.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseSpinningUp
	PhaseFeeding
	PhaseSettling
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseSpinningUp:
		return "spinning_up"
	case PhaseFeeding:
		return "feeding"
	case PhaseSettling:
		return "settling"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is how a routine ended. Running is the zero value.
type Outcome int

const (
	Running Outcome = iota
	Completed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Aim selects what a shoot sequence commands at Start.
type Aim struct {
	distance float64
	source   DistanceSource
	speed    float64
}

// AtDistance aims at a literal distance in meters.
func AtDistance(d float64) Aim { return Aim{distance: d} }

// FromSource samples src once when the sequence starts.
func FromSource(src DistanceSource) Aim { return Aim{source: src} }

// AtSpeed commands a wheel speed directly, skipping the profile lookup.
func AtSpeed(rpm float64) Aim { return Aim{speed: rpm} }

// ShootOptions tunes a shoot sequence. Zero values take the package defaults;
// a zero SpinupTimeout disables the timeout.
type ShootOptions struct {
	FeedRate      float64
	Dwell         time.Duration
	SpinupTimeout time.Duration
}

// ShootSequence spins the launcher up, feeds once the spin-up estimate says
// ready, holds for the dwell and stops both mechanisms. Advance it once per
// control tick.
type ShootSequence struct {
	launcher Launcher
	feeder   Feeder
	aim      Aim
	opts     ShootOptions
	log      logging.Logger

	phase       Phase
	outcome     Outcome
	reason      string
	distance    float64
	spinStart   time.Time
	settleStart time.Time
}

// NewShootSequence creates a sequence in PhaseStart. Nothing is commanded
// until the first Advance.
func NewShootSequence(l Launcher, f Feeder, aim Aim, opts ShootOptions, log logging.Logger) *ShootSequence {
	if opts.FeedRate == 0 {
		opts.FeedRate = DefaultFeedRate
	}
	if opts.Dwell <= 0 {
		opts.Dwell = DefaultDwell
	}
	if log == nil {
		log = logging.Noop()
	}
	return &ShootSequence{
		launcher: l,
		feeder:   f,
		aim:      aim,
		opts:     opts,
		log:      log.With(logging.String("routine", "shoot")),
	}
}

// Advance runs one tick of the sequence and returns Running until it ends.
func (s *ShootSequence) Advance(ctx context.Context, now time.Time) Outcome {
	switch s.phase {
	case PhaseStart:
		s.start(ctx, now)
	case PhaseSpinningUp:
		if s.launcher.IsReady() {
			s.phase = PhaseFeeding
			s.note(ctx, "engage feeder", s.feeder.SetSpeed(ctx, s.opts.FeedRate))
			s.phase = PhaseSettling
			s.settleStart = now
			s.log.Debug(ctx, "launcher ready, feeding",
				logging.Duration("spinup", now.Sub(s.spinStart)),
				logging.Float("feed_rate", s.opts.FeedRate),
			)
			return Running
		}
		if s.opts.SpinupTimeout > 0 && now.Sub(s.spinStart) > s.opts.SpinupTimeout {
			s.log.Warn(ctx, "spin-up timed out", logging.Duration("timeout", s.opts.SpinupTimeout))
			s.finish(ctx, Cancelled, ReasonSpinupTimeout)
		}
	case PhaseSettling:
		if now.Sub(s.settleStart) >= s.opts.Dwell {
			s.finish(ctx, Completed, "")
		}
	}
	return s.outcome
}

// Cancel stops both mechanisms and ends the sequence as Cancelled. It is a
// no-op once the sequence has stopped.
func (s *ShootSequence) Cancel(ctx context.Context) {
	s.finish(ctx, Cancelled, ReasonCancelled)
}

func (s *ShootSequence) cancelWith(ctx context.Context, reason string) {
	s.finish(ctx, Cancelled, reason)
}

// Phase returns the current step.
func (s *ShootSequence) Phase() Phase { return s.phase }

// Outcome returns Running until the sequence stops.
func (s *ShootSequence) Outcome() Outcome { return s.outcome }

// Distance returns the distance resolved at Start; zero for AtSpeed aims.
func (s *ShootSequence) Distance() float64 { return s.distance }

func (s *ShootSequence) reasonText() string { return s.reason }

func (s *ShootSequence) start(ctx context.Context, now time.Time) {
	var err error
	if s.aim.source == nil && s.aim.speed > 0 {
		err = s.launcher.SetSpeedDirect(ctx, s.aim.speed)
	} else {
		s.distance = s.aim.distance
		if s.aim.source != nil {
			s.distance = s.aim.source.CurrentDistance()
		}
		if !s.launcher.IsDistanceSafe(s.distance) {
			s.log.Warn(ctx, "shooting from outside the safe range", logging.Float("distance_m", s.distance))
		}
		err = s.launcher.SetSpeedForDistance(ctx, s.distance)
	}
	s.note(ctx, "command launcher", err)
	s.phase = PhaseSpinningUp
	s.spinStart = now
	s.log.Info(ctx, "shoot sequence started",
		logging.Float("distance_m", s.distance),
		logging.Float("feed_rate", s.opts.FeedRate),
		logging.Duration("dwell", s.opts.Dwell),
	)
}

func (s *ShootSequence) finish(ctx context.Context, outcome Outcome, reason string) {
	if s.phase == PhaseStopped {
		return
	}
	s.note(ctx, "stop launcher", s.launcher.Stop(ctx))
	s.note(ctx, "stop feeder", s.feeder.Stop(ctx))
	s.phase = PhaseStopped
	s.outcome = outcome
	s.reason = reason
	s.log.Info(ctx, "shoot sequence finished",
		logging.String("outcome", outcome.String()),
		logging.String("reason", reason),
	)
}

func (s *ShootSequence) note(ctx context.Context, what string, err error) {
	noteErr(ctx, s.log, what, err)
}

// noteErr logs actuation failures. Range and fallback conditions are already
// reported by the launcher and never block a routine.
func noteErr(ctx context.Context, log logging.Logger, what string, err error) {
	if err == nil || !errors.Is(err, core.ErrActuation) {
		return
	}
	log.Warn(ctx, what+" failed", logging.Err(err))
}

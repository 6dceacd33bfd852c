package sequence

import (
	"context"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
)

// HardwareTestSpeeds are stepped through by a HardwareTest routine, each held
// for HardwareTestStep.
var HardwareTestSpeeds = []float64{1000, 2000, 3000, 4000}

// HardwareTestStep is how long each test speed is held.
const HardwareTestStep = 3 * time.Second

// routine is one running task. Advance is called once per tick until it
// returns something other than Running; cancelWith runs the cleanup.
type routine interface {
	Advance(ctx context.Context, now time.Time) Outcome
	cancelWith(ctx context.Context, reason string)
	reasonText() string
}

// ended tracks the terminal state shared by the open-ended routines.
type ended struct {
	outcome Outcome
	reason  string
}

func (e *ended) done() bool         { return e.outcome != Running }
func (e *ended) reasonText() string { return e.reason }

func (e *ended) end(o Outcome, reason string) {
	e.outcome = o
	e.reason = reason
}

// manualRoutine holds a wheel speed (and optionally a feed rate) until
// cancelled.
type manualRoutine struct {
	ended
	launcher Launcher
	feeder   Feeder
	speed    float64
	feedRate float64
	log      logging.Logger
	started  bool
}

func (r *manualRoutine) Advance(ctx context.Context, _ time.Time) Outcome {
	if r.done() || r.started {
		return r.outcome
	}
	r.started = true
	noteErr(ctx, r.log, "command launcher", r.launcher.SetSpeedDirect(ctx, r.speed))
	if r.feedRate != 0 {
		noteErr(ctx, r.log, "engage feeder", r.feeder.SetSpeed(ctx, r.feedRate))
	}
	r.log.Info(ctx, "manual speed set", logging.Float("rpm", r.speed), logging.Float("feed_rate", r.feedRate))
	return Running
}

func (r *manualRoutine) cancelWith(ctx context.Context, reason string) {
	if r.done() {
		return
	}
	noteErr(ctx, r.log, "stop launcher", r.launcher.Stop(ctx))
	if r.feedRate != 0 {
		noteErr(ctx, r.log, "stop feeder", r.feeder.Stop(ctx))
	}
	r.end(Cancelled, reason)
}

// trackRoutine re-resolves the live distance each tick and re-commands the
// launcher when the resolved speed changes.
type trackRoutine struct {
	ended
	launcher  Launcher
	source    DistanceSource
	log       logging.Logger
	lastSpeed float64
	commanded bool
}

func (r *trackRoutine) Advance(ctx context.Context, _ time.Time) Outcome {
	if r.done() {
		return r.outcome
	}
	d := r.source.CurrentDistance()
	speed := r.launcher.ResolveSpeed(d)
	if r.commanded && speed == r.lastSpeed {
		return Running
	}
	noteErr(ctx, r.log, "command launcher", r.launcher.SetSpeedForDistance(ctx, d))
	r.commanded = true
	r.lastSpeed = speed
	r.log.Debug(ctx, "tracking distance", logging.Float("distance_m", d), logging.Float("rpm", speed))
	return Running
}

func (r *trackRoutine) cancelWith(ctx context.Context, reason string) {
	if r.done() {
		return
	}
	noteErr(ctx, r.log, "stop launcher", r.launcher.Stop(ctx))
	r.end(Cancelled, reason)
}

// feedRoutine runs the feeder alone until cancelled.
type feedRoutine struct {
	ended
	feeder   Feeder
	fraction float64
	log      logging.Logger
	started  bool
}

func (r *feedRoutine) Advance(ctx context.Context, _ time.Time) Outcome {
	if r.done() || r.started {
		return r.outcome
	}
	r.started = true
	noteErr(ctx, r.log, "engage feeder", r.feeder.SetSpeed(ctx, r.fraction))
	return Running
}

func (r *feedRoutine) cancelWith(ctx context.Context, reason string) {
	if r.done() {
		return
	}
	noteErr(ctx, r.log, "stop feeder", r.feeder.Stop(ctx))
	r.end(Cancelled, reason)
}

// stepTestRoutine commands each of HardwareTestSpeeds for HardwareTestStep,
// then stops.
type stepTestRoutine struct {
	ended
	launcher  Launcher
	log       logging.Logger
	index     int
	stepStart time.Time
	started   bool
}

func (r *stepTestRoutine) Advance(ctx context.Context, now time.Time) Outcome {
	if r.done() {
		return r.outcome
	}
	if !r.started {
		r.started = true
		r.step(ctx, now)
		return Running
	}
	if now.Sub(r.stepStart) <= HardwareTestStep {
		return Running
	}
	r.index++
	if r.index < len(HardwareTestSpeeds) {
		r.step(ctx, now)
		return Running
	}
	noteErr(ctx, r.log, "stop launcher", r.launcher.Stop(ctx))
	r.log.Info(ctx, "hardware test complete")
	r.end(Completed, "")
	return r.outcome
}

func (r *stepTestRoutine) step(ctx context.Context, now time.Time) {
	rpm := HardwareTestSpeeds[r.index]
	r.stepStart = now
	noteErr(ctx, r.log, "command launcher", r.launcher.SetSpeedDirect(ctx, rpm))
	r.log.Info(ctx, "hardware test step",
		logging.Int("step", r.index+1),
		logging.Int("steps", len(HardwareTestSpeeds)),
		logging.Float("rpm", rpm),
	)
}

func (r *stepTestRoutine) cancelWith(ctx context.Context, reason string) {
	if r.done() {
		return
	}
	noteErr(ctx, r.log, "stop launcher", r.launcher.Stop(ctx))
	r.log.Info(ctx, "hardware test interrupted")
	r.end(Cancelled, reason)
}

// haltRoutine stops both mechanisms and completes on its first tick.
type haltRoutine struct {
	ended
	launcher Launcher
	feeder   Feeder
	log      logging.Logger
}

func (r *haltRoutine) Advance(ctx context.Context, _ time.Time) Outcome {
	if r.done() {
		return r.outcome
	}
	r.stopAll(ctx)
	r.log.Warn(ctx, "emergency stop")
	r.end(Completed, "")
	return r.outcome
}

func (r *haltRoutine) cancelWith(ctx context.Context, reason string) {
	if r.done() {
		return
	}
	r.stopAll(ctx)
	r.end(Cancelled, reason)
}

func (r *haltRoutine) stopAll(ctx context.Context) {
	noteErr(ctx, r.log, "stop launcher", r.launcher.Stop(ctx))
	noteErr(ctx, r.log, "stop feeder", r.feeder.Stop(ctx))
}

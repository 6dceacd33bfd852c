package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

const tracerName = "github.com/signalsfoundry/flywheel-launcher/internal/sequence"

// Cancellation reasons carried on a Result.
const (
	ReasonCancelled     = "cancelled"
	ReasonPreempted     = "preempted"
	ReasonEmergencyStop = "emergency_stop"
	ReasonSpinupTimeout = "spinup_timeout"
)

// Result is emitted once when a routine finishes.
type Result struct {
	ID       string
	Kind     Kind
	Label    string
	Outcome  Outcome
	Reason   string // empty for Completed
	Started  time.Time
	Finished time.Time
}

// Duration is the time between submission and finish.
func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Status describes an active routine.
type Status struct {
	ID      string
	Kind    Kind
	Label   string
	Started time.Time
	Phase   string // shoot kinds only
}

// Recorder receives finished-routine results for metrics export.
type Recorder interface {
	ObserveResult(r Result)
}

// Config wires a Scheduler. Launcher, Feeder and Clock are required.
type Config struct {
	Launcher       Launcher
	Feeder         Feeder
	Distance       DistanceSource // required for ShootAtLiveDistance and TrackDistance
	Clock          timectrl.SimClock
	Recorder       Recorder
	Logger         logging.Logger
	TracerProvider trace.TracerProvider
	SpinupTimeout  time.Duration // zero disables
	NewID          func() string

	// Shot defaults for tasks that leave FeedRate or Dwell zero.
	FeedRate float64       // default DefaultFeedRate
	Dwell    time.Duration // default DefaultDwell
}

type entry struct {
	id        string
	task      Task
	routine   routine
	mechs     []Mechanism
	started   time.Time
	span      trace.Span
	cancelled string // non-empty once a cancel was requested
}

// Scheduler owns the launcher and feeder on behalf of at most one routine
// each. Submit and Cancel may be called from any goroutine; they only record
// intent, which Tick applies on the control loop.
type Scheduler struct {
	launcher Launcher
	feeder   Feeder
	distance DistanceSource
	clock    timectrl.SimClock
	recorder Recorder
	log      logging.Logger
	tracer   trace.Tracer
	timeout  time.Duration
	newID    func() string
	feedRate float64
	dwell    time.Duration

	mu        sync.Mutex
	entries   []*entry // submission order
	owners    map[Mechanism]*entry
	listeners []func(Result)
}

// NewScheduler validates cfg and returns an idle scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Launcher == nil || cfg.Feeder == nil {
		return nil, errors.New("sequence: launcher and feeder are required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("sequence: clock is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.FeedRate == 0 {
		cfg.FeedRate = DefaultFeedRate
	}
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultDwell
	}
	return &Scheduler{
		launcher: cfg.Launcher,
		feeder:   cfg.Feeder,
		distance: cfg.Distance,
		clock:    cfg.Clock,
		recorder: cfg.Recorder,
		log:      cfg.Logger.With(logging.String("component", "scheduler")),
		tracer:   cfg.TracerProvider.Tracer(tracerName),
		timeout:  cfg.SpinupTimeout,
		newID:    cfg.NewID,
		feedRate: cfg.FeedRate,
		dwell:    cfg.Dwell,
		owners:   make(map[Mechanism]*entry),
	}, nil
}

// OnResult registers fn to be called, on the control loop, for every
// finished routine.
func (s *Scheduler) OnResult(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Submit validates t and queues a routine for it. Routines owning any of the
// mechanisms t needs are cancelled; their cleanup runs at the top of the next
// tick, before the new routine first advances. EmergencyStop cancels every
// routine.
func (s *Scheduler) Submit(t Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.needsDistanceSource() && s.distance == nil {
		return "", fmt.Errorf("%w: %s needs a distance source", ErrInvalidTask, t.Kind)
	}
	t = t.withDefaults(s.feedRate, s.dwell)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{
		id:      s.newID(),
		task:    t,
		mechs:   t.Mechanisms(),
		started: now,
	}
	e.routine = s.newRoutine(e)
	_, e.span = s.tracer.Start(context.Background(), "sequence."+t.Kind.String(),
		trace.WithTimestamp(now),
		trace.WithAttributes(
			attribute.String("sequence.id", e.id),
			attribute.String("sequence.kind", t.Kind.String()),
			attribute.String("sequence.label", t.Label),
		),
	)

	if t.Kind == EmergencyStop {
		for _, other := range s.entries {
			s.requestCancelLocked(other, ReasonEmergencyStop)
		}
	} else {
		for _, m := range e.mechs {
			if owner := s.owners[m]; owner != nil {
				s.requestCancelLocked(owner, ReasonPreempted)
			}
		}
	}
	for _, m := range e.mechs {
		s.owners[m] = e
	}
	s.entries = append(s.entries, e)

	s.log.Info(context.Background(), "task submitted",
		logging.String("sequence_id", e.id),
		logging.String("kind", t.Kind.String()),
		logging.String("label", t.Label),
	)
	return e.id, nil
}

// Cancel requests that the routine with id stop at the next tick.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.id == id {
			s.requestCancelLocked(e, ReasonCancelled)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, id)
}

// CancelAll requests that every routine stop at the next tick.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		s.requestCancelLocked(e, ReasonCancelled)
	}
}

// Tick runs one control-loop step: pending cancellations run their cleanup
// first, then every remaining routine advances once.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var finished []Result
	keep := s.entries[:0]
	for _, e := range s.entries {
		if e.cancelled != "" {
			e.routine.cancelWith(s.routineContext(ctx, e), e.cancelled)
			finished = append(finished, s.finishLocked(e, Cancelled, e.cancelled, now))
			continue
		}
		keep = append(keep, e)
	}
	s.entries = keep

	keep = s.entries[:0]
	for _, e := range s.entries {
		outcome := e.routine.Advance(s.routineContext(ctx, e), now)
		if outcome != Running {
			finished = append(finished, s.finishLocked(e, outcome, e.routine.reasonText(), now))
			continue
		}
		keep = append(keep, e)
	}
	s.entries = keep
	listeners := append([]func(Result){}, s.listeners...)
	s.mu.Unlock()

	for _, r := range finished {
		for _, fn := range listeners {
			fn(r)
		}
		if s.recorder != nil {
			s.recorder.ObserveResult(r)
		}
	}
}

// Active lists the routines that have not finished, in submission order.
func (s *Scheduler) Active() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{ID: e.id, Kind: e.task.Kind, Label: e.task.Label, Started: e.started}
		if seq, ok := e.routine.(*ShootSequence); ok {
			st.Phase = seq.Phase().String()
		}
		out = append(out, st)
	}
	return out
}

// Owner returns the ID of the routine owning m.
func (s *Scheduler) Owner(m Mechanism) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.owners[m]; e != nil {
		return e.id, true
	}
	return "", false
}

func (s *Scheduler) newRoutine(e *entry) routine {
	t := e.task
	log := s.log.With(logging.String("kind", t.Kind.String()))
	switch t.Kind {
	case ShootAtFixedDistance, ShootAtLiveDistance:
		aim := AtDistance(t.Distance)
		if t.Kind == ShootAtLiveDistance {
			aim = FromSource(s.distance)
		}
		return NewShootSequence(s.launcher, s.feeder, aim, ShootOptions{
			FeedRate:      t.FeedRate,
			Dwell:         t.Dwell,
			SpinupTimeout: s.timeout,
		}, log)
	case ManualSpeed:
		return &manualRoutine{launcher: s.launcher, feeder: s.feeder, speed: t.Speed, feedRate: t.FeedRate, log: log}
	case TrackDistance:
		return &trackRoutine{launcher: s.launcher, source: s.distance, log: log}
	case Feed:
		return &feedRoutine{feeder: s.feeder, fraction: t.FeedRate, log: log}
	case HardwareTest:
		return &stepTestRoutine{launcher: s.launcher, log: log}
	default:
		return &haltRoutine{launcher: s.launcher, feeder: s.feeder, log: log}
	}
}

func (s *Scheduler) requestCancelLocked(e *entry, reason string) {
	if e.cancelled == "" {
		e.cancelled = reason
	}
}

func (s *Scheduler) routineContext(ctx context.Context, e *entry) context.Context {
	return logging.ContextWithSequenceID(trace.ContextWithSpan(ctx, e.span), e.id)
}

func (s *Scheduler) finishLocked(e *entry, outcome Outcome, reason string, now time.Time) Result {
	for _, m := range e.mechs {
		if s.owners[m] == e {
			delete(s.owners, m)
		}
	}
	if outcome == Completed {
		reason = ""
	}
	r := Result{
		ID:       e.id,
		Kind:     e.task.Kind,
		Label:    e.task.Label,
		Outcome:  outcome,
		Reason:   reason,
		Started:  e.started,
		Finished: now,
	}

	e.span.SetAttributes(attribute.String("sequence.outcome", outcome.String()))
	if reason != "" {
		e.span.SetAttributes(attribute.String("sequence.reason", reason))
	}
	if outcome == Completed {
		e.span.SetStatus(codes.Ok, "")
	}
	e.span.End(trace.WithTimestamp(now))

	s.log.Info(context.Background(), "task finished",
		logging.String("sequence_id", e.id),
		logging.String("kind", e.task.Kind.String()),
		logging.String("outcome", outcome.String()),
		logging.String("reason", reason),
		logging.Duration("duration", r.Duration()),
	)
	return r
}

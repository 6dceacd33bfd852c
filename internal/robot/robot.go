// Package robot assembles the launcher, feeder, scheduler, dashboard and
// operator bindings into one container that the control loop ticks.
package robot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/flywheel-launcher/core"
	"github.com/signalsfoundry/flywheel-launcher/internal/dashboard"
	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"github.com/signalsfoundry/flywheel-launcher/internal/observability"
	"github.com/signalsfoundry/flywheel-launcher/internal/operator"
	"github.com/signalsfoundry/flywheel-launcher/internal/sequence"
	"github.com/signalsfoundry/flywheel-launcher/internal/vision"
	"github.com/signalsfoundry/flywheel-launcher/profile"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

// Autonomous routine parameters.
const (
	AutonomousDistance = 2.5
	AutonomousDwell    = time.Second
	autonomousLabel    = "autonomous"
)

// Dashboard keys owned by the container.
const (
	ActiveRoutinesKey = "Shooter/Active Routines"
	EmergencyStopKey  = "Shooter/Emergency Stop"

	initialTestDistance = 2.5
)

// Config holds the tunables of a robot. Zero fields take DefaultConfig values.
type Config struct {
	Tick           time.Duration
	SpinupWait     time.Duration
	Dwell          time.Duration
	FeedRate       float64
	NoProfileSpeed float64
	DefaultProfile string
	SpinupTimeout  time.Duration // zero disables

	// DistanceKey, when set, makes the live distance come from that
	// dashboard key instead of the simulated tracker.
	DistanceKey string
}

// DefaultConfig returns the stock robot configuration.
func DefaultConfig() Config {
	return Config{
		Tick:           timectrl.DefaultTick,
		SpinupWait:     core.DefaultSpinupWait,
		Dwell:          sequence.DefaultDwell,
		FeedRate:       sequence.DefaultFeedRate,
		NoProfileSpeed: core.DefaultNoProfileRPM,
		DefaultProfile: profile.DefaultProfileName,
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if c.SpinupWait <= 0 {
		c.SpinupWait = def.SpinupWait
	}
	if c.Dwell <= 0 {
		c.Dwell = def.Dwell
	}
	if c.FeedRate == 0 {
		c.FeedRate = def.FeedRate
	}
	if c.NoProfileSpeed <= 0 {
		c.NoProfileSpeed = def.NoProfileSpeed
	}
	if c.DefaultProfile == "" {
		c.DefaultProfile = def.DefaultProfile
	}
}

// Deps are the robot's external collaborators. Motor, Feed and Clock are
// required.
type Deps struct {
	Motor core.VoltageSink
	Feed  core.FeedSink
	Clock timectrl.SimClock

	Registry       *profile.Registry                // built-in profiles when nil
	Distance       sequence.DistanceSource          // overrides Config.DistanceKey
	Metrics        *observability.LauncherCollector // may be nil
	TracerProvider trace.TracerProvider
	Logger         logging.Logger
	NewID          func() string
}

// Robot is the assembled container.
type Robot struct {
	Launcher  *core.Launcher
	Feeder    *core.Feeder
	Scheduler *sequence.Scheduler
	Bindings  *operator.Bindings
	Table     *dashboard.Table
	Chooser   *dashboard.Chooser
	Dashboard *dashboard.Server
	Operator  *operator.Socket

	cfg   Config
	clock timectrl.SimClock
	log   logging.Logger

	mu       sync.Mutex
	estopped bool
}

// New validates deps and wires a robot from cfg.
func New(cfg Config, deps Deps) (*Robot, error) {
	cfg.ApplyDefaults()
	if deps.Motor == nil || deps.Feed == nil {
		return nil, errors.New("robot: motor and feed sinks are required")
	}
	if deps.Clock == nil {
		return nil, errors.New("robot: clock is nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}

	reg := deps.Registry
	if reg == nil {
		var err error
		reg, err = profile.BuildRegistry(cfg.DefaultProfile, profile.BuiltinConfigs())
		if err != nil {
			return nil, fmt.Errorf("robot: build profiles: %w", err)
		}
	}

	table := dashboard.NewTable()
	chooser := dashboard.NewChooser(reg)

	var (
		launcherRec core.LauncherRecorder
		feederRec   core.FeederRecorder
		resultRec   sequence.Recorder
	)
	if deps.Metrics != nil {
		launcherRec, feederRec, resultRec = deps.Metrics, deps.Metrics, deps.Metrics
	}

	launcher, err := core.NewLauncher(core.LauncherConfig{
		Model:          core.DefaultOpenLoopModel(),
		Registry:       reg,
		Motor:          deps.Motor,
		Clock:          deps.Clock,
		Telemetry:      table,
		Selector:       chooser,
		Recorder:       launcherRec,
		Logger:         deps.Logger,
		SpinupWait:     cfg.SpinupWait,
		NoProfileSpeed: cfg.NoProfileSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("robot: %w", err)
	}
	feeder, err := core.NewFeeder(deps.Feed, table, feederRec, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("robot: %w", err)
	}

	distance := deps.Distance
	if distance == nil {
		if cfg.DistanceKey != "" {
			distance = vision.NewDashboardDistance(table, cfg.DistanceKey, vision.SimulatedDistance)
		} else {
			distance = vision.NewFixed(vision.SimulatedDistance)
		}
	}

	sched, err := sequence.NewScheduler(sequence.Config{
		Launcher:       launcher,
		Feeder:         feeder,
		Distance:       distance,
		Clock:          deps.Clock,
		Recorder:       resultRec,
		Logger:         deps.Logger,
		TracerProvider: deps.TracerProvider,
		SpinupTimeout:  cfg.SpinupTimeout,
		NewID:          deps.NewID,
		FeedRate:       cfg.FeedRate,
		Dwell:          cfg.Dwell,
	})
	if err != nil {
		return nil, fmt.Errorf("robot: %w", err)
	}

	r := &Robot{
		Launcher:  launcher,
		Feeder:    feeder,
		Scheduler: sched,
		Table:     table,
		Chooser:   chooser,
		Dashboard: dashboard.NewServer(table, chooser, deps.Logger),
		cfg:       cfg,
		clock:     deps.Clock,
		log:       deps.Logger.With(logging.String("component", "robot")),
	}
	r.Bindings = operator.NewBindings(r, table, deps.Logger)
	r.Operator = operator.NewSocket(r.Bindings, deps.Logger)

	table.PutNumber(vision.TestDistanceKey, initialTestDistance)
	table.PutString(operator.ControlsKey, operator.ControlsHint)
	table.PutBoolean(EmergencyStopKey, false)
	return r, nil
}

// Config returns the effective configuration.
func (r *Robot) Config() Config { return r.cfg }

// Submit forwards t to the scheduler. An emergency stop latches Health
// until the next accepted task of any other kind.
func (r *Robot) Submit(t sequence.Task) (string, error) {
	id, err := r.Scheduler.Submit(t)
	if err != nil {
		return "", err
	}
	estop := t.Kind == sequence.EmergencyStop
	r.mu.Lock()
	changed := r.estopped != estop
	r.estopped = estop
	r.mu.Unlock()
	if changed {
		r.Table.PutBoolean(EmergencyStopKey, estop)
		if estop {
			r.log.Warn(context.Background(), "emergency stop latched", logging.String("sequence_id", id))
		} else {
			r.log.Info(context.Background(), "emergency stop cleared", logging.String("sequence_id", id))
		}
	}
	return id, nil
}

// Cancel forwards to the scheduler.
func (r *Robot) Cancel(id string) error { return r.Scheduler.Cancel(id) }

// Autonomous queues the autonomous routine: one shot at AutonomousDistance
// holding the feed for AutonomousDwell.
func (r *Robot) Autonomous() (string, error) {
	t := sequence.ShootAt(AutonomousDistance)
	t.Dwell = AutonomousDwell
	t.Label = autonomousLabel
	return r.Submit(t)
}

// Health reports whether the robot may run. It is false while an emergency
// stop is latched.
func (r *Robot) Health() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.estopped
}

// Tick advances every component once: the launcher's periodic update, then
// the scheduler, then the container's own telemetry.
func (r *Robot) Tick(ctx context.Context, now time.Time) {
	r.Launcher.Periodic(ctx)
	r.Scheduler.Tick(ctx, now)

	active := r.Scheduler.Active()
	kinds := make([]string, 0, len(active))
	for _, s := range active {
		kinds = append(kinds, s.Kind.String())
	}
	r.Table.PutString(ActiveRoutinesKey, strings.Join(kinds, ","))
}

// Shutdown cancels every routine and stops both mechanisms directly.
func (r *Robot) Shutdown(ctx context.Context) error {
	r.Scheduler.CancelAll()
	r.Scheduler.Tick(ctx, r.clock.Now())
	return errors.Join(r.Launcher.Stop(ctx), r.Feeder.Stop(ctx))
}

// Register mounts the dashboard and operator console handlers on mux.
func (r *Robot) Register(mux *http.ServeMux) {
	r.Dashboard.Register(mux)
	mux.Handle("/operator", r.Operator)
}

// Package operator maps gamepad input to launcher tasks.
package operator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"github.com/signalsfoundry/flywheel-launcher/internal/sequence"
	"github.com/signalsfoundry/flywheel-launcher/internal/vision"
)

// Button names a gamepad input.
type Button string

const (
	ButtonA            Button = "A"
	ButtonB            Button = "B"
	ButtonX            Button = "X"
	ButtonY            Button = "Y"
	ButtonStart        Button = "Start"
	ButtonPOVUp        Button = "POVUp"
	ButtonPOVDown      Button = "POVDown"
	ButtonLeftTrigger  Button = "LT"
	ButtonLeftBumper   Button = "LB"
	ButtonRightBumper  Button = "RB"
	ButtonRightTrigger Button = "RT"
)

// Binding constants.
const (
	TestDistanceStep    = 0.5
	TestDistanceFloor   = 1.0
	TestDistanceDefault = 2.0
	ManualTestRPM       = 3000.0
	ManualTestFeedRate  = 0.5

	// ControlsKey is shown on the dashboard as a reminder of the bindings.
	ControlsKey   = "Shooter/Controls"
	ControlsHint  = "A/B/Y=Shoot | RT=Vision | LT=Intake | LB=Eject | X=STOP"
	preset2Meters = 2.0
	preset3Meters = 3.0
	preset4Meters = 4.0
)

// ErrUnknownButton is returned for an unbound button name.
var ErrUnknownButton = errors.New("unknown button")

// Event is one button transition.
type Event struct {
	Button  Button `json:"button"`
	Pressed bool   `json:"pressed"`
}

// Scheduler is where bound tasks are sent.
type Scheduler interface {
	Submit(t sequence.Task) (string, error)
	Cancel(id string) error
}

// Dashboard holds the tunable test distance.
type Dashboard interface {
	GetNumber(key string, def float64) float64
	PutNumber(key string, value float64)
}

// Bindings turns events into scheduler calls. Press bindings submit a task;
// held bindings submit on press and cancel on release.
type Bindings struct {
	sched Scheduler
	dash  Dashboard
	log   logging.Logger

	mu   sync.Mutex
	held map[Button]string
}

// NewBindings wires the bindings to sched and dash. log may be nil.
func NewBindings(sched Scheduler, dash Dashboard, log logging.Logger) *Bindings {
	if log == nil {
		log = logging.Noop()
	}
	return &Bindings{
		sched: sched,
		dash:  dash,
		log:   log.With(logging.String("component", "operator")),
		held:  make(map[Button]string),
	}
}

// Handle applies one event.
func (b *Bindings) Handle(ctx context.Context, ev Event) error {
	if task, ok := heldTask(ev.Button); ok {
		if ev.Pressed {
			return b.press(ctx, ev.Button, task)
		}
		return b.release(ctx, ev.Button)
	}
	if !ev.Pressed {
		if _, ok := pressTask(ev.Button); ok || isPOV(ev.Button) || ev.Button == ButtonStart {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrUnknownButton, ev.Button)
	}

	switch ev.Button {
	case ButtonPOVUp:
		d := b.testDistance() + TestDistanceStep
		b.dash.PutNumber(vision.TestDistanceKey, d)
		b.log.Info(ctx, "test distance raised", logging.Float("distance_m", d))
		return nil
	case ButtonPOVDown:
		d := math.Max(TestDistanceFloor, b.testDistance()-TestDistanceStep)
		b.dash.PutNumber(vision.TestDistanceKey, d)
		b.log.Info(ctx, "test distance lowered", logging.Float("distance_m", d))
		return nil
	case ButtonStart:
		d := b.testDistance()
		b.log.Info(ctx, "shooting at test distance", logging.Float("distance_m", d))
		t := sequence.ShootAt(d)
		t.Label = string(ButtonStart)
		_, err := b.sched.Submit(t)
		return err
	}

	task, ok := pressTask(ev.Button)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownButton, ev.Button)
	}
	task.Label = string(ev.Button)
	_, err := b.sched.Submit(task)
	return err
}

// ReleaseAll cancels every held binding, as if each button were released.
func (b *Bindings) ReleaseAll(ctx context.Context) {
	b.mu.Lock()
	buttons := make([]Button, 0, len(b.held))
	for btn := range b.held {
		buttons = append(buttons, btn)
	}
	b.mu.Unlock()
	for _, btn := range buttons {
		_ = b.release(ctx, btn)
	}
}

func (b *Bindings) press(ctx context.Context, btn Button, task sequence.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, down := b.held[btn]; down {
		return nil
	}
	task.Label = string(btn)
	id, err := b.sched.Submit(task)
	if err != nil {
		return err
	}
	b.held[btn] = id
	b.log.Debug(ctx, "held binding started", logging.String("button", string(btn)), logging.String("task", id))
	return nil
}

func (b *Bindings) release(ctx context.Context, btn Button) error {
	b.mu.Lock()
	id, down := b.held[btn]
	delete(b.held, btn)
	b.mu.Unlock()
	if !down {
		return nil
	}
	if err := b.sched.Cancel(id); err != nil && !errors.Is(err, sequence.ErrUnknownTask) {
		return err
	}
	b.log.Debug(ctx, "held binding released", logging.String("button", string(btn)))
	return nil
}

func (b *Bindings) testDistance() float64 {
	return b.dash.GetNumber(vision.TestDistanceKey, TestDistanceDefault)
}

func pressTask(btn Button) (sequence.Task, bool) {
	switch btn {
	case ButtonA:
		return sequence.ShootAt(preset2Meters), true
	case ButtonB:
		return sequence.ShootAt(preset3Meters), true
	case ButtonY:
		return sequence.ShootAt(preset4Meters), true
	case ButtonX:
		return sequence.Halt(), true
	}
	return sequence.Task{}, false
}

func heldTask(btn Button) (sequence.Task, bool) {
	switch btn {
	case ButtonLeftTrigger:
		return sequence.Intake(), true
	case ButtonLeftBumper:
		return sequence.Eject(), true
	case ButtonRightBumper:
		return sequence.RunAt(ManualTestRPM, ManualTestFeedRate), true
	case ButtonRightTrigger:
		return sequence.Track(), true
	}
	return sequence.Task{}, false
}

func isPOV(btn Button) bool { return btn == ButtonPOVUp || btn == ButtonPOVDown }

package sequence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/core"
	"github.com/signalsfoundry/flywheel-launcher/profile"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

const tick = timectrl.DefaultTick

var t0 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

// actuationLog records every sink command in order, tagged with the clock
// time it was issued at.
type actuationLog struct {
	clock  *timectrl.ManualClock
	events []event
}

type event struct {
	at    time.Time
	sink  string // "motor" or "feed"
	value float64
}

func (l *actuationLog) String() string { return fmt.Sprint(l.events) }

type motorSink struct{ log *actuationLog }

func (m motorSink) SetVoltage(v float64) error {
	m.log.events = append(m.log.events, event{m.log.clock.Now(), "motor", v})
	return nil
}

type feedSink struct{ log *actuationLog }

func (f feedSink) SetFeedRate(r float64) error {
	f.log.events = append(f.log.events, event{f.log.clock.Now(), "feed", r})
	return nil
}

func (l *actuationLog) filter(sink string) []event {
	var out []event
	for _, e := range l.events {
		if e.sink == sink {
			out = append(out, e)
		}
	}
	return out
}

// countZero reports how many zero commands sink received.
func (l *actuationLog) countZero(sink string) int {
	n := 0
	for _, e := range l.filter(sink) {
		if e.value == 0 {
			n++
		}
	}
	return n
}

// firstNonZero returns the first nonzero command on sink.
func (l *actuationLog) firstNonZero(sink string) (event, bool) {
	for _, e := range l.filter(sink) {
		if e.value != 0 {
			return e, true
		}
	}
	return event{}, false
}

type fixedDistance struct{ d float64 }

func (f *fixedDistance) CurrentDistance() float64 { return f.d }

type rig struct {
	clock    *timectrl.ManualClock
	log      *actuationLog
	launcher *core.Launcher
	feeder   *core.Feeder
	distance *fixedDistance
}

func newRig(t *testing.T) *rig {
	t.Helper()
	clock := timectrl.NewManualClock(t0)
	alog := &actuationLog{clock: clock}
	reg, err := profile.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	l, err := core.NewLauncher(core.LauncherConfig{
		Registry: reg,
		Motor:    motorSink{alog},
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	f, err := core.NewFeeder(feedSink{alog}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewFeeder: %v", err)
	}
	return &rig{clock: clock, log: alog, launcher: l, feeder: f, distance: &fixedDistance{d: 3.0}}
}

func (r *rig) scheduler(t *testing.T, mutate func(*Config)) *Scheduler {
	t.Helper()
	n := 0
	cfg := Config{
		Launcher: r.launcher,
		Feeder:   r.feeder,
		Distance: r.distance,
		Clock:    r.clock,
		NewID: func() string {
			n++
			return fmt.Sprintf("task-%d", n)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScheduler(cfg)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

// step advances the clock one tick and runs the scheduler.
func (r *rig) step(s *Scheduler) time.Time {
	now := r.clock.Advance(tick)
	s.Tick(context.Background(), now)
	return now
}

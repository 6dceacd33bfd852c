package operator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/flywheel-launcher/internal/sequence"
	"github.com/signalsfoundry/flywheel-launcher/internal/vision"
)

type fakeScheduler struct {
	mu        sync.Mutex
	submitted []sequence.Task
	cancelled []string
	active    map[string]bool
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{active: map[string]bool{}} }

func (f *fakeScheduler) Submit(t sequence.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, t)
	id := fmt.Sprintf("t%d", len(f.submitted))
	f.active[id] = true
	return id, nil
}

func (f *fakeScheduler) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return sequence.ErrUnknownTask
	}
	delete(f.active, id)
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeScheduler) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted), len(f.cancelled)
}

type numbers struct {
	mu sync.Mutex
	m  map[string]float64
}

func (n *numbers) GetNumber(key string, def float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if v, ok := n.m[key]; ok {
		return v
	}
	return def
}

func (n *numbers) PutNumber(key string, v float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.m[key] = v
}

func press(b Button) Event   { return Event{Button: b, Pressed: true} }
func release(b Button) Event { return Event{Button: b} }

func TestPresetShots(t *testing.T) {
	sched := newFakeScheduler()
	b := NewBindings(sched, &numbers{m: map[string]float64{}}, nil)
	ctx := context.Background()

	for _, btn := range []Button{ButtonA, ButtonB, ButtonY, ButtonX} {
		if err := b.Handle(ctx, press(btn)); err != nil {
			t.Fatalf("press %s: %v", btn, err)
		}
		if err := b.Handle(ctx, release(btn)); err != nil {
			t.Fatalf("release %s: %v", btn, err)
		}
	}

	want := []struct {
		kind     sequence.Kind
		distance float64
	}{
		{sequence.ShootAtFixedDistance, 2.0},
		{sequence.ShootAtFixedDistance, 3.0},
		{sequence.ShootAtFixedDistance, 4.0},
		{sequence.EmergencyStop, 0},
	}
	if len(sched.submitted) != len(want) {
		t.Fatalf("submitted %d tasks, want %d", len(sched.submitted), len(want))
	}
	for i, w := range want {
		got := sched.submitted[i]
		if got.Kind != w.kind || got.Distance != w.distance {
			t.Fatalf("task %d = %+v, want %v at %v", i, got, w.kind, w.distance)
		}
	}
	if len(sched.cancelled) != 0 {
		t.Fatalf("press bindings must not cancel on release")
	}
}

func TestTestDistanceAdjustAndShoot(t *testing.T) {
	sched := newFakeScheduler()
	dash := &numbers{m: map[string]float64{}}
	b := NewBindings(sched, dash, nil)
	ctx := context.Background()

	_ = b.Handle(ctx, press(ButtonPOVUp))
	if got := dash.GetNumber(vision.TestDistanceKey, 0); got != 2.5 {
		t.Fatalf("test distance = %v, want 2.5", got)
	}
	for i := 0; i < 5; i++ {
		_ = b.Handle(ctx, press(ButtonPOVDown))
	}
	if got := dash.GetNumber(vision.TestDistanceKey, 0); got != TestDistanceFloor {
		t.Fatalf("test distance = %v, want floor %v", got, TestDistanceFloor)
	}

	dash.PutNumber(vision.TestDistanceKey, 3.5)
	if err := b.Handle(ctx, press(ButtonStart)); err != nil {
		t.Fatalf("press Start: %v", err)
	}
	last := sched.submitted[len(sched.submitted)-1]
	if last.Kind != sequence.ShootAtFixedDistance || last.Distance != 3.5 || last.Label != "Start" {
		t.Fatalf("Start submitted %+v", last)
	}
}

func TestHeldBindings(t *testing.T) {
	sched := newFakeScheduler()
	b := NewBindings(sched, &numbers{m: map[string]float64{}}, nil)
	ctx := context.Background()

	tests := []struct {
		btn  Button
		want sequence.Task
	}{
		{ButtonLeftTrigger, sequence.Intake()},
		{ButtonLeftBumper, sequence.Eject()},
		{ButtonRightBumper, sequence.RunAt(3000, 0.5)},
		{ButtonRightTrigger, sequence.Track()},
	}
	for _, tt := range tests {
		if err := b.Handle(ctx, press(tt.btn)); err != nil {
			t.Fatalf("press %s: %v", tt.btn, err)
		}
		// Auto-repeat presses do not stack.
		_ = b.Handle(ctx, press(tt.btn))
		got := sched.submitted[len(sched.submitted)-1]
		want := tt.want
		want.Label = string(tt.btn)
		if got != want {
			t.Fatalf("%s submitted %+v, want %+v", tt.btn, got, want)
		}
		if err := b.Handle(ctx, release(tt.btn)); err != nil {
			t.Fatalf("release %s: %v", tt.btn, err)
		}
	}
	if s, c := sched.counts(); s != 4 || c != 4 {
		t.Fatalf("submitted %d cancelled %d, want 4/4", s, c)
	}
}

func TestReleaseAfterPreemptionIsQuiet(t *testing.T) {
	sched := newFakeScheduler()
	b := NewBindings(sched, &numbers{m: map[string]float64{}}, nil)
	ctx := context.Background()

	_ = b.Handle(ctx, press(ButtonLeftTrigger))
	sched.active = map[string]bool{} // scheduler already dropped it
	if err := b.Handle(ctx, release(ButtonLeftTrigger)); err != nil {
		t.Fatalf("release after preemption: %v", err)
	}
}

func TestUnknownButton(t *testing.T) {
	b := NewBindings(newFakeScheduler(), &numbers{m: map[string]float64{}}, nil)
	if err := b.Handle(context.Background(), press("Z")); !errors.Is(err, ErrUnknownButton) {
		t.Fatalf("error = %v, want ErrUnknownButton", err)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSocketSingleOperator(t *testing.T) {
	sched := newFakeScheduler()
	b := NewBindings(sched, &numbers{m: map[string]float64{}}, nil)
	srv := httptest.NewServer(NewSocket(b, nil))
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatalf("second console connected, want 409")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("second console response = %v, want 409", resp)
	}

	if err := first.WriteJSON(press(ButtonRightBumper)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	waitFor(t, func() bool { s, _ := sched.counts(); return s == 1 })

	// Dropping the console releases the held bumper.
	first.Close()
	waitFor(t, func() bool { _, c := sched.counts(); return c == 1 })

	waitFor(t, func() bool {
		again, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
		if err != nil {
			return false
		}
		again.Close()
		return true
	})
}

func TestSocketReportsRejectedEvents(t *testing.T) {
	b := NewBindings(newFakeScheduler(), &numbers{m: map[string]float64{}}, nil)
	srv := httptest.NewServer(NewSocket(b, nil))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(press("Z")); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]string
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if !strings.Contains(reply["error"], "unknown button") {
		t.Fatalf("reply = %v", reply)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within 2s")
}

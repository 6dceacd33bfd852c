package timectrl

import (
	"context"
	"sync"
	"time"
)

// DefaultTick is the control loop period.
const DefaultTick = 20 * time.Millisecond

// SimClock is the clock abstraction every time-based component depends on,
// so tests can substitute a ManualClock for wall-clock time.
type SimClock interface {
	// Now returns the current control-loop time.
	Now() time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController drives the fixed-period control loop and notifies
// registered listeners once per tick. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// Observe, when set, receives how long the listeners took on each tick.
	Observe func(elapsed time.Duration)

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller. A non-positive tick falls back
// to DefaultTick.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current loop time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances the loop by one tick and runs every listener synchronously.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	now := tc.currentTime.Add(tc.Tick)
	tc.currentTime = now
	listeners := append([]func(time.Time){}, tc.listeners...)
	observe := tc.Observe
	tc.mu.Unlock()

	began := time.Now()
	for _, fn := range listeners {
		fn(now)
	}
	if observe != nil {
		observe(time.Since(began))
	}
	return now
}

// Start runs the controller for the specified duration in a separate goroutine
// (a non-positive duration runs until ctx is done). It returns a channel that
// is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		tc.currentTime = tc.StartTime
		tc.mu.Unlock()

		elapsed := time.Duration(0)

		var ticks <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticks != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticks:
				}
			} else if ctx.Err() != nil {
				return
			}

			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}

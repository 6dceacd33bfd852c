package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/flywheel-launcher/internal/actuator"
	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"github.com/signalsfoundry/flywheel-launcher/internal/observability"
	"github.com/signalsfoundry/flywheel-launcher/internal/robot"
	"github.com/signalsfoundry/flywheel-launcher/internal/sequence"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.mode != timectrl.RealTime || opts.tick != 20*time.Millisecond {
		t.Fatalf("loop = %v/%v, want realtime/20ms", opts.mode, opts.tick)
	}
	if opts.robot.Tick != opts.tick {
		t.Fatalf("robot tick = %v, want %v", opts.robot.Tick, opts.tick)
	}
	if opts.robot.DefaultProfile != "BALANCED" || opts.robot.SpinupWait != 750*time.Millisecond {
		t.Fatalf("robot config = %+v", opts.robot)
	}
	if opts.serialPort != "" || opts.baud != actuator.DefaultBaud {
		t.Fatalf("serial = %q @ %d", opts.serialPort, opts.baud)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	opts, err := parseFlags([]string{
		"-mode", "accelerated", "-duration", "3s", "-tick", "10ms",
		"-dwell", "1s", "-feed-rate", "0.7", "-distance-key", "Vision/Distance",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.mode != timectrl.Accelerated || opts.duration != 3*time.Second || opts.robot.Tick != 10*time.Millisecond {
		t.Fatalf("loop options = %+v", opts)
	}
	if opts.robot.Dwell != time.Second || opts.robot.FeedRate != 0.7 || opts.robot.DistanceKey != "Vision/Distance" {
		t.Fatalf("robot config = %+v", opts.robot)
	}
}

func TestParseFlagsRejects(t *testing.T) {
	tests := map[string][]string{
		"unknown mode":          {"-mode", "warp"},
		"accelerated unbounded": {"-mode", "accelerated"},
		"zero tick":             {"-tick", "0s"},
		"unknown flag":          {"-turbo"},
	}
	for name, args := range tests {
		if _, err := parseFlags(args); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadProfiles(t *testing.T) {
	reg, err := loadProfiles("", "FLAT_LONG")
	if err != nil {
		t.Fatalf("loadProfiles builtin: %v", err)
	}
	if reg.ActiveName() != "FLAT_LONG" {
		t.Fatalf("builtin active = %q, want FLAT_LONG", reg.ActiveName())
	}

	reg, err = loadProfiles("../../configs/profiles.json", "")
	if err != nil {
		t.Fatalf("loadProfiles file: %v", err)
	}
	if got := len(reg.Names()); got != 3 {
		t.Fatalf("profiles loaded = %d, want 3", got)
	}

	if _, err := loadProfiles("does-not-exist.json", ""); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestLauncherResource(t *testing.T) {
	opts, err := parseFlags([]string{"-mode", "accelerated", "-duration", "1s", "-default-profile", "STEEP_CLOSE"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	reg, err := loadProfiles("", opts.robot.DefaultProfile)
	if err != nil {
		t.Fatalf("loadProfiles: %v", err)
	}

	res := launcherResource(opts, reg)
	want := observability.LauncherResource{
		Tick:           timectrl.DefaultTick,
		LoopMode:       "accelerated",
		DefaultProfile: "STEEP_CLOSE",
		Actuator:       "sim",
	}
	if res != want {
		t.Fatalf("launcherResource = %+v, want %+v", res, want)
	}

	opts.serialPort = "/dev/ttyACM0"
	if got := launcherResource(opts, reg).Actuator; got != "/dev/ttyACM0" {
		t.Fatalf("Actuator = %q, want the serial device", got)
	}
}

func TestHealthListenerTracksEmergencyStop(t *testing.T) {
	clock := timectrl.NewManualClock(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	r, err := robot.New(robot.Config{}, robot.Deps{
		Motor: actuator.NewSimMotor(nil),
		Feed:  actuator.NewSimFeeder(nil),
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("robot.New: %v", err)
	}
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	listen := healthListener(r, hs)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if _, err := r.Submit(sequence.Halt()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	listen(clock.Now())
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after e-stop = %v, want NOT_SERVING", got)
	}

	if _, err := r.Autonomous(); err != nil {
		t.Fatalf("Autonomous: %v", err)
	}
	listen(clock.Now())
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status after new task = %v, want SERVING", got)
	}
}

func TestMuxServesMetricsAndDashboard(t *testing.T) {
	collector, err := observability.NewLauncherCollector(prometheus.NewRegistry(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLauncherCollector: %v", err)
	}
	r, err := robot.New(robot.Config{}, robot.Deps{
		Motor:   actuator.NewSimMotor(nil),
		Feed:    actuator.NewSimFeeder(nil),
		Clock:   timectrl.NewManualClock(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)),
		Metrics: collector,
	})
	if err != nil {
		t.Fatalf("robot.New: %v", err)
	}
	srv := httptest.NewServer(newMux(collector, r))
	defer srv.Close()

	for path, want := range map[string]string{
		"/metrics":   "launcher_target_rpm",
		"/dashboard": "Shooter/Controls",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Fatalf("GET %s = %d, body missing %q", path, resp.StatusCode, want)
		}
	}
}

func TestRunAcceleratedWithAutonomous(t *testing.T) {
	opts, err := parseFlags([]string{
		"-mode", "accelerated", "-duration", "2s", "-autonomous",
		"-http-addr", "127.0.0.1:0", "-grpc-addr", "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := run(ctx, opts, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

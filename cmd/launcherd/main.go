package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/flywheel-launcher/core"
	"github.com/signalsfoundry/flywheel-launcher/internal/actuator"
	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"github.com/signalsfoundry/flywheel-launcher/internal/observability"
	"github.com/signalsfoundry/flywheel-launcher/internal/robot"
	"github.com/signalsfoundry/flywheel-launcher/profile"
	"github.com/signalsfoundry/flywheel-launcher/timectrl"
)

// HealthService is the gRPC health service name that tracks the emergency
// stop latch. The empty service name reports process liveness.
const HealthService = "flywheel.Launcher"

type options struct {
	httpAddr   string
	grpcAddr   string
	tick       time.Duration
	mode       timectrl.Mode
	duration   time.Duration
	serialPort string
	baud       int
	profiles   string
	autonomous bool
	robot      robot.Config
}

func parseFlags(args []string) (options, error) {
	def := robot.DefaultConfig()
	fs := flag.NewFlagSet("launcherd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	fs.StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP address for /metrics, /dashboard and /operator")
	fs.StringVar(&opts.grpcAddr, "grpc-addr", ":50051", "TCP address of the gRPC health service")
	fs.DurationVar(&opts.tick, "tick", def.Tick, "control loop period")
	mode := fs.String("mode", "realtime", "loop pacing: realtime or accelerated")
	fs.DurationVar(&opts.duration, "duration", 0, "stop after this much loop time (0 runs until interrupted)")
	fs.StringVar(&opts.serialPort, "serial", "", "motor board serial device; simulated actuators when empty")
	fs.IntVar(&opts.baud, "baud", actuator.DefaultBaud, "serial baud rate")
	fs.StringVar(&opts.profiles, "profiles", "", "JSON profile set; built-in profiles when empty")
	fs.BoolVar(&opts.autonomous, "autonomous", false, "run the autonomous routine once at startup")
	fs.StringVar(&opts.robot.DefaultProfile, "default-profile", def.DefaultProfile, "profile selected at startup when using built-in profiles")
	fs.DurationVar(&opts.robot.SpinupWait, "spinup-wait", def.SpinupWait, "time allowed for the flywheel to reach speed")
	fs.DurationVar(&opts.robot.Dwell, "dwell", def.Dwell, "how long a shot holds the feeder")
	fs.Float64Var(&opts.robot.FeedRate, "feed-rate", def.FeedRate, "feeder output during a shot")
	fs.Float64Var(&opts.robot.NoProfileSpeed, "fallback-rpm", def.NoProfileSpeed, "wheel speed used when no profile is active")
	fs.DurationVar(&opts.robot.SpinupTimeout, "spinup-timeout", 0, "abandon a shot that is not ready within this time (0 disables)")
	fs.StringVar(&opts.robot.DistanceKey, "distance-key", "", "dashboard key the live distance is read from; simulated when empty")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch strings.ToLower(*mode) {
	case "realtime", "real-time":
		opts.mode = timectrl.RealTime
	case "accelerated":
		opts.mode = timectrl.Accelerated
		if opts.duration <= 0 {
			return options{}, errors.New("accelerated mode needs a positive -duration")
		}
	default:
		return options{}, fmt.Errorf("unknown mode %q", *mode)
	}
	if opts.tick <= 0 {
		return options{}, fmt.Errorf("tick must be positive, got %v", opts.tick)
	}
	opts.robot.Tick = opts.tick
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "launcherd:", err)
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error(context.Background(), "launcherd exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logging.Logger) error {
	reg, err := loadProfiles(opts.profiles, opts.robot.DefaultProfile)
	if err != nil {
		return err
	}

	traceCfg, err := observability.TracingConfigFromEnv()
	if err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	traceCfg.Launcher = launcherResource(opts, reg)
	tracing, err := observability.StartTracing(ctx, traceCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Close(context.Background())

	collector, err := observability.NewLauncherCollector(nil, opts.tick)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	motor, feed, closeActuators, err := openActuators(opts, log)
	if err != nil {
		return err
	}
	defer closeActuators()

	tc := timectrl.NewTimeController(time.Now().UTC(), opts.tick, opts.mode)
	tc.Observe = collector.ObserveTick

	r, err := robot.New(opts.robot, robot.Deps{
		Motor:          motor,
		Feed:           feed,
		Clock:          tc,
		Registry:       reg,
		Metrics:        collector,
		TracerProvider: tracing.Provider,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	tc.AddListener(healthListener(r, healthSrv))
	tc.AddListener(func(now time.Time) { r.Tick(ctx, now) })

	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", opts.grpcAddr, err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))

	httpSrv := serveHTTP(opts.httpAddr, newMux(collector, r), log)

	if opts.autonomous {
		if _, err := r.Autonomous(); err != nil {
			log.Warn(ctx, "autonomous routine rejected", logging.Err(err))
		}
	}

	log.Info(ctx, "starting control loop",
		logging.Duration("tick", opts.tick),
		logging.String("mode", opts.mode.String()),
		logging.Duration("duration", opts.duration),
	)
	done := tc.Start(ctx, opts.duration)
	select {
	case <-ctx.Done():
		<-done
	case <-done:
	}

	log.Info(context.Background(), "shutting down launcher")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopErr := r.Shutdown(shutdownCtx)
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	_ = httpSrv.Shutdown(shutdownCtx)
	return stopErr
}

// launcherResource describes this process on exported spans.
func launcherResource(opts options, reg *profile.Registry) observability.LauncherResource {
	actuatorName := "sim"
	if opts.serialPort != "" {
		actuatorName = opts.serialPort
	}
	return observability.LauncherResource{
		Tick:           opts.tick,
		LoopMode:       opts.mode.String(),
		DefaultProfile: reg.DefaultName(),
		Actuator:       actuatorName,
	}
}

// healthListener flips the launcher health status whenever the emergency
// stop latch changes.
func healthListener(r *robot.Robot, hs *health.Server) func(time.Time) {
	serving := true
	return func(time.Time) {
		ok := r.Health()
		if ok == serving {
			return
		}
		serving = ok
		status := healthpb.HealthCheckResponse_SERVING
		if !ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(HealthService, status)
	}
}

func newMux(collector *observability.LauncherCollector, r *robot.Robot) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	r.Register(mux)
	return mux
}

func serveHTTP(addr string, handler http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "HTTP server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving metrics, dashboard and operator console", logging.String("addr", addr))
	return srv
}

func loadProfiles(path, defaultName string) (*profile.Registry, error) {
	if path == "" {
		reg, err := profile.BuildRegistry(defaultName, profile.BuiltinConfigs())
		if err != nil {
			return nil, fmt.Errorf("built-in profiles: %w", err)
		}
		return reg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	reg, err := profile.LoadRegistry(f)
	if err != nil {
		return nil, fmt.Errorf("load profiles %s: %w", path, err)
	}
	return reg, nil
}

func openActuators(opts options, log logging.Logger) (core.VoltageSink, core.FeedSink, func(), error) {
	if opts.serialPort == "" {
		log.Info(context.Background(), "using simulated actuators")
		return actuator.NewSimMotor(log), actuator.NewSimFeeder(log), func() {}, nil
	}
	bridge, err := actuator.OpenSerial(opts.serialPort, opts.baud)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info(context.Background(), "motor board connected",
		logging.String("port", opts.serialPort),
		logging.Int("baud", opts.baud),
	)
	closeFn := func() {
		if err := bridge.Close(); err != nil {
			log.Warn(context.Background(), "serial close failed", logging.Err(err))
		}
	}
	return bridge, bridge, closeFn, nil
}

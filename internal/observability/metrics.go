// Package observability exports launcher metrics to Prometheus and configures
// OpenTelemetry tracing.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/flywheel-launcher/core"
	"github.com/signalsfoundry/flywheel-launcher/internal/sequence"
)

// LauncherCollector bundles the control loop's Prometheus metrics. It
// implements core.LauncherRecorder, core.FeederRecorder and
// sequence.Recorder. Every method is safe on a nil receiver.
type LauncherCollector struct {
	gatherer   prometheus.Gatherer
	tickPeriod time.Duration

	TargetSpeed      prometheus.Gauge
	CommandedVoltage prometheus.Gauge
	EstimatedSpeed   prometheus.Gauge
	Ready            prometheus.Gauge
	SpinupElapsed    prometheus.Gauge
	FeederOutput     prometheus.Gauge

	RangeViolations  *prometheus.CounterVec
	ProfileFallbacks prometheus.Counter
	SequenceResults  *prometheus.CounterVec
	SequenceDuration *prometheus.HistogramVec
	TickDuration     prometheus.Histogram
	TickOverruns     prometheus.Counter

	RPCRequests *prometheus.CounterVec
}

var (
	_ core.LauncherRecorder = (*LauncherCollector)(nil)
	_ core.FeederRecorder   = (*LauncherCollector)(nil)
	_ sequence.Recorder     = (*LauncherCollector)(nil)
)

// NewLauncherCollector registers the launcher metrics against reg, defaulting
// to the global registry when nil. Ticks slower than tickPeriod count as
// overruns; a non-positive period disables overrun counting. Registering a
// second collector on the same registry reuses the existing metrics.
func NewLauncherCollector(reg prometheus.Registerer, tickPeriod time.Duration) (*LauncherCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &LauncherCollector{gatherer: gatherer, tickPeriod: tickPeriod}
	var errs []error
	gauge := func(name, help string) prometheus.Gauge {
		g, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}), name)
		errs = append(errs, err)
		return g
	}
	counter := func(name, help string) prometheus.Counter {
		ctr, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}), name)
		errs = append(errs, err)
		return ctr
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		vec, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels), name)
		errs = append(errs, err)
		return vec
	}

	c.TargetSpeed = gauge("launcher_target_rpm", "Flywheel speed the launcher is commanding, in RPM.")
	c.CommandedVoltage = gauge("launcher_commanded_voltage", "Voltage last sent to the launcher motor.")
	c.EstimatedSpeed = gauge("launcher_estimated_rpm", "Open-loop speed estimate derived from the commanded voltage.")
	c.Ready = gauge("launcher_ready", "1 when the spin-up wait has elapsed for a non-zero target.")
	c.SpinupElapsed = gauge("launcher_spinup_elapsed_seconds", "Time since the current spin-up began.")
	c.FeederOutput = gauge("feeder_output_fraction", "Signed feeder output in [-1, 1].")

	c.RangeViolations = counterVec("launcher_range_violations_total",
		"Distance requests clamped by the active profile, counted once per request.", "profile", "side")
	c.ProfileFallbacks = counter("launcher_profile_fallbacks_total",
		"Distance requests served by the fallback speed because no profile was active.")
	c.SequenceResults = counterVec("sequence_results_total",
		"Finished routines, labeled by task kind and outcome.", "kind", "outcome")
	c.TickOverruns = counter("control_tick_overruns_total",
		"Control ticks that took longer than the tick period.")
	c.RPCRequests = counterVec("grpc_requests_total",
		"Handled gRPC calls, labeled by service, method, and status code.", "service", "method", "code")

	var err error
	c.SequenceDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sequence_duration_seconds",
		Help:    "Routine lifetime from start to finish.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 15, 30},
	}, []string{"kind"}), "sequence_duration_seconds")
	errs = append(errs, err)
	c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "control_tick_duration_seconds",
		Help:    "Time spent running the control loop's listeners on one tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
	}), "control_tick_duration_seconds")
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the gatherer the collector was registered with.
func (c *LauncherCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LauncherCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveLauncher publishes a launcher state snapshot.
func (c *LauncherCollector) ObserveLauncher(s core.LauncherState) {
	if c == nil {
		return
	}
	c.TargetSpeed.Set(s.TargetSpeed)
	c.CommandedVoltage.Set(s.CommandedVoltage)
	c.EstimatedSpeed.Set(s.EstimatedSpeed)
	c.Ready.Set(boolGauge(s.Ready))
	c.SpinupElapsed.Set(s.SpinupElapsed.Seconds())
}

// RangeViolation counts a clamped distance request. side is "below" or "above".
func (c *LauncherCollector) RangeViolation(profile, side string) {
	if c == nil {
		return
	}
	c.RangeViolations.WithLabelValues(profile, side).Inc()
}

// ProfileFallback counts a request served without an active profile.
func (c *LauncherCollector) ProfileFallback() {
	if c == nil {
		return
	}
	c.ProfileFallbacks.Inc()
}

// ObserveFeeder publishes the commanded feeder output.
func (c *LauncherCollector) ObserveFeeder(fraction float64) {
	if c == nil {
		return
	}
	c.FeederOutput.Set(fraction)
}

// ObserveResult counts a finished routine and records how long it ran.
func (c *LauncherCollector) ObserveResult(r sequence.Result) {
	if c == nil {
		return
	}
	kind := r.Kind.String()
	c.SequenceResults.WithLabelValues(kind, r.Outcome.String()).Inc()
	c.SequenceDuration.WithLabelValues(kind).Observe(r.Duration().Seconds())
}

// ObserveTick records one control tick's duration. It matches the signature
// of timectrl.TimeController.Observe.
func (c *LauncherCollector) ObserveTick(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(elapsed.Seconds())
	if c.tickPeriod > 0 && elapsed > c.tickPeriod {
		c.TickOverruns.Inc()
	}
}

// UnaryServerInterceptor counts unary RPCs by service, method and status code.
func (c *LauncherCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// SplitMethod parses "/pkg.Service/Method" into its short service name and
// method, returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// register adds col to reg. If an equivalent collector is already
// registered, the existing one is returned instead.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return col, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return col, err
	}
	return col, nil
}

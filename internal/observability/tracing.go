package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/flywheel-launcher/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter selects where routine spans are sent.
type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

const (
	defaultServiceName  = "launcherd"
	defaultOTLPEndpoint = "localhost:4317"
	tracingCloseTimeout = 5 * time.Second
)

// LauncherResource describes the running launcher. It is attached to every
// exported span so traces from a sim run and a serial run can be told apart.
type LauncherResource struct {
	Tick           time.Duration
	LoopMode       string
	DefaultProfile string
	// Actuator is "sim" or the serial device path.
	Actuator string
}

func (l LauncherResource) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.namespace", "flywheel"),
	}
	if l.Tick > 0 {
		attrs = append(attrs, attribute.Int64("launcher.tick_ms", l.Tick.Milliseconds()))
	}
	if l.LoopMode != "" {
		attrs = append(attrs, attribute.String("launcher.loop_mode", l.LoopMode))
	}
	if l.DefaultProfile != "" {
		attrs = append(attrs, attribute.String("launcher.default_profile", l.DefaultProfile))
	}
	if l.Actuator != "" {
		attrs = append(attrs, attribute.String("launcher.actuator", l.Actuator))
	}
	return attrs
}

// TracingConfig governs how routine tracing is set up.
type TracingConfig struct {
	Exporter    Exporter
	ServiceName string
	Endpoint    string // OTLP collector address
	SampleRatio float64
	Launcher    LauncherResource

	// Writer receives stdout-exporter spans; os.Stdout when nil.
	Writer io.Writer
}

// TracingConfigFromEnv reads LAUNCHER_TRACE_EXPORTER (none, stdout or otlp),
// LAUNCHER_TRACE_SAMPLE_RATIO, LAUNCHER_OTLP_ENDPOINT and OTEL_SERVICE_NAME.
// Tracing is off unless an exporter is named.
func TracingConfigFromEnv() (TracingConfig, error) {
	cfg := TracingConfig{
		Exporter:    ExporterNone,
		ServiceName: defaultServiceName,
		Endpoint:    os.Getenv("LAUNCHER_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if v := os.Getenv("LAUNCHER_TRACE_EXPORTER"); v != "" {
		exp, err := ParseExporter(v)
		if err != nil {
			return TracingConfig{}, err
		}
		cfg.Exporter = exp
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("LAUNCHER_TRACE_SAMPLE_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return TracingConfig{}, fmt.Errorf("LAUNCHER_TRACE_SAMPLE_RATIO %q: want a number in [0, 1]", v)
		}
		cfg.SampleRatio = ratio
	}
	return cfg, nil
}

// ParseExporter maps a configuration string to an Exporter.
func ParseExporter(s string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return ExporterNone, nil
	case "stdout":
		return ExporterStdout, nil
	case "otlp", "otlpgrpc":
		return ExporterOTLP, nil
	}
	return "", fmt.Errorf("unsupported tracing exporter %q", s)
}

// Tracing owns the tracer provider the routine scheduler starts spans on.
type Tracing struct {
	Provider trace.TracerProvider

	shutdown func(context.Context) error
	log      logging.Logger
}

// StartTracing builds the tracer provider for cfg and installs it as the
// global provider so gRPC stats handlers share it. With ExporterNone the
// provider is a no-op.
func StartTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("component", "tracing"))

	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		log.Debug(ctx, "routine tracing off")
		return &Tracing{Provider: tp, log: log}, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", name)),
		resource.WithAttributes(cfg.Launcher.attributes()...),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "routine tracing on",
		logging.String("exporter", string(cfg.Exporter)),
		logging.String("service_name", name),
		logging.Float("sample_ratio", cfg.SampleRatio),
		logging.String("actuator", cfg.Launcher.Actuator),
	)
	return &Tracing{Provider: tp, shutdown: tp.Shutdown, log: log}, nil
}

// Close flushes pending spans, giving up after a few seconds.
func (t *Tracing) Close(ctx context.Context) {
	if t == nil || t.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, tracingCloseTimeout)
	defer cancel()
	if err := t.shutdown(ctx); err != nil {
		t.log.Warn(ctx, "tracing flush failed", logging.Err(err))
	}
}

// samplerFor keeps every routine at ratio 1 and none at 0; in between the
// root span's trace ID decides and children follow their parent.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		out := cfg.Writer
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
}

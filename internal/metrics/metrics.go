// Package metrics records guard activity as OpenTelemetry instruments.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "roomguard"

// Config configures OTLP export. Export is off when Endpoint is empty.
type Config struct {
	Endpoint string        `yaml:"endpoint"` // e.g. "localhost:4317"
	Insecure bool          `yaml:"insecure"`
	Interval time.Duration `yaml:"interval"`
	Service  string        `yaml:"service"`
}

// DefaultConfig disables export.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, Service: "roomguard"}
}

// Recorder owns the guard's instruments.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	observations metric.Int64Counter
	started      metric.Int64Counter
	ended        metric.Int64Counter
	turns        metric.Int64Counter
	failures     metric.Int64Counter
	alerts       metric.Int64Counter
	active       metric.Int64UpDownCounter
	turnDuration metric.Float64Histogram
}

// Setup builds a Recorder exporting over OTLP gRPC, or a no-op Recorder
// when cfg.Endpoint is empty.
func Setup(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.Endpoint == "" {
		return Nop(), nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	service := cfg.Service
	if service == "" {
		service = "roomguard"
	}
	res := resource.NewSchemaless(attribute.String("service.name", service))
	return NewProviderRecorder(sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	))
}

// Nop returns a Recorder that discards everything.
func Nop() *Recorder {
	r, err := NewRecorder(noop.NewMeterProvider().Meter(meterName))
	if err != nil {
		panic(err)
	}
	return r
}

// NewProviderRecorder builds a Recorder on provider and takes ownership of
// it; Shutdown shuts it down.
func NewProviderRecorder(provider *sdkmetric.MeterProvider) (*Recorder, error) {
	r, err := NewRecorder(provider.Meter(meterName))
	if err != nil {
		return nil, err
	}
	r.provider = provider
	return r, nil
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	var errs []error

	r.observations, err = meter.Int64Counter("roomguard.observations",
		metric.WithDescription("Recognition observations by decision"))
	errs = append(errs, err)
	r.started, err = meter.Int64Counter("roomguard.sessions.started",
		metric.WithDescription("Confrontation sessions started"))
	errs = append(errs, err)
	r.ended, err = meter.Int64Counter("roomguard.sessions.ended",
		metric.WithDescription("Confrontation sessions ended by status"))
	errs = append(errs, err)
	r.turns, err = meter.Int64Counter("roomguard.turns",
		metric.WithDescription("Completed turns by response class"))
	errs = append(errs, err)
	r.failures, err = meter.Int64Counter("roomguard.external.failures",
		metric.WithDescription("Failed or timed-out collaborator calls"))
	errs = append(errs, err)
	r.alerts, err = meter.Int64Counter("roomguard.alerts",
		metric.WithDescription("Alerts by type and delivery"))
	errs = append(errs, err)
	r.active, err = meter.Int64UpDownCounter("roomguard.sessions.active",
		metric.WithDescription("Sessions currently running"))
	errs = append(errs, err)
	r.turnDuration, err = meter.Float64Histogram("roomguard.turn.duration",
		metric.WithDescription("Turn duration"), metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return r, nil
}

// Observation counts one observation outcome.
func (r *Recorder) Observation(ctx context.Context, decision string, known bool) {
	r.observations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.Bool("known", known)))
}

// SessionStarted counts a new session.
func (r *Recorder) SessionStarted(ctx context.Context, reason string) {
	r.started.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	r.active.Add(ctx, 1)
}

// SessionEnded counts a finished session.
func (r *Recorder) SessionEnded(ctx context.Context, status string, level int) {
	r.ended.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("level", level)))
	r.active.Add(ctx, -1)
}

// Turn records a completed turn.
func (r *Recorder) Turn(ctx context.Context, response string, level int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("response", response), attribute.Int("level", level))
	r.turns.Add(ctx, 1, attrs)
	r.turnDuration.Record(ctx, d.Seconds(), attrs)
}

// Failure counts a collaborator failure.
func (r *Recorder) Failure(ctx context.Context, service string, timeout bool) {
	r.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("timeout", timeout)))
}

// Alert counts an alert, whether it was delivered or throttled.
func (r *Recorder) Alert(ctx context.Context, kind string, delivered bool) {
	r.alerts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", kind),
		attribute.Bool("delivered", delivered)))
}

// Shutdown flushes and stops the exporter, if any.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}

// Package observability exposes the gateway's OpenTelemetry metrics:
// request RED counters plus pipeline outcome and unauthenticated-execute
// counters. Tracing is intentionally not wired; the audit ledger is the
// per-request record of truth.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metric provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC endpoint, e.g. "localhost:4317"
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "finllm-gateway",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the meter provider and the gateway's instruments.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	logger        *slog.Logger

	requestCounter    metric.Int64Counter
	requestDuration   metric.Float64Histogram
	pipelineOutcomes  metric.Int64Counter
	unauthedExecutes  metric.Int64Counter
	delegationsMinted metric.Int64Counter
}

// New builds a Provider. When disabled (or without an endpoint) the
// instruments still exist but record into an unexported provider with
// no reader, so call sites never branch.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	var opts []sdkmetric.Option
	if config.Enabled && config.OTLPEndpoint != "" {
		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
				semconv.DeploymentEnvironment(config.Environment),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: create resource: %w", err)
		}

		expOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
		if config.Insecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("observability: create exporter: %w", err)
		}
		opts = append(opts,
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(15*time.Second))),
		)
		p.logger.InfoContext(ctx, "metrics export enabled", "endpoint", config.OTLPEndpoint)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	meter := p.meterProvider.Meter("finllm.gateway")

	var err error
	if p.requestCounter, err = meter.Int64Counter("gateway_requests_total",
		metric.WithDescription("HTTP requests by route and status")); err != nil {
		return nil, err
	}
	if p.requestDuration, err = meter.Float64Histogram("gateway_request_duration_seconds",
		metric.WithDescription("HTTP request latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if p.pipelineOutcomes, err = meter.Int64Counter("gateway_pipeline_outcomes_total",
		metric.WithDescription("Execution pipeline terminal states")); err != nil {
		return nil, err
	}
	if p.unauthedExecutes, err = meter.Int64Counter("gateway_execute_unauthenticated_total",
		metric.WithDescription("Rejected execute calls with invalid delegation tokens")); err != nil {
		return nil, err
	}
	if p.delegationsMinted, err = meter.Int64Counter("gateway_delegations_minted_total",
		metric.WithDescription("Delegation tokens minted by action")); err != nil {
		return nil, err
	}
	return p, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

// RecordRequest records one served HTTP request.
func (p *Provider) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	p.requestCounter.Add(ctx, 1, attrs)
	p.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordPipelineOutcome records a terminal pipeline state, e.g.
// "query_success" or "query_blocked".
func (p *Provider) RecordPipelineOutcome(ctx context.Context, outcome string) {
	p.pipelineOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUnauthenticatedExecute counts execute calls rejected before a
// validated subject exists. These are deliberately absent from the
// audit ledger, so the counter is the only trace of them.
func (p *Provider) RecordUnauthenticatedExecute(ctx context.Context) {
	p.unauthedExecutes.Add(ctx, 1)
}

// RecordDelegationMinted counts minted delegation tokens by action.
func (p *Provider) RecordDelegationMinted(ctx context.Context, action string) {
	p.delegationsMinted.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

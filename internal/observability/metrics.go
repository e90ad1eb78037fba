package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type MetricsConfig struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	Environment    string
	ExportInterval time.Duration
}

type gateMetrics struct {
	admissionCounter metric.Int64Counter
	loginCounter     metric.Int64Counter
	rateLimitCounter metric.Int64Counter
	approvalCounter  metric.Int64Counter
	repoCounter      metric.Int64Counter
	bypassCounter    metric.Int64Counter
}

var (
	metricsMu sync.RWMutex
	metrics   *gateMetrics
)

func InitMetrics(ctx context.Context, cfg MetricsConfig, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("admission-gate")
	admission, err := meter.Int64Counter("gate.admission.decisions")
	if err != nil {
		return nil, err
	}
	login, err := meter.Int64Counter("gate.login.attempts")
	if err != nil {
		return nil, err
	}
	rateLimit, err := meter.Int64Counter("gate.ratelimit.decisions")
	if err != nil {
		return nil, err
	}
	approval, err := meter.Int64Counter("gate.approval.transitions")
	if err != nil {
		return nil, err
	}
	repo, err := meter.Int64Counter("gate.repository.operations")
	if err != nil {
		return nil, err
	}
	bypass, err := meter.Int64Counter("gate.security.bypass.events")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	metrics = &gateMetrics{
		admissionCounter: admission,
		loginCounter:     login,
		rateLimitCounter: rateLimit,
		approvalCounter:  approval,
		repoCounter:      repo,
		bypassCounter:    bypass,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.Endpoint)
	return mp, nil
}

func current() *gateMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}

// RecordAdmissionDecision counts license admission outcomes. source is how
// the license reached the gate (header, session, none).
func RecordAdmissionDecision(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.admissionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordLoginAttempt(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRateLimitDecision(ctx context.Context, action, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func RecordApprovalTransition(ctx context.Context, actionType, transition string) {
	m := current()
	if m == nil {
		return
	}
	m.approvalCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("transition", transition),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordSecurityBypassEvent(ctx context.Context, reason, scope string) {
	m := current()
	if m == nil {
		return
	}
	m.bypassCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("scope", scope),
	))
}

package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

type LoggingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	Environment string
	Development bool
}

// InitLogging builds the process logger. Without OTLP it is a plain JSON
// handler on stdout (text in development); with OTLP enabled the otelslog
// bridge ships the same records to the collector.
func InitLogging(ctx context.Context, cfg LoggingConfig) (*slog.Logger, *sdklog.LoggerProvider, error) {
	if !cfg.Enabled {
		var handler slog.Handler
		if cfg.Development {
			handler = slog.NewTextHandler(os.Stdout, nil)
		} else {
			handler = slog.NewJSONHandler(os.Stdout, nil)
		}
		logger := slog.New(handler)
		slog.SetDefault(logger)
		return logger, nil, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create log resource: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	logger := slog.New(otelslog.NewHandler("admission-gate", otelslog.WithLoggerProvider(lp)))
	slog.SetDefault(logger)
	return logger, lp, nil
}

// Package otel installs the OpenTelemetry tracer provider used by stores and
// the inspector.
package otel

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls tracing initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// UseStdout exports spans as JSON to Writer, or to stdout when Writer is nil.
	UseStdout bool
	Writer    io.Writer
	// Sync exports every span as it ends instead of batching.
	Sync bool
}

// Init configures the global tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	tp, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider without installing it globally.
func NewProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "statehub"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = os.Getenv("STATEHUB_VERSION")
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithProcess(),
		sdkresource.WithOS(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, err
	}

	if !cfg.UseStdout {
		return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
	}

	expOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if cfg.Writer != nil {
		expOpts = append(expOpts, stdouttrace.WithWriter(cfg.Writer))
	}
	exp, err := stdouttrace.New(expOpts...)
	if err != nil {
		return nil, err
	}

	var export sdktrace.TracerProviderOption
	if cfg.Sync {
		export = sdktrace.WithSyncer(exp)
	} else {
		export = sdktrace.WithBatcher(exp,
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithBatchTimeout(200*time.Millisecond),
		)
	}
	return sdktrace.NewTracerProvider(export, sdktrace.WithResource(res)), nil
}

// Package telemetry はOpenTelemetryによるトレーシングの初期化を提供する。
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config はトレーシングの設定。
type Config struct {
	// Endpoint はOTLP/HTTPエクスポーターの送信先URL。空の場合は無効。
	Endpoint string
	// Enabled がfalseの場合、Endpointが設定されていても無効にする。
	Enabled bool
}

// ShutdownFunc は未送信のスパンをフラッシュして終了する関数。
type ShutdownFunc func(context.Context) error

// Setup はサービスのトレーシングを初期化する。
// 無効の場合はグローバルプロバイダを登録せず、何もしないShutdownFuncを返す。
// 返されたShutdownFuncは呼び出し元がdeferで実行すること。
func Setup(ctx context.Context, serviceName string, cfg Config) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

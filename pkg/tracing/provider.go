package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var (
	globalProvider *trace.TracerProvider
	providerMu     sync.Mutex
)

// NewTracerProvider 按配置构建 TracerProvider，
// 并注册为 otel 全局实例（含 W3C 传播器）
func NewTracerProvider(cfg *Config) (*trace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 追踪关闭时退化为 noop 导出器
	if !cfg.Enabled {
		cfg.ExporterType = "noop"
	}

	ctx := context.Background()
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := newSampler(cfg)

	batchProcessor := trace.NewBatchSpanProcessor(
		exporter,
		trace.WithBatchTimeout(cfg.BatchTimeout),
		trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
		trace.WithMaxQueueSize(cfg.MaxQueueSize),
	)

	tp := trace.NewTracerProvider(
		trace.WithSampler(sampler),
		trace.WithSpanProcessor(batchProcessor),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	// W3C Trace Context + Baggage 传播
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	providerMu.Lock()
	globalProvider = tp
	providerMu.Unlock()

	return tp, nil
}

// newResource 汇总服务标识、部署环境、自定义标签与环境变量属性构建资源
func newResource(cfg *Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	}

	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		))
	}

	if len(cfg.ResourceAttributes) > 0 {
		customAttrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes))
		for k, v := range cfg.ResourceAttributes {
			customAttrs = append(customAttrs, attribute.String(k, v))
		}
		attrs = append(attrs, resource.WithAttributes(customAttrs...))
	}

	if envAttrs := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); envAttrs != "" {
		attrs = append(attrs, resource.WithAttributes(parseResourceAttributes(envAttrs)...))
	}

	attrs = append(attrs, resource.WithFromEnv(), resource.WithTelemetrySDK())

	return resource.New(context.Background(), attrs...)
}

// parseResourceAttributes 解析 key1=value1,key2=value2 形式的资源属性
func parseResourceAttributes(envAttrs string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	pairs := strings.Split(envAttrs, ",")
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			attrs = append(attrs, attribute.String(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])))
		}
	}
	return attrs
}

// Shutdown 关闭全局 TracerProvider，冲刷尚未导出的 Span；
// 未初始化时为 no-op
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := globalProvider
	providerMu.Unlock()

	if tp == nil {
		return nil
	}

	return tp.Shutdown(ctx)
}

// GetTracerProvider 返回全局 TracerProvider，尚未初始化时为 nil
func GetTracerProvider() *trace.TracerProvider {
	providerMu.Lock()
	defer providerMu.Unlock()
	return globalProvider
}

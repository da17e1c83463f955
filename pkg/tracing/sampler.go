package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler 根据配置创建采样器，
// 环境变量 OTEL_TRACES_SAMPLER 优先于配置项
func newSampler(cfg *Config) trace.Sampler {
	if samplerType := os.Getenv("OTEL_TRACES_SAMPLER"); samplerType != "" {
		return newSamplerFromEnv(samplerType)
	}

	switch cfg.SamplingType {
	case "always":
		return trace.AlwaysSample()
	case "never":
		return trace.NeverSample()
	case "ratio":
		return trace.TraceIDRatioBased(cfg.SamplingRate)
	case "parent_based":
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
	}
}

// newSamplerFromEnv 按 OTel 规范的采样器名称构建采样器
func newSamplerFromEnv(samplerType string) trace.Sampler {
	switch samplerType {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		ratio := getSamplingRatioFromEnv()
		return trace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		ratio := getSamplingRatioFromEnv()
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	default:
		// 未识别的名称回退为父级优先的全量采样
		return trace.ParentBased(trace.AlwaysSample())
	}
}

// getSamplingRatioFromEnv 读取 OTEL_TRACES_SAMPLER_ARG，非法值回退 1.0
func getSamplingRatioFromEnv() float64 {
	ratioStr := os.Getenv("OTEL_TRACES_SAMPLER_ARG")
	if ratioStr == "" {
		return 1.0
	}

	ratio, err := strconv.ParseFloat(ratioStr, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1.0
	}

	return ratio
}

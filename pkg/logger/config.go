package logger

import "go.uber.org/zap/zapcore"

// Config 日志配置
type Config struct {
	// 基础配置
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // 日志格式（json/console，默认 json）

	// 输出配置
	Console bool          // 是否输出到控制台（默认 true）
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）

	// 性能配置
	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	// 功能配置（零值即默认开启，便于 Options 模式显式关闭）
	DisableCaller     bool // 是否关闭调用位置记录
	DisableStacktrace bool // 是否关闭堆栈记录（Error 及以上）

	// 扩展配置
	EncoderConfig *zapcore.EncoderConfig // 自定义 Encoder 配置
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Level == 0 {
		c.Level = InfoLevel
	}
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 默认启用控制台输出
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}

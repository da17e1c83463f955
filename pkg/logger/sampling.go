package logger

// SamplingConfig 高频日志采样配置，按（级别，消息）计数
type SamplingConfig struct {
	Initial    int // 每秒前 N 条全量记录
	Thereafter int // 超出后每 M 条记录 1 条
}

// setDefaults 填充零值字段的默认值
func (s *SamplingConfig) setDefaults() {
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}

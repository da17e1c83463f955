package logger

// RotateConfig 文件轮转配置，字段与 lumberjack.Logger 一一对应
type RotateConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单文件大小上限（MB，默认 100）
	MaxAge     int    // 旧文件保留天数（默认 30）
	MaxBackups int    // 旧文件保留个数（默认 10）
	LocalTime  bool   // 备份文件名使用本地时间（默认 true）
	Compress   bool   // 旧文件 gzip 压缩（默认关闭）
}

// setDefaults 填充零值字段的默认值
func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
	r.LocalTime = true
}

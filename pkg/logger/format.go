package logger

// Format 日志输出编码格式
type Format string

const (
	// JSONFormat 结构化 JSON，便于采集，生产环境默认
	JSONFormat Format = "json"
	// ConsoleFormat 人类可读的控制台编码，开发环境用
	ConsoleFormat Format = "console"
)

// String 返回格式名称
func (f Format) String() string {
	return string(f)
}

// IsValid 是否为受支持的格式
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

package config

import "strings"

// Option 配置管理器的构造选项
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径，设置后名称与搜索路径选项不生效
func WithConfigFile(path string) Option {
	return func(c *Config) {
		c.configFile = path
	}
}

// WithConfigName 设置配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(c *Config) {
		c.configName = name
	}
}

// WithConfigType 设置配置文件类型（yaml、json、toml 等 viper 支持的格式）
func WithConfigType(typ string) Option {
	return func(c *Config) {
		c.configType = typ
	}
}

// WithConfigPaths 设置配置文件搜索路径，按给定顺序查找
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) {
		c.configPaths = paths
	}
}

// WithProtected 设置是否启用保护模式。
// 保护模式下配置文件被外部改动后自动回写为加载时的快照内容。
func WithProtected(protected bool) Option {
	return func(c *Config) {
		c.protected = protected
	}
}

// WithAutoWatch 设置 Load 之后是否自动开启文件监控
func WithAutoWatch(watch bool) Option {
	return func(c *Config) {
		c.autoWatch = watch
	}
}

// WithOnChange 设置配置变更回调，仅非保护模式下触发
func WithOnChange(fn func()) Option {
	return func(c *Config) {
		c.onChange = fn
	}
}

// WithOnError 设置错误回调，快照保存或恢复失败时触发；
// 未设置时错误输出到 stderr
func WithOnError(fn func(error)) Option {
	return func(c *Config) {
		c.onError = fn
	}
}

// WithDefaults 设置默认配置值，文件与环境变量均未提供时生效
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		c.defaults = defaults
	}
}

// WithEnvPrefix 设置环境变量前缀并开启自动绑定
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}

// WithEnvKeyReplacer 设置配置键到环境变量名的替换规则，
// 常用 strings.NewReplacer(".", "_")
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) {
		c.envKeyReplacer = r
	}
}

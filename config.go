package qu

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qu/pkg/config"
	"github.com/tokmz/qu/pkg/errors"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string

	// ReadTimeout 读取超时
	ReadTimeout time.Duration

	// WriteTimeout 写入超时
	WriteTimeout time.Duration

	// IdleTimeout 空闲超时
	IdleTimeout time.Duration

	// MaxHeaderBytes 最大请求头字节数
	MaxHeaderBytes int
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	// WebSocket 会话收尾与 HTTP 连接排空共用该超时
	Timeout time.Duration

	// BeforeShutdown 关机前回调
	BeforeShutdown func()

	// AfterShutdown 关机后回调
	AfterShutdown func()
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string

	// Server 服务器配置
	Server ServerConfig

	// Shutdown 关机配置
	Shutdown ShutdownConfig

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string

	// MaxMultipartMemory 最大 multipart 内存（字节）
	MaxMultipartMemory int64
}

// Option 配置选项函数
type Option func(*Config)

// defaultConfig 返回默认配置
func defaultConfig() *Config {
	return &Config{
		Mode: gin.DebugMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Shutdown: ShutdownConfig{
			Timeout:        10 * time.Second,
			BeforeShutdown: nil,
			AfterShutdown:  nil,
		},
		TrustedProxies:     nil,
		MaxMultipartMemory: 32 << 20, // 32MB
	}
}

// fileConfig 配置文件映射结构
type fileConfig struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		Addr           string        `mapstructure:"addr"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
		MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	} `mapstructure:"server"`
	Shutdown struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"shutdown"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// loadFile 从配置文件加载并覆盖非零字段
// 文件中缺失的键保留当前值，后续 Option 仍可覆盖文件值
func (c *Config) loadFile(path string) error {
	cfg := config.New(config.WithConfigFile(path))
	if err := cfg.Load(); err != nil {
		return err
	}

	var fc fileConfig
	if err := cfg.Unmarshal(&fc); err != nil {
		return errors.Wrap(err, 3002, "配置解析失败", 500)
	}

	if fc.Mode != "" {
		c.Mode = fc.Mode
	}
	if fc.Server.Addr != "" {
		c.Server.Addr = fc.Server.Addr
	}
	if fc.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = fc.Server.ReadTimeout
	}
	if fc.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = fc.Server.WriteTimeout
	}
	if fc.Server.IdleTimeout != 0 {
		c.Server.IdleTimeout = fc.Server.IdleTimeout
	}
	if fc.Server.MaxHeaderBytes != 0 {
		c.Server.MaxHeaderBytes = fc.Server.MaxHeaderBytes
	}
	if fc.Shutdown.Timeout != 0 {
		c.Shutdown.Timeout = fc.Shutdown.Timeout
	}
	if fc.TrustedProxies != nil {
		c.TrustedProxies = fc.TrustedProxies
	}

	return nil
}

// WithConfigFile 从配置文件加载服务器配置（yaml/json/toml）
// 加载失败时 panic（启动期快速失败）；在其后的 Option 覆盖文件中的值
func WithConfigFile(path string) Option {
	return func(c *Config) {
		if err := c.loadFile(path); err != nil {
			panic("qu: failed to load config file: " + err.Error())
		}
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithReadTimeout 设置读取超时
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.ReadTimeout = timeout
	}
}

// WithWriteTimeout 设置写入超时
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.IdleTimeout = timeout
	}
}

// WithMaxHeaderBytes 设置最大请求头字节数
func WithMaxHeaderBytes(size int) Option {
	return func(c *Config) {
		c.Server.MaxHeaderBytes = size
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithMaxMultipartMemory 设置最大 multipart 内存
func WithMaxMultipartMemory(size int64) Option {
	return func(c *Config) {
		c.MaxMultipartMemory = size
	}
}

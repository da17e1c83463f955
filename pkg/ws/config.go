package ws

import (
	"fmt"
	"net/http"
	"time"
)

// Config WebSocket 配置
type Config struct {
	// 连接配置
	MaxConnections   int           // 最大连接数
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
	MaxMessageSize   int64         // 单条消息最大字节数

	// 心跳配置
	PingPeriod time.Duration // 服务端 Ping 间隔，0 表示不主动发送
	PongWait   time.Duration // 等待对端任意帧的期限（读超时）

	// 发送配置
	SendQueueSize int           // 每连接出站队列长度
	WriteTimeout  time.Duration // 单帧写超时

	// 升级配置
	CheckOrigin    func(*http.Request) bool // Origin 检查函数
	AllowedOrigins []string                 // 允许的 Origin 白名单

	// 组件
	Logger  Logger  // 日志，默认 NopLogger
	Metrics Metrics // 监控，默认 NoopMetrics
	Relay   Relay   // 跨节点消息中继，可选

	// 追踪
	EnableTracing bool // 是否为事件分发开启 otel span
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:   10000,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   512 * 1024, // 512KB
		PingPeriod:       54 * time.Second,
		PongWait:         60 * time.Second,
		SendQueueSize:    32,
		WriteTimeout:     10 * time.Second,
		CheckOrigin:      nil, // 未设置时按同源策略检查
		AllowedOrigins:   nil,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: MaxConnections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: ReadBufferSize must be positive, got %d", ErrInvalidConfig, c.ReadBufferSize)
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: WriteBufferSize must be positive, got %d", ErrInvalidConfig, c.WriteBufferSize)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: HandshakeTimeout must be positive, got %v", ErrInvalidConfig, c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: SendQueueSize must be positive, got %d", ErrInvalidConfig, c.SendQueueSize)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WriteTimeout must be positive, got %v", ErrInvalidConfig, c.WriteTimeout)
	}
	if c.PingPeriod < 0 {
		return fmt.Errorf("%w: PingPeriod must not be negative, got %v", ErrInvalidConfig, c.PingPeriod)
	}
	if c.PingPeriod > 0 && c.PongWait <= c.PingPeriod {
		return fmt.Errorf("%w: PongWait (%v) must be greater than PingPeriod (%v)",
			ErrInvalidConfig, c.PongWait, c.PingPeriod)
	}
	return nil
}

// originChecker 返回生效的 Origin 检查函数
func (c *Config) originChecker() func(*http.Request) bool {
	if c.CheckOrigin != nil {
		return c.CheckOrigin
	}
	if len(c.AllowedOrigins) > 0 {
		return createWhitelistChecker(c.AllowedOrigins)
	}
	return defaultCheckOrigin
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithReadBufferSize 设置读缓冲区大小
func WithReadBufferSize(size int) Option {
	return func(c *Config) {
		c.ReadBufferSize = size
	}
}

// WithWriteBufferSize 设置写缓冲区大小
func WithWriteBufferSize(size int) Option {
	return func(c *Config) {
		c.WriteBufferSize = size
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = timeout
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithSendQueueSize 设置出站队列长度
func WithSendQueueSize(size int) Option {
	return func(c *Config) {
		c.SendQueueSize = size
	}
}

// WithWriteTimeout 设置单帧写超时
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = timeout
	}
}

// WithPingPeriod 设置服务端 Ping 间隔，0 关闭主动心跳
func WithPingPeriod(period time.Duration) Option {
	return func(c *Config) {
		c.PingPeriod = period
	}
}

// WithPongWait 设置读超时期限
func WithPongWait(wait time.Duration) Option {
	return func(c *Config) {
		c.PongWait = wait
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.AllowedOrigins = allowedOrigins
		c.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithRelay 设置跨节点中继
func WithRelay(relay Relay) Option {
	return func(c *Config) {
		c.Relay = relay
	}
}

// WithTracing 开启事件分发追踪
func WithTracing(enable bool) Option {
	return func(c *Config) {
		c.EnableTracing = enable
	}
}

// defaultCheckOrigin 默认 Origin 检查（同源策略）。
// 空 Origin 视为非浏览器客户端放行；
// 生产环境建议使用 WithCheckOriginWhitelist 设置白名单。
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	// 同源检查
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	// 构建白名单 map 用于快速查找
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		return whitelist[origin]
	}
}

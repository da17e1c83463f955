package qu

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qu/pkg/ws"
)

type Engine struct {
	config *Config
	engine *gin.Engine
	server *http.Server
	hubs   []*ws.Hub
}

// New 创建一个新的 Engine 实例，使用 Options 模式配置
func New(opts ...Option) *Engine {
	// 应用默认配置
	config := defaultConfig()

	// 应用用户提供的选项
	for _, opt := range opts {
		opt(config)
	}

	// 设置 Gin 模式（全局状态，仅在首次调用时设置）
	// 注意：gin.SetMode 是全局操作，多次调用会相互覆盖
	// 建议在程序启动时只创建一个 Engine 实例
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}

	// 静默 Gin 默认输出，由 Qu 自行打印
	silenceGin()

	// 创建 Gin Engine
	ginEngine := gin.New()

	// 添加默认 Recovery 中间件（防止 panic 导致服务崩溃）
	ginEngine.Use(gin.Recovery())

	// 设置信任的代理
	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			log.Printf("设置信任代理失败: %v", err)
		}
	}

	// 设置 MaxMultipartMemory
	ginEngine.MaxMultipartMemory = config.MaxMultipartMemory

	// 创建 Engine
	e := &Engine{
		engine: ginEngine,
		config: config,
	}

	return e
}

// Default 创建一个带有默认中间件的 Engine
// 注意：Recovery 中间件已在 New() 中添加，这里只添加 Logger
func Default(opts ...Option) *Engine {
	// 创建基础 Engine（已包含 Recovery 中间件）
	e := New(opts...)

	// 添加 Logger 中间件
	e.Use(defaultLogger())

	return e
}

// Use 注册全局中间件
func (e *Engine) Use(middlewares ...HandlerFunc) {
	handlers := WrapMiddlewares(middlewares...)
	e.engine.Use(handlers...)
}

// Group 返回路由组
func (e *Engine) Group(path string) *RouterGroup {
	return &RouterGroup{
		group: e.engine.Group(path),
	}
}

// RouterGroup 返回根路由组
func (e *Engine) RouterGroup() *RouterGroup {
	return &RouterGroup{
		group: &e.engine.RouterGroup,
	}
}

// Handler 返回底层 http.Handler（用于测试或自定义 Server）
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// WebSocket 在指定路径挂载 WebSocket Hub
// 同时注册精确路径与通配子路径：精确路径的初始主题为 "/"，
// 子路径部分作为初始主题传入 Hub（如挂载 /ws 后，/ws/chat/go 的主题为 /chat/go）
// 配置非法时 panic（启动期快速失败）；Hub 的路由表由 Run 统一固化
func (e *Engine) WebSocket(relativePath string, opts ...ws.Option) *ws.Hub {
	hub, err := ws.NewHub(opts...)
	if err != nil {
		panic("qu: invalid websocket config: " + err.Error())
	}

	// 规范化挂载点
	mount := relativePath
	if mount == "" {
		mount = "/"
	}
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	mount = strings.TrimRight(mount, "/")

	// 进入 Hub 前剥离挂载前缀，Hub 只处理主题路径
	var stripped http.Handler = hub
	if mount != "" {
		stripped = http.StripPrefix(mount, hub)
	}
	handler := func(c *gin.Context) {
		stripped.ServeHTTP(c.Writer, c.Request)
	}

	if mount == "" {
		// 根路径挂载只能注册通配路由（gin 不允许 "/" 与 "/*topic" 并存），
		// 通配路由同样匹配 "/" 本身
		e.engine.GET("/*topic", handler)
	} else {
		e.engine.GET(mount, handler)
		e.engine.GET(mount+"/*topic", handler)
	}

	e.hubs = append(e.hubs, hub)
	return hub
}

// finalizeHubs 固化所有 Hub 的路由表，任一冲突立即返回错误
func (e *Engine) finalizeHubs() error {
	for _, hub := range e.hubs {
		if err := hub.Finalize(); err != nil {
			return err
		}
	}
	return nil
}

// Run 启动 HTTP 服务器，支持优雅关机
func (e *Engine) Run(addr ...string) error {
	// 固化 WebSocket 路由表（冲突在启动前暴露）
	if err := e.finalizeHubs(); err != nil {
		return err
	}

	// 确定监听地址
	address := e.config.Server.Addr
	if len(addr) > 0 && addr[0] != "" {
		address = addr[0]
	}

	// 创建 HTTP Server
	e.server = &http.Server{
		Addr:           address,
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}

	// 打印 banner 和路由表
	e.printBanner(address)

	// 启动服务器
	return e.serve(func() error {
		return e.server.ListenAndServe()
	})
}

// RunTLS 启动 HTTPS 服务器，支持优雅关机
func (e *Engine) RunTLS(addr, certFile, keyFile string) error {
	// 固化 WebSocket 路由表
	if err := e.finalizeHubs(); err != nil {
		return err
	}

	// 创建 HTTP Server
	e.server = &http.Server{
		Addr:           addr,
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}

	// 打印 banner 和路由表
	e.printBanner(addr)

	// 启动服务器
	return e.serve(func() error {
		return e.server.ListenAndServeTLS(certFile, keyFile)
	})
}

// serve 统一的服务器启动和优雅关机逻辑
func (e *Engine) serve(startFunc func() error) error {
	// 用于传递启动错误的 channel
	errChan := make(chan error, 1)

	// 启动服务器（在 goroutine 中）
	go func() {
		if err := startFunc(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// 等待中断信号或启动错误
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errChan:
		// 服务器启动失败
		return err
	case <-quit:
		// 收到关机信号
		log.Println("正在关闭服务器...")
	}

	// 执行优雅关机
	return e.gracefulShutdown()
}

// gracefulShutdown 执行优雅关机流程
func (e *Engine) gracefulShutdown() error {
	// 执行关机前回调
	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}

	// 创建超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
	defer cancel()

	// 先收尾 WebSocket 会话：劫持后的连接不在 http.Server 管辖内，
	// 必须由 Hub 广播关闭帧并等待会话退出
	if err := e.shutdownHubs(ctx); err != nil {
		log.Printf("WebSocket 关闭异常: %v", err)
	}

	// 优雅关闭服务器
	if err := e.server.Shutdown(ctx); err != nil {
		log.Printf("服务器强制关闭: %v", err)
		return err
	}

	// 执行关机后回调
	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}

	log.Println("服务器已退出")
	return nil
}

// shutdownHubs 关闭所有 WebSocket Hub，返回首个错误
func (e *Engine) shutdownHubs(ctx context.Context) error {
	var first error
	for _, hub := range e.hubs {
		if err := hub.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Shutdown 手动关闭服务器
func (e *Engine) Shutdown(ctx context.Context) error {
	// 执行关机前回调
	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}

	// WebSocket 会话先于 HTTP 连接收尾
	err := e.shutdownHubs(ctx)

	// 关闭服务器
	if e.server != nil {
		if serr := e.server.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}

	// 执行关机后回调
	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}

	return err
}

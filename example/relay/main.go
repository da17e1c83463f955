package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tokmz/qu"
	"github.com/tokmz/qu/middleware"
	"github.com/tokmz/qu/pkg/logger"
	"github.com/tokmz/qu/pkg/tracing"
	"github.com/tokmz/qu/pkg/ws"
)

// 跨节点广播示例：用不同端口启动两份进程，
//
//	go run . -addr :8081
//	go run . -addr :8082
//
// 任一节点上 /feed/xxx 收到的消息会经 Redis 中继扇出到所有节点。
func main() {
	addr := flag.String("addr", ":8081", "HTTP 监听地址")
	redisAddr := flag.String("redis", "localhost:6379", "Redis 地址")
	channel := flag.String("channel", "qu.relay.feed", "中继频道名")
	flag.Parse()

	// 1. 初始化日志
	log, err := logger.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer log.Sync()

	// 2. 初始化链路追踪（stdout 导出器便于演示）
	if _, err := tracing.NewTracerProvider(&tracing.Config{
		ServiceName:  "qu-relay-example",
		ExporterType: "stdout",
		SamplingRate: 1.0,
		SamplingType: "always",
		Enabled:      true,
	}); err != nil {
		panic(fmt.Sprintf("failed to create tracer provider: %v", err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	// 3. 连接 Redis，构建中继（中继生命周期由 Hub 托管，客户端由本进程管理）
	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer client.Close()

	relay := ws.NewRedisRelay(client,
		ws.WithRelayChannel(*channel),
		ws.WithRelayLogger(ws.NewZapLogger(log.Zap())),
	)

	// 4. 创建引擎并挂载带中继的 Hub
	engine := qu.New(qu.WithAddr(*addr))
	engine.Use(
		middleware.Logger(log),
		middleware.Tracing(),
	)

	hub := engine.WebSocket("/ws",
		ws.WithRelay(relay),
		ws.WithLogger(ws.NewZapLogger(log.Zap())),
		ws.WithAllowAllOrigins(),
		ws.WithTracing(true),
	)

	if err := hub.Join("/feed/:stream", func(evt *ws.Event) ws.Outcome {
		_ = evt.Conn.Sender().SendText(context.Background(),
			fmt.Sprintf("subscribed %s via %s", evt.Param("stream"), *addr))
		return ws.Success()
	}); err != nil {
		panic(err)
	}

	// 收到的消息发布到本节点订阅者，并经中继扇出到其他节点
	if err := hub.Message("/feed/:stream", func(evt *ws.Event) ws.Outcome {
		body, err := evt.Data.Bytes()
		if err != nil {
			return ws.Failure(ws.StatusInternalError)
		}
		if err := hub.Publish(context.Background(), evt.Conn.Topic().Key(), ws.NewTextMessage(string(body))); err != nil {
			return ws.Failure(ws.StatusInternalError)
		}
		return ws.Success()
	}); err != nil {
		panic(err)
	}

	// 5. 启动（中继随 Run 内的路由固化一起开始收消息）
	if err := engine.Run(); err != nil {
		panic(err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tokmz/qu"
	"github.com/tokmz/qu/middleware"
	"github.com/tokmz/qu/pkg/logger"
	"github.com/tokmz/qu/pkg/ws"
)

// NoticeReq 系统公告请求
// Room 来自路由参数（gin 路由保证非空），required 校验只针对请求体
type NoticeReq struct {
	Room string `uri:"room" json:"-"`
	Text string `json:"text" binding:"required"`
}

// NoticeResp 系统公告响应
type NoticeResp struct {
	Room      string `json:"room"`
	Delivered int    `json:"delivered"`
}

func main() {
	// 1. 初始化日志
	log, err := logger.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer log.Sync()

	// 2. 创建引擎
	engine := qu.New(
		qu.WithMode("debug"),
		qu.WithAddr(":8080"),
		qu.WithShutdownTimeout(15*time.Second),
	)
	engine.Use(
		middleware.Logger(log),
		middleware.CORS(),
		middleware.Gzip(),
	)

	// 3. 挂载 WebSocket Hub：/ws/room/xxx 即加入房间 xxx
	hub := engine.WebSocket("/ws",
		ws.WithLogger(ws.NewZapLogger(log.Zap())),
		ws.WithAllowAllOrigins(),
		ws.WithMaxConnections(1024),
		ws.WithSendQueueSize(64),
	)

	// 入场播报
	if err := hub.Join("/room/:name", func(evt *ws.Event) ws.Outcome {
		room := evt.Param("name")
		notice := ws.NewTextMessage(fmt.Sprintf("* %s 加入了 %s", shortID(evt.Conn.ID()), room))
		_ = hub.Publish(context.Background(), evt.Conn.Topic().Key(), notice)
		return ws.Success()
	}); err != nil {
		panic(err)
	}

	// 聊天消息：广播给同房间的所有连接（含发送者）
	if err := hub.Message("/room/:name", func(evt *ws.Event) ws.Outcome {
		body, err := evt.Data.Bytes()
		if err != nil {
			return ws.Failure(ws.StatusInternalError)
		}
		line := fmt.Sprintf("[%s] %s", shortID(evt.Conn.ID()), body)
		if err := hub.Publish(context.Background(), evt.Conn.Topic().Key(), ws.NewTextMessage(line)); err != nil {
			return ws.Failure(ws.StatusInternalError)
		}
		return ws.Success()
	}); err != nil {
		panic(err)
	}

	// 离场播报
	if err := hub.Leave("/room/:name", func(evt *ws.Event) ws.Outcome {
		room := evt.Param("name")
		notice := ws.NewTextMessage(fmt.Sprintf("* %s 离开了 %s", shortID(evt.Conn.ID()), room))
		_ = hub.Publish(context.Background(), evt.Conn.Topic().Key(), notice)
		return ws.Success()
	}); err != nil {
		panic(err)
	}

	// 4. HTTP API：向指定房间推送系统公告（演示服务端主动 Publish）
	api := engine.Group("/api")
	api.Use(middleware.Timeout())
	qu.Handle(api.POST, "/rooms/:room/notice", func(c *qu.Context, req *NoticeReq) (*NoticeResp, error) {
		topic := "/room/" + req.Room
		msg := ws.NewTextMessage("[公告] " + req.Text)
		if err := hub.Publish(c.RequestContext(), topic, msg); err != nil {
			return nil, err
		}
		return &NoticeResp{Room: req.Room, Delivered: hub.Count()}, nil
	})

	// 5. 首页：内嵌一个最小可用的聊天页面
	engine.RouterGroup().GET("/", func(c *qu.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(chatPage))
	})

	// 6. 启动（Ctrl+C 触发优雅关机：先广播 1001 收尾 WebSocket，再排空 HTTP）
	if err := engine.Run(); err != nil {
		panic(err)
	}
}

// shortID 截取连接 ID 前 8 位作为昵称
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const chatPage = `<!DOCTYPE html>
<html lang="zh">
<head>
  <meta charset="utf-8">
  <title>Qu Chat</title>
  <style>
    body { font-family: sans-serif; max-width: 640px; margin: 2rem auto; }
    #log { border: 1px solid #ccc; height: 320px; overflow-y: auto; padding: .5rem; }
    #bar { display: flex; gap: .5rem; margin-top: .5rem; }
    #msg { flex: 1; }
  </style>
</head>
<body>
  <h3>Qu Chat — 房间 <span id="room"></span></h3>
  <div id="log"></div>
  <div id="bar">
    <input id="msg" placeholder="说点什么..." autofocus>
    <button id="send">发送</button>
  </div>
  <script>
    const room = new URLSearchParams(location.search).get("room") || "lobby";
    document.getElementById("room").textContent = room;
    const log = document.getElementById("log");
    const input = document.getElementById("msg");
    const scheme = location.protocol === "https:" ? "wss" : "ws";
    const sock = new WebSocket(scheme + "://" + location.host + "/ws/room/" + room);
    const append = (text) => {
      const div = document.createElement("div");
      div.textContent = text;
      log.appendChild(div);
      log.scrollTop = log.scrollHeight;
    };
    sock.onmessage = (evt) => append(evt.data);
    sock.onclose = (evt) => append("* 连接已关闭 (" + evt.code + ")");
    const send = () => {
      if (input.value && sock.readyState === WebSocket.OPEN) {
        sock.send(input.value);
        input.value = "";
      }
    };
    document.getElementById("send").onclick = send;
    input.onkeydown = (evt) => { if (evt.key === "Enter") send(); };
  </script>
</body>
</html>
`

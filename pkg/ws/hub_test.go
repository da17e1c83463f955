package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHub 测试辅助：固化路由并挂载到 HTTP 测试服务
func startHub(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	require.NoError(t, hub.Finalize())
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return srv
}

// wsURL 把测试服务地址转成 ws scheme
func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

// dialNaked 测试辅助：建立裸协议连接
func dialNaked(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, path), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialMultiplex 测试辅助：以 rocket-multiplex 子协议建立连接
func dialMultiplex(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{multiplexProtocol}}
	conn, resp, err := dialer.Dial(wsURL(srv, path), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.Equal(t, multiplexProtocol, conn.Subprotocol(), "子协议应当回显")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readText 测试辅助：读一条文本消息
func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	mt, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	return string(payload)
}

// recvString 测试辅助：带超时地从通道取一个字符串
func recvString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("expected value not delivered")
		return ""
	}
}

// TestHubEchoNaked 测试裸协议连接的 Join/Message 流程与文本、二进制回显
func TestHubEchoNaked(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)

	joined := make(chan string, 1)
	require.NoError(t, hub.Join("/chat/:room", func(evt *Event) Outcome {
		joined <- evt.Param("room")
		return Success()
	}))
	require.NoError(t, hub.Message("/chat/:room", func(evt *Event) Outcome {
		b, err := evt.Data.Bytes()
		if err != nil {
			return Failure(StatusInternalError)
		}
		if evt.Data.IsBinary() {
			_ = evt.Conn.Sender().SendBinary(context.Background(), b)
		} else {
			_ = evt.Conn.Sender().SendText(context.Background(), string(b))
		}
		return Success()
	}))
	srv := startHub(t, hub)

	conn := dialNaked(t, srv, "/chat/go")
	assert.Equal(t, "go", recvString(t, joined))
	assert.Equal(t, 1, hub.Count())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	assert.Equal(t, "hi", readText(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xDE, 0xAD}))
	mt, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0xDE, 0xAD}, payload)
}

// TestHubHandshakeRejects 测试升级校验失败的 HTTP 状态码与 JSON 错误体
func TestHubHandshakeRejects(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Message("/chat/:room", func(evt *Event) Outcome { return Success() }))
	srv := startHub(t, hub)

	validKey := "AAAAAAAAAAAAAAAAAAAAAA==" // base64 的 16 字节
	tests := []struct {
		name       string
		lines      []string
		wantStatus int
		check      func(t *testing.T, resp *http.Response)
	}{
		{
			name:       "non-GET method",
			lines:      []string{"POST /chat/go HTTP/1.1", "Host: test"},
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "missing upgrade headers",
			lines:      []string{"GET /chat/go HTTP/1.1", "Host: test"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unsupported version",
			lines: []string{
				"GET /chat/go HTTP/1.1", "Host: test",
				"Connection: Upgrade", "Upgrade: websocket",
				"Sec-WebSocket-Version: 8",
				"Sec-WebSocket-Key: " + validKey,
			},
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, resp *http.Response) {
				assert.Equal(t, "13", resp.Header.Get("Sec-Websocket-Version"))
			},
		},
		{
			name: "malformed key",
			lines: []string{
				"GET /chat/go HTTP/1.1", "Host: test",
				"Connection: Upgrade", "Upgrade: websocket",
				"Sec-WebSocket-Version: 13",
				"Sec-WebSocket-Key: not-base64!",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "no route for topic",
			lines: []string{
				"GET /nowhere HTTP/1.1", "Host: test",
				"Connection: Upgrade", "Upgrade: websocket",
				"Sec-WebSocket-Version: 13",
				"Sec-WebSocket-Key: " + validKey,
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", srv.Listener.Addr().String())
			require.NoError(t, err)
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			_, err = conn.Write([]byte(strings.Join(tt.lines, "\r\n") + "\r\n\r\n"))
			require.NoError(t, err)

			resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

			var body struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Code)
			assert.NotEmpty(t, body.Message)

			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

// TestHubOriginWhitelist 测试 Origin 白名单
func TestHubOriginWhitelist(t *testing.T) {
	hub, err := NewHub(WithCheckOriginWhitelist([]string{"https://app.example.com"}))
	require.NoError(t, err)
	require.NoError(t, hub.Message("/chat", func(evt *Event) Outcome { return Success() }))
	srv := startHub(t, hub)

	// 白名单内的 Origin 放行
	header := http.Header{"Origin": {"https://app.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	_ = conn.Close()

	// 白名单外拒绝
	header = http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// 白名单模式下缺失 Origin 同样拒绝
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

// TestHubJoinRejection 测试 Join 处理器拒绝时按状态映射 HTTP 码
func TestHubJoinRejection(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Join("/vip/:room", func(evt *Event) Outcome {
		return Failure(StatusPolicyViolation)
	}))
	require.NoError(t, hub.Join("/broken", func(evt *Event) Outcome {
		return Failure(StatusInternalError)
	}))
	srv := startHub(t, hub)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/vip/gold"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/broken"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_ = resp.Body.Close()

	assert.Zero(t, hub.Count(), "拒绝的连接不占名额")
}

// TestHubJoinFallbackProbe 测试无 Join 路由时回退探测 Message 路由
func TestHubJoinFallbackProbe(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	received := make(chan string, 1)
	require.NoError(t, hub.Message("/probe", func(evt *Event) Outcome {
		b, _ := evt.Data.Bytes()
		received <- string(b)
		return Success()
	}))
	srv := startHub(t, hub)

	conn := dialNaked(t, srv, "/probe")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "ping", recvString(t, received))
}

// TestHubUnroutedMessageCloses 测试无匹配 Message 路由的消息以 1008 关闭连接
func TestHubUnroutedMessageCloses(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Join("/lobby", func(evt *Event) Outcome { return Success() }))
	srv := startHub(t, hub)

	conn := dialNaked(t, srv, "/lobby")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("anyone here?")))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, int(StatusPolicyViolation)), "err=%v", err)
}

// TestHubMessageFailureCloses 测试处理器 Failure 以其状态关闭连接
func TestHubMessageFailureCloses(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Message("/strict", func(evt *Event) Outcome {
		return Failure(StatusUnsupportedData)
	}))
	srv := startHub(t, hub)

	conn := dialNaked(t, srv, "/strict")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("junk")))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, int(StatusUnsupportedData)), "err=%v", err)
}

// TestHubCloseNormalization 测试对端 1001 关闭经规范化后回应 1000，
// Leave 恰好触发一次且携带规范化状态
func TestHubCloseNormalization(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	left := make(chan Status, 4)
	require.NoError(t, hub.Join("/chat/:room", func(evt *Event) Outcome { return Success() }))
	require.NoError(t, hub.Leave("/chat/:room", func(evt *Event) Outcome {
		left <- evt.Status
		return Success()
	}))
	srv := startHub(t, hub)

	conn := dialNaked(t, srv, "/chat/go")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(StatusGoingAway), "moving"), time.Now().Add(time.Second)))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, int(StatusOK)), "回应帧应携带规范化状态, err=%v", err)

	select {
	case s := <-left:
		assert.Equal(t, StatusOK, s)
	case <-time.After(2 * time.Second):
		t.Fatal("leave never dispatched")
	}

	require.Eventually(t, func() bool {
		return hub.Count() == 0 && hub.Broker().TopicCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "会话收尾应注销全部订阅")

	// Leave 不重复触发
	select {
	case s := <-left:
		t.Fatalf("unexpected second leave: %s", s)
	default:
	}
}

// TestHubMultiplexFlow 测试多路复用全流程：订阅、去重、数据归属、扇出前缀与退订
func TestHubMultiplexFlow(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)

	joined := make(chan string, 4)
	left := make(chan string, 4)
	received := make(chan string, 4)
	require.NoError(t, hub.Join("/chat/:room", func(evt *Event) Outcome {
		joined <- evt.Param("room")
		return Success()
	}))
	require.NoError(t, hub.Message("/chat/:room", func(evt *Event) Outcome {
		b, err := evt.Data.Bytes()
		if err != nil {
			return Failure(StatusInternalError)
		}
		received <- evt.Param("room") + ":" + string(b)
		return Success()
	}))
	require.NoError(t, hub.Leave("/chat/:room", func(evt *Event) Outcome {
		left <- evt.Param("room")
		return Success()
	}))
	srv := startHub(t, hub)

	conn := dialMultiplex(t, srv, "/chat/go")
	assert.Equal(t, "go", recvString(t, joined))

	// 重复订阅：应答精确字节，不触发第二次 Join
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·SUBSCRIBE·/chat/go")))
	assert.Equal(t, "ERR·Already Subscribed", readText(t, conn))
	select {
	case r := <-joined:
		t.Fatalf("duplicate join fired: %s", r)
	default:
	}

	// 未订阅主题的数据消息：NotSubscribed 应答，Message 不触发
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("/chat/rust·hello")))
	assert.Equal(t, "INVALID·Not Subscribed", readText(t, conn))
	select {
	case r := <-received:
		t.Fatalf("message fired for unsubscribed topic: %s", r)
	default:
	}

	// 订阅新主题：成功无应答，Join 触发
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·SUBSCRIBE·/chat/rust")))
	assert.Equal(t, "rust", recvString(t, joined))

	// 数据消息归属新主题
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("/chat/rust·hello")))
	assert.Equal(t, "rust:hello", recvString(t, received))

	// 扇出给多路复用订阅者时拼接主题前缀
	require.NoError(t, hub.Publish(context.Background(), "/chat/rust", NewTextMessage("broadcast")))
	assert.Equal(t, "/chat/rust·broadcast", readText(t, conn))

	// 退订触发 Leave，此后该主题的数据不再入路由
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·UNSUBSCRIBE·/chat/rust")))
	assert.Equal(t, "rust", recvString(t, left))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("/chat/rust·again")))
	assert.Equal(t, "INVALID·Not Subscribed", readText(t, conn))

	// 未订阅主题退订
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·UNSUBSCRIBE·/chat/never")))
	assert.Equal(t, "ERR·Not Subscribed", readText(t, conn))

	// 拒绝移除最后一个订阅
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·UNSUBSCRIBE·/chat/go")))
	assert.Equal(t, "ERR·Cannot unsubscribe last topic", readText(t, conn))
}

// TestHubMultiplexSubscribeRejected 测试 SUBSCRIBE 的 Join 失败转述状态
func TestHubMultiplexSubscribeRejected(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Join("/chat/:room", func(evt *Event) Outcome { return Success() }))
	require.NoError(t, hub.Join("/vip/:room", func(evt *Event) Outcome {
		return Failure(StatusPolicyViolation)
	}))
	require.NoError(t, hub.Message("/chat/:room", func(evt *Event) Outcome { return Success() }))
	srv := startHub(t, hub)

	conn := dialMultiplex(t, srv, "/chat/go")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·SUBSCRIBE·/vip/gold")))
	assert.Equal(t, "ERR·1008 policy violation", readText(t, conn))

	// 没有任何路由的主题
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·SUBSCRIBE·/nowhere")))
	assert.Equal(t, "ERR·1008 policy violation", readText(t, conn))

	// 协议层错误应答
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·SUBSCRIBE")))
	assert.Equal(t, "ERR·Missing topic parameter", readText(t, conn))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("·PING·x")))
	assert.Equal(t, "INVALID·Unknown control message", readText(t, conn))
}

// TestHubMaxConnections 测试连接数上限
func TestHubMaxConnections(t *testing.T) {
	hub, err := NewHub(WithMaxConnections(1))
	require.NoError(t, err)
	require.NoError(t, hub.Message("/chat", func(evt *Event) Outcome { return Success() }))
	srv := startHub(t, hub)

	_ = dialNaked(t, srv, "/chat")
	assert.Equal(t, 1, hub.Count())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	assert.Equal(t, 1, hub.Count(), "被拒绝的连接不占名额")
}

// TestHubShutdownBroadcast 测试优雅停机广播 1001 并等待收尾
func TestHubShutdownBroadcast(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Message("/chat", func(evt *Event) Outcome { return Success() }))
	require.NoError(t, hub.Finalize())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- hub.Shutdown(ctx)
	}()

	// 客户端收到 1001，默认关闭处理器回发应答让服务端立即收尾
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, int(StatusGoingAway)), "err=%v", err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(4 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	assert.Zero(t, hub.Count())

	// 停机后拒收新连接
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/chat"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}

// TestHubServeBeforeFinalize 测试未固化路由时拒绝升级
func TestHubServeBeforeFinalize(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Message("/chat", func(evt *Event) Outcome { return Success() }))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestHubPublishValidation 测试发布入口的参数校验
func TestHubPublishValidation(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)

	err = hub.Publish(context.Background(), "not a topic", NewTextMessage("x"))
	assert.ErrorIs(t, err, ErrInvalidTopic)

	stream := make(chan []byte)
	close(stream)
	err = hub.Publish(context.Background(), "/feed", NewStreamMessage(false, stream))
	assert.ErrorIs(t, err, ErrEagerRequired)
}

// TestHubRouteCollisionSurfacesAtFinalize 测试路由冲突在固化时暴露
func TestHubRouteCollisionSurfacesAtFinalize(t *testing.T) {
	hub, err := NewHub()
	require.NoError(t, err)
	require.NoError(t, hub.Message("/chat/:a", func(evt *Event) Outcome { return Success() }))
	require.NoError(t, hub.Message("/chat/:b", func(evt *Event) Outcome { return Success() }))

	assert.ErrorIs(t, hub.Finalize(), ErrRouteCollision)
}

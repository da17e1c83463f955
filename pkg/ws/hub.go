package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	qerrors "github.com/tokmz/qu/pkg/errors"
)

// Hub WebSocket 子系统门面：持有路由器、代理与会话注册表，
// 实现 http.Handler 完成升级握手并驱动每条连接的会话。
// 注册路由 → Finalize → 挂载到 HTTP 服务，三步之后不可再改路由。
type Hub struct {
	cfg     *Config
	logger  Logger
	metrics Metrics

	router *Router
	broker *Broker
	pool   *pool

	checkOrigin func(*http.Request) bool

	ctx       context.Context
	cancel    context.CancelFunc
	relayOnce sync.Once
}

// NewHub 创建 Hub
func NewHub(opts ...Option) (*Hub, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = &NopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:         cfg,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		broker:      NewBroker(cfg.Logger, cfg.Metrics, cfg.Relay),
		pool:        newPool(cfg.MaxConnections, cfg.Metrics),
		checkOrigin: cfg.originChecker(),
		ctx:         ctx,
		cancel:      cancel,
	}
	h.router = NewRouter()
	h.router.logger = cfg.Logger
	h.router.metrics = cfg.Metrics
	h.router.tracing = cfg.EnableTracing
	return h, nil
}

// Join 注册连接事件路由，决定主题是否接受新订阅
func (h *Hub) Join(pattern string, handler Handler, opts ...RouteOption) error {
	return h.router.Handle(EventJoin, pattern, handler, opts...)
}

// Message 注册消息事件路由
func (h *Hub) Message(pattern string, handler Handler, opts ...RouteOption) error {
	return h.router.Handle(EventMessage, pattern, handler, opts...)
}

// Leave 注册离开事件路由
func (h *Hub) Leave(pattern string, handler Handler, opts ...RouteOption) error {
	return h.router.Handle(EventLeave, pattern, handler, opts...)
}

// Router 事件路由器
func (h *Hub) Router() *Router {
	return h.router
}

// Broker 发布/订阅代理
func (h *Hub) Broker() *Broker {
	return h.broker
}

// Count 当前物理连接数
func (h *Hub) Count() int {
	return h.pool.size()
}

// Finalize 固化路由表并启动中继泵，必须在挂载服务前调用
func (h *Hub) Finalize() error {
	if err := h.router.Finalize(); err != nil {
		return err
	}
	if h.cfg.Relay != nil {
		h.relayOnce.Do(func() {
			go func() {
				if err := h.cfg.Relay.Run(h.ctx, h.broker.deliverRemote); err != nil &&
					!errors.Is(err, context.Canceled) && !errors.Is(err, ErrRelayClosed) {
					h.logger.Error("ws: relay stopped: %v", err)
				}
			}()
		})
	}
	return nil
}

// Publish 向主题的所有订阅者（含中继可达的其他节点）发布消息
func (h *Hub) Publish(ctx context.Context, topic string, m *Message) error {
	t, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, t, m)
}

// Shutdown 优雅停机：拒收新连接、向存活连接广播 1001 并等待收尾，
// ctx 到期后硬断残留连接。中继随后关闭。
func (h *Hub) Shutdown(ctx context.Context) error {
	err := h.pool.shutdown(ctx)
	h.cancel()
	if h.cfg.Relay != nil {
		if cerr := h.cfg.Relay.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ServeHTTP 升级入口。
// 校验握手 → 以请求 URI 为初始主题跑 Join → 接受则劫持连接写 101、
// 注册代理并启动会话；拒绝则以 JSON 错误体应答对应 HTTP 状态。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.router.finalized.Load() {
		h.logger.Error("ws: serve before finalize: %v", ErrNotFinalized)
		h.reject(w, http.StatusServiceUnavailable, "websocket router not ready")
		return
	}

	accept, multiplex, herr := validateUpgrade(r, h.checkOrigin)
	if herr != nil {
		if herr.Status == http.StatusBadRequest && strings.Contains(herr.Reason, "version") {
			w.Header().Set("Sec-Websocket-Version", "13")
		}
		h.reject(w, herr.Status, herr.Reason)
		return
	}

	uri := r.URL.RequestURI()
	if uri == "" || uri[0] != '/' {
		uri = "/" + uri
	}
	topic, err := ParseTopic(uri)
	if err != nil {
		h.reject(w, http.StatusBadRequest, "invalid topic uri")
		return
	}

	proto := ProtocolNaked
	if multiplex {
		proto = ProtocolMultiplexed
	}
	ch := newChannel(h.cfg, h.logger, h.metrics)
	conn := newConn(topic, r, ch.sender, proto)
	sess := newSession(h, ch, proto, conn)

	if err := h.pool.add(sess); err != nil {
		h.logger.Warn("ws: connection rejected: %v", err)
		h.reject(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	// Join 决定是否接受；无 Join 路由时探测 Message 路由
	evt := &Event{Kind: EventJoin, Conn: conn}
	out, matched := h.router.Dispatch(r.Context(), evt)
	if !matched {
		if !h.router.hasMatch(EventMessage, topic.Path()) {
			h.pool.remove(sess)
			h.reject(w, http.StatusNotFound, "no route for topic")
			return
		}
		out = Success()
	}
	if out.IsFailure() {
		h.pool.remove(sess)
		h.reject(w, httpStatusFor(out.Status()), out.Status().Reason())
		return
	}

	netConn, br, err := h.hijack(w)
	if err != nil {
		h.pool.remove(sess)
		h.reject(w, http.StatusInternalServerError, err.Error())
		return
	}

	_ = netConn.SetWriteDeadline(time.Now().Add(h.cfg.HandshakeTimeout))
	if err := writeUpgradeResponse(netConn, accept, multiplex); err != nil {
		h.logger.Warn("ws: failed to write upgrade response: %v", err)
		_ = netConn.Close()
		h.pool.remove(sess)
		return
	}
	_ = netConn.SetWriteDeadline(time.Time{})

	h.broker.Subscribe(topic, proto, ch.sender)
	ch.start(netConn, br)
	go sess.run()

	h.logger.Info("ws: connection established: topic=%s proto=%s sender=%s",
		topic, proto, ch.sender.ID())
}

// hijack 接管底层连接。升级握手完成前客户端不得抢发数据。
func (h *Hub) hijack(w http.ResponseWriter) (netConn net.Conn, br *bufio.Reader, err error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("ws: response writer does not support hijacking")
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, err
	}
	if brw.Reader.Buffered() > 0 {
		_ = conn.Close()
		return nil, nil, errors.New("ws: client sent data before handshake completed")
	}
	return conn, brw.Reader, nil
}

// reject 以 JSON 错误体拒绝升级请求
func (h *Hub) reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body, _ := json.Marshal(qerrors.New(status, message, status))
	_, _ = w.Write(body)
}

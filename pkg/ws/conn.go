package ws

import (
	"context"
	"net/http"
)

// Conn 一条逻辑连接：一个订阅主题加上底层请求快照与出站句柄。
// 裸协议连接恰好对应一个 Conn；多路复用的物理连接每订阅一个主题
// 就持有一个 Conn，共享同一个 Sender。
type Conn struct {
	id      string
	topic   Topic
	request *http.Request
	sender  *Sender
	proto   Protocol
}

// newConn 创建逻辑连接
func newConn(topic Topic, req *http.Request, sender *Sender, proto Protocol) *Conn {
	return &Conn{
		id:      generateConnID(),
		topic:   topic,
		request: req,
		sender:  sender,
		proto:   proto,
	}
}

// cloneWithTopic 以新主题派生逻辑连接，SUBSCRIBE 成功时调用。
// 请求快照与出站句柄与原连接共享。
func (c *Conn) cloneWithTopic(topic Topic) *Conn {
	return &Conn{
		id:      generateConnID(),
		topic:   topic,
		request: c.request,
		sender:  c.sender,
		proto:   c.proto,
	}
}

// ID 逻辑连接唯一标识
func (c *Conn) ID() string {
	return c.id
}

// Topic 此连接订阅的主题
func (c *Conn) Topic() Topic {
	return c.topic
}

// Request 升级时的 HTTP 请求快照（只读）
func (c *Conn) Request() *http.Request {
	return c.request
}

// Sender 出站发送句柄
func (c *Conn) Sender() *Sender {
	return c.sender
}

// Protocol 连接协商的协议
func (c *Conn) Protocol() Protocol {
	return c.proto
}

// Sender 出站发送句柄，同一物理连接的所有逻辑 Conn 共享一个。
// 入队消息由写泵按序成帧发送；队列有界，慢客户端只阻塞自己。
type Sender struct {
	id      string
	queue   chan *Message
	done    chan struct{}
	closeFn func(Status, string)
}

// newSender 创建发送句柄，closeFn 由通道在启动时注入
func newSender(queueSize int) *Sender {
	return &Sender{
		id:    generateConnID(),
		queue: make(chan *Message, queueSize),
		done:  make(chan struct{}),
	}
}

// ID 物理连接标识，代理注册以此为键
func (s *Sender) ID() string {
	return s.id
}

// Send 入队一条出站消息，队列满时阻塞直至入队、连接关闭或 ctx 取消
func (s *Sender) Send(ctx context.Context, m *Message) error {
	select {
	case <-s.done:
		return ErrConnClosed
	default:
	}
	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend 非阻塞入队，队列满返回 ErrQueueFull
func (s *Sender) TrySend(m *Message) error {
	select {
	case <-s.done:
		return ErrConnClosed
	default:
	}
	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return ErrConnClosed
	default:
		return ErrQueueFull
	}
}

// SendText 发送文本消息
func (s *Sender) SendText(ctx context.Context, text string) error {
	return s.Send(ctx, NewTextMessage(text))
}

// SendBinary 发送二进制消息
func (s *Sender) SendBinary(ctx context.Context, b []byte) error {
	return s.Send(ctx, NewBinaryMessage(b))
}

// Close 发起关闭握手。重复调用只有第一次生效。
func (s *Sender) Close(status Status, reason string) {
	if s.closeFn != nil {
		s.closeFn(status, reason)
	}
}

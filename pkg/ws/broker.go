package ws

import (
	"context"
	"sync"
)

// Protocol 物理连接协商出的协议
type Protocol uint8

const (
	// ProtocolNaked 裸协议：一条物理连接对应一个主题
	ProtocolNaked Protocol = iota
	// ProtocolMultiplexed rocket-multiplex 子协议：一条物理连接多主题复用
	ProtocolMultiplexed
)

// String 协议名
func (p Protocol) String() string {
	switch p {
	case ProtocolNaked:
		return "naked"
	case ProtocolMultiplexed:
		return "multiplexed"
	default:
		return "unknown"
	}
}

// subscriber 主题的一个订阅者
type subscriber struct {
	sender *Sender
	proto  Protocol
}

// Broker 进程级发布/订阅注册表。
// 两张表在同一把读写锁下维护：topics 供发布扇出（读多），
// senders 反向索引供 UnsubscribeAll 一次清空（写少）。
// 订阅者清空的主题立即从表中移除。
type Broker struct {
	mu      sync.RWMutex
	topics  map[string][]subscriber
	senders map[*Sender]map[string]Topic

	logger  Logger
	metrics Metrics
	relay   Relay
}

// NewBroker 创建代理，logger/metrics 传 nil 时使用空实现
func NewBroker(logger Logger, metrics Metrics, relay Relay) *Broker {
	if logger == nil {
		logger = &NopLogger{}
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Broker{
		topics:  make(map[string][]subscriber),
		senders: make(map[*Sender]map[string]Topic),
		logger:  logger,
		metrics: metrics,
		relay:   relay,
	}
}

// Subscribe 注册订阅。同一句柄重复订阅同一主题为幂等。
func (b *Broker) Subscribe(topic Topic, proto Protocol, s *Sender) {
	key := topic.Key()
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[key] {
		if sub.sender == s {
			return
		}
	}
	b.topics[key] = append(b.topics[key], subscriber{sender: s, proto: proto})
	if b.senders[s] == nil {
		b.senders[s] = make(map[string]Topic, 2)
	}
	b.senders[s][key] = topic

	b.metrics.SetTopicCount(len(b.topics))
	b.metrics.SetSubscriberCount(key, len(b.topics[key]))
}

// Unsubscribe 注销一个主题的订阅，未订阅时为无操作
func (b *Broker) Unsubscribe(topic Topic, s *Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(topic.Key(), s)
}

// UnsubscribeAll 注销句柄的全部订阅。
// 幂等：重复调用或从未订阅都不报错，连接清理的每条退出路径都会调它。
func (b *Broker) UnsubscribeAll(s *Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.senders[s] {
		b.removeLocked(key, s)
	}
	delete(b.senders, s)
}

// removeLocked 从两张表中摘除一条订阅，调用方持写锁
func (b *Broker) removeLocked(key string, s *Sender) {
	subs := b.topics[key]
	for i, sub := range subs {
		if sub.sender == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, key)
	} else {
		b.topics[key] = subs
	}

	if m := b.senders[s]; m != nil {
		delete(m, key)
		if len(m) == 0 {
			delete(b.senders, s)
		}
	}

	b.metrics.SetTopicCount(len(b.topics))
	b.metrics.SetSubscriberCount(key, len(subs))
}

// Publish 向主题的全部订阅者扇出一条消息，再转发到跨节点中继。
// 只接受急切载荷：流式消息无法被多个订阅者各自消费。
// 本地扇出总是先完成；中继失败记日志并返回错误。
func (b *Broker) Publish(ctx context.Context, topic Topic, m *Message) error {
	if m.IsStream() {
		return ErrEagerRequired
	}
	b.publishLocal(topic, m)

	if b.relay != nil {
		if err := b.relay.Publish(ctx, topic.Key(), m.Payload(), !m.IsBinary()); err != nil {
			b.logger.Error("ws: relay publish failed: topic=%s err=%v", topic.Key(), err)
			return err
		}
		b.metrics.IncrementRelayPublished()
	}
	return nil
}

// publishLocal 本地扇出。
// 读锁下拷贝订阅者快照，发送在锁外进行；
// 多路复用订阅者收到带主题前缀的副本，裸订阅者收到原始载荷。
// 入队为非阻塞：队列满丢弃该订阅者的本次投递并计数，绝不拖慢其他订阅者。
func (b *Broker) publishLocal(topic Topic, m *Message) {
	key := topic.Key()
	b.mu.RLock()
	subs := make([]subscriber, len(b.topics[key]))
	copy(subs, b.topics[key])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var prefixed *Message // 带主题前缀的副本，首个多路复用订阅者出现时构造一次
	for _, sub := range subs {
		out := m
		if sub.proto == ProtocolMultiplexed {
			if prefixed == nil {
				prefixed = m.withPrefix(topicPrefix(topic))
			}
			out = prefixed
		}
		switch err := sub.sender.TrySend(out); err {
		case ErrQueueFull:
			b.metrics.IncrementDroppedMessages()
			b.logger.Warn("ws: dropping publish: topic=%s sender=%s queue full", key, sub.sender.ID())
		case ErrConnClosed:
			// 与退订并发的竞态，忽略
		}
	}
}

// deliverRemote 中继送达回调，重新进入本地扇出
func (b *Broker) deliverRemote(topic string, payload []byte, text bool) {
	t, err := ParseTopic(topic)
	if err != nil {
		b.logger.Warn("ws: relay delivered invalid topic: %q", topic)
		return
	}
	var m *Message
	if text {
		m = NewTextMessage(string(payload))
	} else {
		m = NewBinaryMessage(payload)
	}
	b.metrics.IncrementRelayReceived()
	b.publishLocal(t, m)
}

// SubscriberCount 主题当前订阅者数量
func (b *Broker) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic.Key()])
}

// TopicCount 当前有订阅者的主题数量
func (b *Broker) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

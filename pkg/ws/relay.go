package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultRelayChannel 默认的中继频道
	defaultRelayChannel = "qu:ws:relay"
	// relayPingInterval 中继链路保活间隔
	relayPingInterval = 30 * time.Second
)

// Relay 跨进程消息中继。
// Publish 把本地发布转发给其他节点；Run 阻塞运行接收泵，
// 把远端发布经 deliver 回调送入本地扇出。
type Relay interface {
	Publish(ctx context.Context, topic string, payload []byte, text bool) error
	Run(ctx context.Context, deliver func(topic string, payload []byte, text bool)) error
	Close() error
}

// relayEnvelope 节点间传递的消息信封
type relayEnvelope struct {
	Node    string `json:"node"`
	Topic   string `json:"topic"`
	Text    bool   `json:"text"`
	Payload []byte `json:"payload"`
}

// RelayOption Redis 中继选项
type RelayOption func(*RedisRelay)

// WithRelayChannel 设置中继频道名
func WithRelayChannel(channel string) RelayOption {
	return func(r *RedisRelay) {
		r.channel = channel
	}
}

// WithRelayLogger 设置中继日志
func WithRelayLogger(logger Logger) RelayOption {
	return func(r *RedisRelay) {
		r.logger = logger
	}
}

// RedisRelay 基于 Redis 发布/订阅的中继实现。
// 每个节点持有随机节点 ID，收到自己发布的消息时跳过，避免回声。
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	node    string
	logger  Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// NewRedisRelay 创建 Redis 中继，client 由调用方管理生命周期
func NewRedisRelay(client redis.UniversalClient, opts ...RelayOption) *RedisRelay {
	r := &RedisRelay{
		client:  client,
		channel: defaultRelayChannel,
		node:    uuid.NewString(),
		logger:  &NopLogger{},
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish 打包信封并发布到中继频道
func (r *RedisRelay) Publish(ctx context.Context, topic string, payload []byte, text bool) error {
	select {
	case <-r.closed:
		return ErrRelayClosed
	default:
	}
	data, err := json.Marshal(relayEnvelope{
		Node:    r.node,
		Topic:   topic,
		Text:    text,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run 运行接收泵直到 ctx 取消或 Close。
// errgroup 监督两个分支：订阅接收与链路保活，任一出错整体退出。
func (r *RedisRelay) Run(ctx context.Context, deliver func(topic string, payload []byte, text bool)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return ErrRelayClosed
				}
				var env relayEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("ws: relay envelope decode failed: %v", err)
					continue
				}
				if env.Node == r.node {
					// 自己发布的回声
					continue
				}
				deliver(env.Topic, env.Payload, env.Text)
			case <-ctx.Done():
				return ctx.Err()
			case <-r.closed:
				return ErrRelayClosed
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(relayPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sub.Ping(ctx); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			case <-r.closed:
				return ErrRelayClosed
			}
		}
	})

	return g.Wait()
}

// Close 停止接收泵。注入的 Redis client 由调用方负责关闭。
func (r *RedisRelay) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
	return nil
}

// localBus 进程内中继总线，测试多个 Hub 的跨节点投递用
type localBus struct {
	mu   sync.Mutex
	ends []*localRelay
}

func newLocalBus() *localBus {
	return &localBus{}
}

// relay 在总线上挂一个节点端点
func (b *localBus) relay() *localRelay {
	r := &localRelay{bus: b, node: uuid.NewString(), closed: make(chan struct{})}
	b.mu.Lock()
	b.ends = append(b.ends, r)
	b.mu.Unlock()
	return r
}

// localRelay 总线端点，投递在发布方的 goroutine 上同步完成
type localRelay struct {
	bus  *localBus
	node string

	mu      sync.Mutex
	deliver func(topic string, payload []byte, text bool)

	closed    chan struct{}
	closeOnce sync.Once
}

func (r *localRelay) Publish(ctx context.Context, topic string, payload []byte, text bool) error {
	select {
	case <-r.closed:
		return ErrRelayClosed
	default:
	}
	r.bus.mu.Lock()
	ends := make([]*localRelay, len(r.bus.ends))
	copy(ends, r.bus.ends)
	r.bus.mu.Unlock()

	for _, end := range ends {
		if end == r {
			continue
		}
		end.mu.Lock()
		deliver := end.deliver
		end.mu.Unlock()
		if deliver != nil {
			deliver(topic, payload, text)
		}
	}
	return nil
}

func (r *localRelay) Run(ctx context.Context, deliver func(topic string, payload []byte, text bool)) error {
	r.mu.Lock()
	r.deliver = deliver
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closed:
		return ErrRelayClosed
	}
}

func (r *localRelay) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.mu.Lock()
		r.deliver = nil
		r.mu.Unlock()
	})
	return nil
}

var _ Relay = (*RedisRelay)(nil)
var _ Relay = (*localRelay)(nil)

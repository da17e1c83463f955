package ws

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitRelayReady 等待端点的接收泵注册完毕
func waitRelayReady(t *testing.T, relays ...*localRelay) {
	t.Helper()
	for _, r := range relays {
		require.Eventually(t, func() bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.deliver != nil
		}, time.Second, 5*time.Millisecond)
	}
}

// TestLocalBusDelivery 测试总线把发布同步投递到其余端点且不回声
func TestLocalBusDelivery(t *testing.T) {
	bus := newLocalBus()
	r1, r2, r3 := bus.relay(), bus.relay(), bus.relay()

	type delivery struct {
		topic   string
		payload string
		text    bool
	}
	collect := func(ch chan delivery) func(string, []byte, bool) {
		return func(topic string, payload []byte, text bool) {
			ch <- delivery{topic: topic, payload: string(payload), text: text}
		}
	}
	ch1 := make(chan delivery, 4)
	ch2 := make(chan delivery, 4)
	ch3 := make(chan delivery, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r1.Run(ctx, collect(ch1)) }()
	go func() { _ = r2.Run(ctx, collect(ch2)) }()
	go func() { _ = r3.Run(ctx, collect(ch3)) }()
	waitRelayReady(t, r1, r2, r3)

	require.NoError(t, r1.Publish(context.Background(), "/feed", []byte("hi"), true))

	// 投递在发布方 goroutine 上同步完成，Publish 返回即送达
	want := delivery{topic: "/feed", payload: "hi", text: true}
	assert.Equal(t, want, <-ch2)
	assert.Equal(t, want, <-ch3)
	select {
	case d := <-ch1:
		t.Fatalf("publisher received its own message: %+v", d)
	default:
	}

	// 二进制标记原样传递
	require.NoError(t, r2.Publish(context.Background(), "/feed", []byte{0x01}, false))
	got := <-ch1
	assert.False(t, got.text)
	assert.Equal(t, "\x01", got.payload)
}

// TestLocalRelayLifecycle 测试端点的取消与关闭语义
func TestLocalRelayLifecycle(t *testing.T) {
	bus := newLocalBus()

	t.Run("context cancel", func(t *testing.T) {
		r := bus.relay()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx, func(string, []byte, bool) {}) }()
		waitRelayReady(t, r)

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop on cancel")
		}
	})

	t.Run("close", func(t *testing.T) {
		r := bus.relay()
		done := make(chan error, 1)
		go func() { done <- r.Run(context.Background(), func(string, []byte, bool) {}) }()
		waitRelayReady(t, r)

		require.NoError(t, r.Close())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrRelayClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop on close")
		}

		assert.ErrorIs(t, r.Publish(context.Background(), "/feed", []byte("x"), true), ErrRelayClosed)
		assert.NoError(t, r.Close(), "重复关闭无副作用")
	})
}

// TestRelayAcrossHubs 测试两个节点经中继互通：
// 任一节点发布，两侧订阅者各收到恰好一份
func TestRelayAcrossHubs(t *testing.T) {
	bus := newLocalBus()

	newNode := func(name string) (*Hub, *httptest.Server, *localRelay) {
		end := bus.relay()
		hub, err := NewHub(WithRelay(end))
		require.NoError(t, err, name)
		require.NoError(t, hub.Message("/feed", func(evt *Event) Outcome { return Success() }), name)
		return hub, startHub(t, hub), end
	}
	hubA, srvA, endA := newNode("a")
	hubB, srvB, endB := newNode("b")
	waitRelayReady(t, endA, endB)

	connA := dialNaked(t, srvA, "/feed")
	connB := dialNaked(t, srvB, "/feed")
	require.Eventually(t, func() bool {
		return hubA.Broker().TopicCount() == 1 && hubB.Broker().TopicCount() == 1
	}, 2*time.Second, 5*time.Millisecond, "订阅注册完成后再发布")

	require.NoError(t, hubA.Publish(context.Background(), "/feed", NewTextMessage("ping")))

	assert.Equal(t, "ping", readText(t, connA), "本地扇出")
	assert.Equal(t, "ping", readText(t, connB), "跨节点投递")

	// 双方都只收到一份：远端投递不得再次进入中继
	for _, conn := range []*websocket.Conn{connA, connB} {
		_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		var nerr net.Error
		require.ErrorAs(t, err, &nerr)
		assert.True(t, nerr.Timeout(), "不期待第二份消息")
	}
}

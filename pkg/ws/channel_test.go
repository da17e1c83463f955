package ws

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestChannel 测试辅助：以 net.Pipe 为底层连接启动通道，
// 返回通道与客户端侧连接。客户端侧带 5 秒兜底期限防止用例挂死。
func newTestChannel(t *testing.T, cfg *Config) (*channel, net.Conn) {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	srv, cli := net.Pipe()
	_ = cli.SetDeadline(time.Now().Add(5 * time.Second))

	ch := newChannel(cfg, &NopLogger{}, &NoopMetrics{})
	ch.start(srv, bufio.NewReader(srv))
	t.Cleanup(func() {
		_ = cli.Close()
		ch.shutdown()
	})
	return ch, cli
}

// writeClientFrame 以客户端身份写一帧（按协议要求设掩码）
func writeClientFrame(t *testing.T, w io.Writer, fin bool, op Opcode, payload []byte) {
	t.Helper()
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	masked := make([]byte, len(payload))
	copy(masked, payload)
	maskBytes(key, 0, masked)

	var hdr [maxHeaderSize]byte
	n := encodeHeader(hdr[:], &Header{Fin: fin, Opcode: op, Masked: true, MaskKey: key, Length: int64(len(payload))})
	frame := append(hdr[:n:n], masked...)
	_, err := w.Write(frame)
	require.NoError(t, err)
}

// writeUnmaskedFrame 写一帧协议违规的无掩码帧
func writeUnmaskedFrame(t *testing.T, w io.Writer, op Opcode, payload []byte) {
	t.Helper()
	var hdr [maxHeaderSize]byte
	n := encodeHeader(hdr[:], &Header{Fin: true, Opcode: op, Length: int64(len(payload))})
	frame := append(hdr[:n:n], payload...)
	_, err := w.Write(frame)
	require.NoError(t, err)
}

// readServerFrame 以客户端身份读一帧，服务端帧必须不设掩码
func readServerFrame(t *testing.T, r io.Reader) (Opcode, bool, []byte) {
	t.Helper()
	var hdr [2]byte
	_, err := io.ReadFull(r, hdr[:])
	require.NoError(t, err)

	op := Opcode(hdr[0] & 0x0F)
	fin := hdr[0]&finBit != 0
	require.Zero(t, hdr[1]&maskBit, "服务端帧不得设掩码")

	length := int64(hdr[1] & lenMask)
	switch length {
	case 126:
		var ext [2]byte
		_, err = io.ReadFull(r, ext[:])
		require.NoError(t, err)
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		_, err = io.ReadFull(r, ext[:])
		require.NoError(t, err)
		length = int64(binary.BigEndian.Uint64(ext[:]))
	}

	payload := make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	return op, fin, payload
}

// readServerClose 读服务端关闭帧并解出状态
func readServerClose(t *testing.T, r io.Reader) (Status, string) {
	t.Helper()
	op, fin, payload := readServerFrame(t, r)
	require.Equal(t, OpcodeClose, op)
	require.True(t, fin)
	s, reason := decodeStatus(payload)
	return s, reason
}

// recvData 测试辅助：取一条入站数据消息
func recvData(t *testing.T, ch *channel) *Data {
	t.Helper()
	select {
	case d, ok := <-ch.incoming:
		require.True(t, ok, "incoming closed early")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no incoming message")
		return nil
	}
}

// waitIncomingClosed 测试辅助：等待读泵退出
func waitIncomingClosed(t *testing.T, ch *channel) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-ch.incoming:
			if !ok {
				return
			}
			d.Discard()
		case <-deadline:
			t.Fatal("incoming not closed")
		}
	}
}

// TestChannelIncoming 测试入站文本消息解码成流式载荷
func TestChannelIncoming(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, true, OpcodeText, []byte("hello"))

	d := recvData(t, ch)
	assert.False(t, d.IsBinary())
	b, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

// TestChannelOutgoing 测试出站消息由写泵成帧发出
func TestChannelOutgoing(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	require.NoError(t, ch.sender.TrySend(NewTextMessage("world")))

	op, fin, payload := readServerFrame(t, cli)
	assert.Equal(t, OpcodeText, op)
	assert.True(t, fin)
	assert.Equal(t, []byte("world"), payload)
}

// TestChannelQueuedBeforeStart 测试 start 之前入队的消息在启动后冲刷
func TestChannelQueuedBeforeStart(t *testing.T) {
	cfg := DefaultConfig()
	ch := newChannel(cfg, &NopLogger{}, &NoopMetrics{})

	// 底层连接尚不存在，升级期间的应答先行入队
	require.NoError(t, ch.sender.TrySend(NewTextMessage("welcome")))

	srv, cli := net.Pipe()
	_ = cli.SetDeadline(time.Now().Add(5 * time.Second))
	ch.start(srv, bufio.NewReader(srv))
	t.Cleanup(func() {
		_ = cli.Close()
		ch.shutdown()
	})

	op, _, payload := readServerFrame(t, cli)
	assert.Equal(t, OpcodeText, op)
	assert.Equal(t, []byte("welcome"), payload)
}

// TestChannelFragmentedIncoming 测试分片消息按帧边界逐块到达同一条载荷
func TestChannelFragmentedIncoming(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, false, OpcodeText, []byte("wor"))
	d := recvData(t, ch)

	got := make(chan []byte, 1)
	go func() {
		b, err := d.Bytes()
		assert.NoError(t, err)
		got <- b
	}()

	writeClientFrame(t, cli, false, OpcodeContinuation, []byte("ld"))
	writeClientFrame(t, cli, true, OpcodeContinuation, []byte("!"))

	select {
	case b := <-got:
		assert.Equal(t, []byte("world!"), b)
	case <-time.After(2 * time.Second):
		t.Fatal("fragmented message never completed")
	}
}

// TestChannelPingPong 测试 Ping 自动回 Pong 且负载原样带回
func TestChannelPingPong(t *testing.T) {
	_, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, true, OpcodePing, []byte("ka"))

	op, fin, payload := readServerFrame(t, cli)
	assert.Equal(t, OpcodePong, op)
	assert.True(t, fin)
	assert.Equal(t, []byte("ka"), payload)
}

// TestChannelControlDuringFragmentation 测试分片间隙的控制帧被内联处理
func TestChannelControlDuringFragmentation(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, false, OpcodeText, []byte("a"))
	d := recvData(t, ch)

	writeClientFrame(t, cli, true, OpcodePing, []byte("mid"))
	writeClientFrame(t, cli, true, OpcodeContinuation, []byte("b"))

	// Pong 先于消息完成到达
	op, _, payload := readServerFrame(t, cli)
	assert.Equal(t, OpcodePong, op)
	assert.Equal(t, []byte("mid"), payload)

	b, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), b)
}

// TestChannelCloseHandshake 测试对端发来 1001 时回应帧按规范化表携带 1000
func TestChannelCloseHandshake(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, true, OpcodeClose, encodeStatus(StatusGoingAway, "bye"))

	s, _ := readServerClose(t, cli)
	assert.Equal(t, StatusOK, s)

	waitIncomingClosed(t, ch)
	assert.Equal(t, StatusOK, ch.peerStatus())
}

// TestChannelCloseStatusPassthrough 测试透传段状态码原样回应
func TestChannelCloseStatusPassthrough(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, true, OpcodeClose, encodeStatus(StatusMessageTooBig, ""))

	s, _ := readServerClose(t, cli)
	assert.Equal(t, StatusMessageTooBig, s)

	waitIncomingClosed(t, ch)
	assert.Equal(t, StatusMessageTooBig, ch.peerStatus())
}

// TestChannelEmptyClosePayload 测试空负载关闭帧视为正常关闭
func TestChannelEmptyClosePayload(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	writeClientFrame(t, cli, true, OpcodeClose, nil)

	s, _ := readServerClose(t, cli)
	assert.Equal(t, StatusOK, s)
	waitIncomingClosed(t, ch)
}

// TestChannelServerInitiatedClose 测试服务端主动关闭只发一帧，对端回应不再触发第二帧
func TestChannelServerInitiatedClose(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	ch.sendClose(StatusPolicyViolation, "denied")
	// 第二次调用不产生第二帧
	ch.sendClose(StatusOK, "ignored")

	s, reason := readServerClose(t, cli)
	assert.Equal(t, StatusPolicyViolation, s)
	assert.Equal(t, "denied", reason)

	// 对端回应关闭帧，读泵由此退出且不再回发
	writeClientFrame(t, cli, true, OpcodeClose, encodeStatus(StatusPolicyViolation, ""))
	waitIncomingClosed(t, ch)
	assert.Equal(t, StatusPolicyViolation, ch.peerStatus())
}

// TestChannelUnmaskedRejected 测试无掩码帧以协议错误关闭
func TestChannelUnmaskedRejected(t *testing.T) {
	t.Run("data frame", func(t *testing.T) {
		ch, cli := newTestChannel(t, nil)
		writeUnmaskedFrame(t, cli, OpcodeText, []byte("naughty"))

		s, _ := readServerClose(t, cli)
		assert.Equal(t, StatusProtocolError, s)
		waitIncomingClosed(t, ch)
	})

	t.Run("control frame", func(t *testing.T) {
		ch, cli := newTestChannel(t, nil)
		writeUnmaskedFrame(t, cli, OpcodePing, nil)

		s, _ := readServerClose(t, cli)
		assert.Equal(t, StatusProtocolError, s)
		waitIncomingClosed(t, ch)
	})
}

// TestChannelProtocolViolations 测试各类违规帧触发 1002 关闭
func TestChannelProtocolViolations(t *testing.T) {
	tests := []struct {
		name  string
		write func(t *testing.T, cli net.Conn)
	}{
		{
			name: "reserved bits",
			write: func(t *testing.T, cli net.Conn) {
				_, err := cli.Write([]byte{0xC1, 0x80, 0, 0, 0, 0})
				require.NoError(t, err)
			},
		},
		{
			name: "unknown opcode",
			write: func(t *testing.T, cli net.Conn) {
				_, err := cli.Write([]byte{0x83, 0x80, 0, 0, 0, 0})
				require.NoError(t, err)
			},
		},
		{
			name: "continuation without running message",
			write: func(t *testing.T, cli net.Conn) {
				writeClientFrame(t, cli, true, OpcodeContinuation, []byte("stray"))
			},
		},
		{
			name: "fragmented control",
			write: func(t *testing.T, cli net.Conn) {
				_, err := cli.Write([]byte{0x09, 0x80, 0, 0, 0, 0})
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, cli := newTestChannel(t, nil)
			tt.write(t, cli)

			s, _ := readServerClose(t, cli)
			assert.Equal(t, StatusProtocolError, s)
			waitIncomingClosed(t, ch)
		})
	}
}

// TestChannelOversizeMessage 测试超过消息大小上限以 1009 关闭
func TestChannelOversizeMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 16
	ch, cli := newTestChannel(t, cfg)

	writeClientFrame(t, cli, true, OpcodeBinary, make([]byte, 32))

	s, _ := readServerClose(t, cli)
	assert.Equal(t, StatusMessageTooBig, s)
	waitIncomingClosed(t, ch)
}

// TestChannelOversizeAcrossFragments 测试分片累计超限同样以 1009 关闭
func TestChannelOversizeAcrossFragments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 16
	ch, cli := newTestChannel(t, cfg)

	writeClientFrame(t, cli, false, OpcodeBinary, make([]byte, 12))
	d := recvData(t, ch)
	go d.Discard()

	writeClientFrame(t, cli, true, OpcodeContinuation, make([]byte, 12))

	s, _ := readServerClose(t, cli)
	assert.Equal(t, StatusMessageTooBig, s)
	waitIncomingClosed(t, ch)
}

// TestChannelServerPing 测试心跳开启时写泵周期性发送 Ping
func TestChannelServerPing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingPeriod = 30 * time.Millisecond
	cfg.PongWait = 500 * time.Millisecond
	_, cli := newTestChannel(t, cfg)

	op, fin, _ := readServerFrame(t, cli)
	assert.Equal(t, OpcodePing, op)
	assert.True(t, fin)
}

// TestChannelStreamedOutbound 测试流式出站消息逐块成帧，末帧落定 FIN
func TestChannelStreamedOutbound(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	stream := make(chan []byte, 2)
	stream <- []byte("ab")
	stream <- []byte("cd")
	close(stream)
	require.NoError(t, ch.sender.TrySend(NewStreamMessage(true, stream)))

	op, fin, payload := readServerFrame(t, cli)
	assert.Equal(t, OpcodeBinary, op)
	assert.False(t, fin)
	assert.Equal(t, []byte("ab"), payload)

	op, fin, payload = readServerFrame(t, cli)
	assert.Equal(t, OpcodeContinuation, op)
	assert.True(t, fin)
	assert.Equal(t, []byte("cd"), payload)
}

// TestChannelStreamedSingleChunk 测试单块流式消息合并为单帧
func TestChannelStreamedSingleChunk(t *testing.T) {
	ch, cli := newTestChannel(t, nil)

	stream := make(chan []byte, 1)
	stream <- []byte("solo")
	close(stream)
	require.NoError(t, ch.sender.TrySend(NewStreamMessage(false, stream)))

	op, fin, payload := readServerFrame(t, cli)
	assert.Equal(t, OpcodeText, op)
	assert.True(t, fin)
	assert.Equal(t, []byte("solo"), payload)
}

// TestChannelSmallWriteBuffer 测试写缓冲远小于负载时帧仍完整发出
func TestChannelSmallWriteBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteBufferSize = 8
	ch, cli := newTestChannel(t, cfg)

	payload := strings.Repeat("buffered", 32) // 256 字节，跨越多轮缓冲
	require.NoError(t, ch.sender.TrySend(NewTextMessage(payload)))

	op, fin, got := readServerFrame(t, cli)
	assert.Equal(t, OpcodeText, op)
	assert.True(t, fin)
	assert.Equal(t, []byte(payload), got)

	// 后续帧不受残留缓冲影响
	require.NoError(t, ch.sender.TrySend(NewTextMessage("next")))
	op, _, got = readServerFrame(t, cli)
	assert.Equal(t, OpcodeText, op)
	assert.Equal(t, []byte("next"), got)
}

// TestChannelSenderAfterStop 测试停止后入队返回连接已关闭
func TestChannelSenderAfterStop(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	ch.stop()

	err := ch.sender.TrySend(NewTextMessage("late"))
	assert.ErrorIs(t, err, ErrConnClosed)

	err = ch.sender.Send(context.Background(), NewTextMessage("late"))
	assert.ErrorIs(t, err, ErrConnClosed)
}

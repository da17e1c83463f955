package ws

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeGracePeriod 发出关闭帧后等待对端回应的窗口
const closeGracePeriod = 5 * time.Second

// 泵内部哨兵，不对外暴露
var (
	errPeerClosed   = errors.New("ws: peer sent close")
	errWriteStopped = errors.New("ws: write pump stopped")
)

// controlFrame 待发送的控制帧
type controlFrame struct {
	opcode  Opcode
	payload []byte
}

// channel 一条物理 WebSocket 连接的传输层：读泵解码入站帧流，
// 写泵消费出站队列成帧发送，控制帧在数据帧间隙优先穿插。
// 通道先于劫持创建，Join 阶段入队的消息在 start 后由写泵冲刷。
type channel struct {
	cfg     *Config
	logger  Logger
	metrics Metrics

	sender   *Sender
	incoming chan *Data // 入站数据消息，容量 1，读泵是唯一发送方

	controlCh chan controlFrame // Pong 等控制帧
	closeCh   chan controlFrame // 关闭帧，closeSent 保证至多一条

	conn net.Conn
	br   *bufio.Reader // 劫持携带的读缓冲，可能已含对端字节
	bw   *bufio.Writer // 按 WriteBufferSize 缓冲，整帧落定后一次冲刷

	closed    chan struct{} // 与 sender.done 同一通道
	stopOnce  sync.Once
	closeSent atomic.Bool
	writeWG   sync.WaitGroup

	peer Status // 对端关闭状态（规范化后），incoming 关闭前写入

	headerBuf [maxHeaderSize]byte // 写泵成帧暂存
}

// newChannel 创建通道。此时尚无底层连接，出站入队已可用。
func newChannel(cfg *Config, logger Logger, metrics Metrics) *channel {
	c := &channel{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		sender:    newSender(cfg.SendQueueSize),
		incoming:  make(chan *Data, 1),
		controlCh: make(chan controlFrame, 8),
		closeCh:   make(chan controlFrame, 1),
		peer:      StatusOK,
	}
	c.closed = c.sender.done
	c.sender.closeFn = c.sendClose
	return c
}

// start 接管劫持到的底层连接并启动两个泵
func (c *channel) start(conn net.Conn, br *bufio.Reader) {
	c.conn = conn
	c.br = br
	c.bw = bufio.NewWriterSize(conn, c.cfg.WriteBufferSize)
	c.writeWG.Add(1)
	go c.writePump()
	go c.readPump()
}

// stop 发出终止信号，幂等
func (c *channel) stop() {
	c.stopOnce.Do(func() {
		close(c.closed)
	})
}

// shutdown 会话收尾的最后一步：停泵、等写泵冲刷完、关底层连接
func (c *channel) shutdown() {
	c.stop()
	c.writeWG.Wait()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// sendClose 发起关闭握手，只有第一次调用生效
func (c *channel) sendClose(status Status, reason string) {
	if !c.closeSent.CompareAndSwap(false, true) {
		return
	}
	c.closeCh <- controlFrame{opcode: OpcodeClose, payload: encodeStatus(status, reason)}
}

// peerStatus 对端关闭状态，incoming 关闭后读取有效
func (c *channel) peerStatus() Status {
	return c.peer
}

// armReadDeadline 心跳开启时刷新读期限，任意入站帧都会再次刷新。
// 关闭帧发出后不再延长，保住 finishClose 设下的回应窗口。
func (c *channel) armReadDeadline() {
	if c.closeSent.Load() {
		return
	}
	if c.cfg.PingPeriod > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

// readPump 读泵：解码帧头、内联处理控制帧、把数据消息流式交给会话。
// 退出时关闭 incoming，会话由此感知并走统一的收尾路径。
func (c *channel) readPump() {
	defer close(c.incoming)

	for {
		c.armReadDeadline()
		h, err := c.readHeader()
		if err != nil {
			c.readFailed(err)
			return
		}

		if h.Opcode.IsControl() {
			if err := c.handleControl(h); err != nil {
				if !errors.Is(err, errPeerClosed) {
					c.readFailed(err)
				}
				return
			}
			continue
		}

		// 数据帧：无运行中消息时 continuation 非法
		if h.Opcode == OpcodeContinuation {
			c.readFailed(ErrUnexpectedFrame)
			return
		}

		if err := c.readMessage(h); err != nil {
			if !errors.Is(err, errPeerClosed) {
				c.readFailed(err)
			}
			return
		}
	}
}

// readHeader 从读缓冲窥探并解码一个完整帧头
func (c *channel) readHeader() (*Header, error) {
	buf, err := c.br.Peek(2)
	if err != nil {
		return nil, err
	}

	need := 2
	switch buf[1] & lenMask {
	case 126:
		need += 2
	case 127:
		need += 8
	}
	if buf[1]&maskBit != 0 {
		need += 4
	}

	buf, err = c.br.Peek(need)
	if err != nil {
		return nil, err
	}
	h, n, derr := decodeHeader(buf)
	if derr != nil {
		return nil, derr
	}
	if _, err := c.br.Discard(n); err != nil {
		return nil, err
	}
	return h, nil
}

// handleControl 内联处理控制帧。
// Ping 自动回 Pong；Pong 只起刷新读期限的作用；
// Close 解码并规范化状态、按需回发关闭帧，然后无条件终止读循环。
func (c *channel) handleControl(h *Header) error {
	if !h.Masked {
		return ErrUnmaskedFrame
	}
	var payload []byte
	if h.Length > 0 {
		payload = make([]byte, h.Length)
		if _, err := io.ReadFull(c.br, payload); err != nil {
			return err
		}
		maskBytes(h.MaskKey, 0, payload)
	}

	switch h.Opcode {
	case OpcodePing:
		select {
		case c.controlCh <- controlFrame{opcode: OpcodePong, payload: payload}:
		default:
			// Ping 洪泛时丢弃 Pong
			c.logger.Debug("ws: control queue full, dropping pong")
		}
	case OpcodePong:
	case OpcodeClose:
		status, _ := decodeStatus(payload)
		c.peer = status.normalize()
		if c.closeSent.CompareAndSwap(false, true) {
			c.closeCh <- controlFrame{opcode: OpcodeClose, payload: encodeStatus(c.peer, "")}
		}
		return errPeerClosed
	}
	return nil
}

// readMessage 读取一条完整数据消息：先把 Data 交给会话，
// 再逐帧流块；分片间隙允许控制帧穿插。
func (c *channel) readMessage(first *Header) error {
	d := newData(first.Opcode == OpcodeBinary)
	c.metrics.IncrementMessagesReceived(first.Opcode.String())

	select {
	case c.incoming <- d:
	case <-c.closed:
		d.finish(ErrConnClosed)
		return ErrConnClosed
	}

	h := first
	var total int64
	for {
		if err := c.streamFrame(d, h, &total); err != nil {
			d.finish(err)
			return err
		}
		if h.Fin {
			d.finish(nil)
			return nil
		}

		// 消息未完：读下一帧，控制帧内联处理后继续等 continuation
		for {
			c.armReadDeadline()
			nh, err := c.readHeader()
			if err != nil {
				d.finish(err)
				return err
			}
			if nh.Opcode.IsControl() {
				if cerr := c.handleControl(nh); cerr != nil {
					d.finish(ErrConnClosed)
					return cerr
				}
				continue
			}
			if nh.Opcode != OpcodeContinuation {
				d.finish(ErrUnexpectedFrame)
				return ErrUnexpectedFrame
			}
			h = nh
			break
		}
	}
}

// streamFrame 解掩码并按读缓冲大小分块投递一帧负载，
// 累计大小超限时中断消息
func (c *channel) streamFrame(d *Data, h *Header, total *int64) error {
	if !h.Masked {
		return ErrUnmaskedFrame
	}
	*total += h.Length
	if *total > c.cfg.MaxMessageSize {
		return ErrMessageTooBig
	}

	remaining := h.Length
	cursor := 0
	for remaining > 0 {
		n := int64(c.cfg.ReadBufferSize)
		if n > remaining {
			n = remaining
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(c.br, chunk); err != nil {
			return err
		}
		cursor = maskBytes(h.MaskKey, cursor, chunk)
		remaining -= n

		select {
		case d.ch <- chunk:
		case <-c.closed:
			return ErrConnClosed
		}
	}
	return nil
}

// readFailed 读泵出错收尾：协议违规以对应状态发起关闭握手，
// 传输层失败时对端已不可达，只记录
func (c *channel) readFailed(err error) {
	switch {
	case errors.Is(err, ErrMessageTooBig):
		c.metrics.IncrementInvalidMessages()
		c.sendClose(StatusMessageTooBig, "message too big")
	case errors.Is(err, ErrReservedBits), errors.Is(err, ErrInvalidOpcode),
		errors.Is(err, ErrFragmentedControl), errors.Is(err, ErrControlTooBig),
		errors.Is(err, ErrFrameLength), errors.Is(err, ErrUnmaskedFrame),
		errors.Is(err, ErrUnexpectedFrame):
		c.metrics.IncrementInvalidMessages()
		c.sendClose(StatusProtocolError, "protocol error")
	default:
		c.metrics.IncrementReadErrors()
		c.logger.Debug("ws: read failed: %v", err)
	}
}

// writePump 写泵：关闭帧 > 控制帧 > 数据消息；
// 心跳开启时定期发送 Ping。关闭帧写出后写泵即退出。
func (c *channel) writePump() {
	defer c.writeWG.Done()

	var tick <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		// 关闭帧最优先
		select {
		case cf := <-c.closeCh:
			c.finishClose(cf)
			return
		default:
		}

		select {
		case cf := <-c.closeCh:
			c.finishClose(cf)
			return
		case cf := <-c.controlCh:
			if err := c.writeControl(cf); err != nil {
				c.writeFailed(err)
				return
			}
		case m := <-c.sender.queue:
			if err := c.writeMessage(m); err != nil {
				if !errors.Is(err, errWriteStopped) {
					c.writeFailed(err)
				}
				return
			}
			c.metrics.IncrementMessagesSent(m.kindLabel())
		case <-tick:
			if err := c.writeControl(controlFrame{opcode: OpcodePing}); err != nil {
				c.writeFailed(err)
				return
			}
		case <-c.closed:
			// 停机：冲刷可能在队的关闭帧
			select {
			case cf := <-c.closeCh:
				c.finishClose(cf)
			default:
			}
			return
		}
	}
}

// writeMessage 把一条出站消息成帧写出。
// 急切载荷单帧发送；流式载荷逐块成帧，块间穿插控制帧，
// 通道关闭即落定结束帧。
func (c *channel) writeMessage(m *Message) error {
	if !m.IsStream() {
		return c.writeFrame(&Header{Fin: true, Opcode: m.opcode, Length: int64(len(m.payload))}, m.payload)
	}

	op := m.opcode
	var pending []byte
	hasPending := false
	for {
		select {
		case chunk, ok := <-m.stream:
			if !ok {
				if !hasPending {
					pending = nil
				}
				return c.writeFrame(&Header{Fin: true, Opcode: op, Length: int64(len(pending))}, pending)
			}
			if hasPending {
				if err := c.writeFrame(&Header{Fin: false, Opcode: op, Length: int64(len(pending))}, pending); err != nil {
					return err
				}
				op = OpcodeContinuation
				if err := c.interleaveControl(); err != nil {
					return err
				}
			}
			pending = chunk
			hasPending = true
		case <-c.closed:
			return errWriteStopped
		}
	}
}

// interleaveControl 数据帧间隙处理积压的控制帧，关闭请求就地终止整条流
func (c *channel) interleaveControl() error {
	for {
		select {
		case cf := <-c.closeCh:
			c.finishClose(cf)
			return errWriteStopped
		case cf := <-c.controlCh:
			if err := c.writeControl(cf); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// finishClose 写出关闭帧并给对端留一个回应窗口，
// 读泵在窗口内收到回应或超时后走统一收尾
func (c *channel) finishClose(cf controlFrame) {
	if err := c.writeControl(cf); err != nil {
		c.writeFailed(err)
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
}

// writeControl 写出单个控制帧
func (c *channel) writeControl(cf controlFrame) error {
	return c.writeFrame(&Header{Fin: true, Opcode: cf.opcode, Length: int64(len(cf.payload))}, cf.payload)
}

// writeFrame 服务端出帧永不设掩码。
// 帧头与负载先进写缓冲，帧尾一次冲刷，小帧不会拆成两次系统调用。
func (c *channel) writeFrame(h *Header, payload []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	n := encodeHeader(c.headerBuf[:], h)
	if _, err := c.bw.Write(c.headerBuf[:n]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.bw.Write(payload); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

// writeFailed 写泵出错收尾：关底层连接解除读泵阻塞
func (c *channel) writeFailed(err error) {
	c.metrics.IncrementWriteErrors()
	c.logger.Debug("ws: write failed: %v", err)
	c.stop()
	_ = c.conn.Close()
}

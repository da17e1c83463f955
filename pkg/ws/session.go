package ws

import "sync"

// session 一条物理连接的事件循环：消费读泵解码出的数据消息并分发路由；
// 多路复用连接还承担协议分类、SUBSCRIBE/UNSUBSCRIBE 控制命令与
// 逻辑连接集合的维护。conns 只由本循环读写。
type session struct {
	hub   *Hub
	ch    *channel
	proto Protocol
	conns []*Conn // conns[0] 为升级时的初始订阅

	closing      bool // 已发起关闭，只排干不再分发
	teardownOnce sync.Once
}

func newSession(hub *Hub, ch *channel, proto Protocol, initial *Conn) *session {
	return &session{
		hub:   hub,
		ch:    ch,
		proto: proto,
		conns: []*Conn{initial},
	}
}

func (s *session) sender() *Sender {
	return s.ch.sender
}

// run 事件循环主体，读泵关闭 incoming 后进入收尾。
// 每条消息分发完毕都排干剩余载荷，保证读泵永不卡在被弃的消息上。
func (s *session) run() {
	defer s.teardown()

	for d := range s.ch.incoming {
		if s.closing {
			d.Discard()
			continue
		}
		if s.proto == ProtocolMultiplexed {
			s.handleMultiplexed(d)
		} else {
			s.dispatchMessage(s.conns[0], d)
		}
		d.Discard()
	}
}

// dispatchMessage 分发 Message 事件。
// 无路由给出定论视作未找到，以策略违规状态关闭连接；
// 处理器返回 Failure 时以其状态关闭。
func (s *session) dispatchMessage(conn *Conn, d *Data) {
	evt := &Event{Kind: EventMessage, Conn: conn, Data: d}
	out, matched := s.hub.router.Dispatch(s.hub.ctx, evt)
	switch {
	case !matched:
		s.close(StatusPolicyViolation, "no matching route")
	case out.IsFailure():
		s.close(out.Status(), "")
	}
}

// handleMultiplexed 多路复用入站消息：归类后分别走
// 数据路由、控制命令或协议错误应答
func (s *session) handleMultiplexed(d *Data) {
	kind, conn, err := classifyData(d, s.lookup)
	if err != nil {
		// 传输中断，读泵随后关闭 incoming
		return
	}
	switch kind {
	case classData:
		s.dispatchMessage(conn, d)
	case classControl:
		s.handleControlMessage(d)
	case classNotSubscribed:
		s.hub.metrics.IncrementInvalidMessages()
		s.reply(replyDataNotSubscribed)
	case classTopicNotPresent:
		s.hub.metrics.IncrementInvalidMessages()
		s.reply(replyTopicNotPresent)
	}
}

// handleControlMessage 解析并执行控制命令，协议错误原样应答
func (s *session) handleControlMessage(d *Data) {
	act, reply, err := parseControl(d)
	if err != nil {
		return
	}
	if reply != "" {
		s.hub.metrics.IncrementInvalidMessages()
		s.reply(reply)
		return
	}
	if act.subscribe {
		s.subscribe(act.topic)
	} else {
		s.unsubscribe(act.topic)
	}
}

// subscribe 处理 SUBSCRIBE：对新主题跑一次 Join，
// 成功则注册代理并追加逻辑连接，失败把状态转述给客户端
func (s *session) subscribe(topic Topic) {
	if s.lookup(topic) != nil {
		s.reply(replyAlreadySubscribed)
		return
	}

	conn := s.conns[0].cloneWithTopic(topic)
	evt := &Event{Kind: EventJoin, Conn: conn}
	out, matched := s.hub.router.Dispatch(s.hub.ctx, evt)
	if !matched {
		// Join 无匹配时退回 Message 路由探测
		if !s.hub.router.hasMatch(EventMessage, topic.Path()) {
			s.reply(subscribeFailureReply(StatusPolicyViolation))
			return
		}
		out = Success()
	}

	switch {
	case out.IsSuccess():
		s.hub.broker.Subscribe(topic, s.proto, s.sender())
		s.conns = append(s.conns, conn)
	case out.IsFailure():
		s.reply(subscribeFailureReply(out.Status()))
	}
}

// unsubscribe 处理 UNSUBSCRIBE：摘除逻辑连接并注销代理，
// Leave 尽力而为。物理连接未关闭时拒绝移除最后一个逻辑连接。
func (s *session) unsubscribe(topic Topic) {
	conn := s.lookup(topic)
	if conn == nil {
		s.reply(replyNotSubscribed)
		return
	}
	if len(s.conns) == 1 {
		s.reply(replyLastTopic)
		return
	}

	s.remove(conn)
	s.hub.broker.Unsubscribe(topic, s.sender())
	s.dispatchLeave(conn, StatusOK)
}

// dispatchLeave Leave 事件只记录失败，从不回发客户端
func (s *session) dispatchLeave(conn *Conn, status Status) {
	evt := &Event{Kind: EventLeave, Conn: conn, Status: status}
	if out, matched := s.hub.router.Dispatch(s.hub.ctx, evt); matched && out.IsFailure() {
		s.hub.logger.Warn("ws: leave handler failed: topic=%s status=%s", conn.Topic(), out.Status())
	}
}

// lookup 按规范化键查找已订阅的逻辑连接
func (s *session) lookup(topic Topic) *Conn {
	for _, c := range s.conns {
		if c.Topic().Equal(topic) {
			return c
		}
	}
	return nil
}

// remove 从订阅集中摘除逻辑连接
func (s *session) remove(conn *Conn) {
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// reply 协议层应答直接入队；队列已满说明连接在慢速退化路径上，丢弃并记录
func (s *session) reply(text string) {
	if err := s.sender().TrySend(NewTextMessage(text)); err != nil {
		s.hub.logger.Debug("ws: dropping protocol reply: %v", err)
	}
}

// close 发起关闭握手并进入排干模式
func (s *session) close(status Status, reason string) {
	s.closing = true
	s.ch.sendClose(status, reason)
}

// teardown 收尾，保证恰好执行一次且每条退出路径都会到达：
// 先注销全部订阅，再对每个尚存的逻辑连接补发 Leave（携带规范化的
// 对端关闭状态），然后摘除注册、关停传输层。
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		s.hub.broker.UnsubscribeAll(s.sender())
		status := s.ch.peerStatus()
		for _, conn := range s.conns {
			s.dispatchLeave(conn, status)
		}
		s.hub.pool.remove(s)
		s.ch.shutdown()
	})
}

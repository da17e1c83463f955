package ws

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()

	// 消息指标
	IncrementMessagesReceived(msgType string)
	IncrementMessagesSent(msgType string)
	IncrementDroppedMessages()
	IncrementInvalidMessages()

	// 订阅指标
	SetTopicCount(count int)
	SetSubscriberCount(topic string, count int)

	// 错误指标
	IncrementReadErrors()
	IncrementWriteErrors()
	IncrementHandlerPanics()

	// 中继指标
	IncrementRelayPublished()
	IncrementRelayReceived()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) IncrementConnections()                       {}
func (m *NoopMetrics) DecrementConnections()                       {}
func (m *NoopMetrics) IncrementMessagesReceived(msgType string)    {}
func (m *NoopMetrics) IncrementMessagesSent(msgType string)        {}
func (m *NoopMetrics) IncrementDroppedMessages()                   {}
func (m *NoopMetrics) IncrementInvalidMessages()                   {}
func (m *NoopMetrics) SetTopicCount(count int)                     {}
func (m *NoopMetrics) SetSubscriberCount(topic string, count int)  {}
func (m *NoopMetrics) IncrementReadErrors()                        {}
func (m *NoopMetrics) IncrementWriteErrors()                       {}
func (m *NoopMetrics) IncrementHandlerPanics()                     {}
func (m *NoopMetrics) IncrementRelayPublished()                    {}
func (m *NoopMetrics) IncrementRelayReceived()                     {}

package ws

// Message 出站消息。
// 载荷二选一：eager（payload 一次就绪，可安全扇出给多个订阅者）
// 或 stream（chunk 通道逐块到达，通道关闭即消息结束，仅限单连接发送）。
type Message struct {
	opcode  Opcode
	payload []byte
	stream  <-chan []byte
}

// NewTextMessage 构造文本消息
func NewTextMessage(s string) *Message {
	return &Message{opcode: OpcodeText, payload: []byte(s)}
}

// NewBinaryMessage 构造二进制消息
func NewBinaryMessage(b []byte) *Message {
	return &Message{opcode: OpcodeBinary, payload: b}
}

// NewStreamMessage 构造流式消息，写泵逐块成帧，通道关闭时落定结束帧。
// 流式消息不可用于 Publish 扇出。
func NewStreamMessage(binary bool, ch <-chan []byte) *Message {
	op := OpcodeText
	if binary {
		op = OpcodeBinary
	}
	return &Message{opcode: op, stream: ch}
}

// IsBinary 消息是否为二进制类型
func (m *Message) IsBinary() bool {
	return m.opcode == OpcodeBinary
}

// IsStream 载荷是否为流式
func (m *Message) IsStream() bool {
	return m.stream != nil
}

// Payload 返回急切载荷；流式消息返回 nil
func (m *Message) Payload() []byte {
	return m.payload
}

// kindLabel 监控指标用的消息类型标签
func (m *Message) kindLabel() string {
	if m.IsBinary() {
		return "binary"
	}
	return "text"
}

// withPrefix 返回带前缀的新消息，用于多路复用扇出时拼接主题头。
// 仅对急切载荷有意义，原消息不被修改。
func (m *Message) withPrefix(prefix []byte) *Message {
	p := make([]byte, 0, len(prefix)+len(m.payload))
	p = append(p, prefix...)
	p = append(p, m.payload...)
	return &Message{opcode: m.opcode, payload: p}
}

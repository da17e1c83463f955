package ws

// EventKind 连接生命周期事件类型
type EventKind uint8

const (
	// EventJoin 连接建立（升级请求到达时触发，决定是否接受连接）
	EventJoin EventKind = iota
	// EventMessage 收到应用消息
	EventMessage
	// EventLeave 连接关闭（显式 UNSUBSCRIBE 或物理连接断开）
	EventLeave
)

// String 返回事件类型名称
func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventMessage:
		return "message"
	case EventLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Event 分发给处理器的事件上下文
type Event struct {
	// Kind 事件类型
	Kind EventKind
	// Conn 触发事件的逻辑连接
	Conn *Conn
	// Data 消息体，仅 EventMessage 非空；只能被消费一次
	Data *Data
	// Status 关闭状态码，仅 EventLeave 有意义（已按规范化表处理）
	Status Status
	// Params 路由匹配提取的路径参数
	Params Params
}

// Param 获取路径参数，不存在时返回空字符串
func (e *Event) Param(name string) string {
	return e.Params[name]
}

// Handler 事件处理器
// 返回 Success 表示事件已处理；Failure 携带状态码终止事件；
// Forward 将（可能被替换的）消息体交给下一条匹配路由
type Handler func(*Event) Outcome

package ws

import "errors"

// 错误定义
var (
	// 连接相关错误
	ErrHubClosed          = errors.New("ws: hub closed")
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrConnClosed         = errors.New("ws: connection closed")
	ErrQueueFull          = errors.New("ws: send queue full")

	// 帧相关错误
	ErrReservedBits      = errors.New("ws: non-zero reserved bits")
	ErrInvalidOpcode     = errors.New("ws: invalid opcode")
	ErrFragmentedControl = errors.New("ws: fragmented control frame")
	ErrControlTooBig     = errors.New("ws: control frame payload exceeds 125 bytes")
	ErrFrameLength       = errors.New("ws: invalid frame length")
	ErrUnmaskedFrame     = errors.New("ws: client frame not masked")
	ErrUnexpectedFrame   = errors.New("ws: unexpected frame sequence")
	ErrMessageTooBig     = errors.New("ws: message exceeds size limit")

	// 路由相关错误
	ErrRouterFinalized = errors.New("ws: router already finalized")
	ErrNotFinalized    = errors.New("ws: router not finalized")
	ErrRouteCollision  = errors.New("ws: route collision")
	ErrInvalidPattern  = errors.New("ws: invalid route pattern")

	// 主题相关错误
	ErrInvalidTopic  = errors.New("ws: invalid topic uri")
	ErrEagerRequired = errors.New("ws: publish requires eager payload")

	// 配置相关错误
	ErrInvalidConfig = errors.New("ws: invalid config")

	// 中继相关错误
	ErrRelayClosed = errors.New("ws: relay closed")
)

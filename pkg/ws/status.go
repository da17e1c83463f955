package ws

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Status WebSocket 关闭状态码 (RFC 6455 §7.4)
type Status uint16

const (
	// StatusOK 正常关闭
	StatusOK Status = 1000
	// StatusGoingAway 端点即将离线
	StatusGoingAway Status = 1001
	// StatusProtocolError 协议错误
	StatusProtocolError Status = 1002
	// StatusUnsupportedData 收到无法处理的数据类型
	StatusUnsupportedData Status = 1003
	// StatusInvalidPayload 负载与消息类型不一致
	StatusInvalidPayload Status = 1007
	// StatusPolicyViolation 违反策略
	StatusPolicyViolation Status = 1008
	// StatusMessageTooBig 消息过大
	StatusMessageTooBig Status = 1009
	// StatusExtensionRequired 缺少必需的扩展
	StatusExtensionRequired Status = 1010
	// StatusInternalError 服务端内部错误
	StatusInternalError Status = 1011
)

// Code 返回数值状态码
func (s Status) Code() uint16 {
	return uint16(s)
}

// Reason 返回状态码的简短描述
func (s Status) Reason() string {
	switch s {
	case StatusOK:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusInvalidPayload:
		return "invalid payload"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusExtensionRequired:
		return "extension required"
	case StatusInternalError:
		return "internal error"
	default:
		return "unknown"
	}
}

// String 形如 "1008 policy violation"
func (s Status) String() string {
	return fmt.Sprintf("%d %s", uint16(s), s.Reason())
}

// normalize 按规范化表将对端发来的关闭状态映射为回应状态，
// Leave 处理器看到的也是规范化后的值：
//
//	1000 / 1001 / 1010 / 3000–4999       -> 1000
//	1003 / 1007 / 1008 / 1009 / 1011     -> 原样透传
//	其余（含无法解码）                      -> 1002
func (s Status) normalize() Status {
	switch {
	case s == StatusOK, s == StatusGoingAway, s == StatusExtensionRequired:
		return StatusOK
	case s >= 3000 && s <= 4999:
		return StatusOK
	case s == StatusUnsupportedData, s == StatusInvalidPayload, s == StatusPolicyViolation,
		s == StatusMessageTooBig, s == StatusInternalError:
		return s
	default:
		return StatusProtocolError
	}
}

// decodeStatus 解析关闭帧负载，返回状态码与原因文本。
// 空负载视为正常关闭；无法解码的负载归为协议错误。
func decodeStatus(payload []byte) (Status, string) {
	if len(payload) == 0 {
		return StatusOK, ""
	}
	if len(payload) == 1 {
		return StatusProtocolError, ""
	}
	code := Status(binary.BigEndian.Uint16(payload))
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return StatusProtocolError, ""
	}
	return code, string(reason)
}

// encodeStatus 生成关闭帧负载。原因文本截断到控制帧上限以内，
// 截断点回退到字符边界，避免把多字节字符切成非法 UTF-8 (RFC 6455 §5.5.1)。
func encodeStatus(s Status, reason string) []byte {
	if len(reason) > maxControlPayload-2 {
		cut := maxControlPayload - 2
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(s))
	copy(buf[2:], reason)
	return buf
}

// httpStatusFor 升级完成前的 Join 失败需要以 HTTP 状态答复
func httpStatusFor(s Status) int {
	switch s {
	case StatusPolicyViolation:
		return http.StatusForbidden
	case StatusMessageTooBig:
		return http.StatusRequestEntityTooLarge
	case StatusInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

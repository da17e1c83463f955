package ws

import (
	"encoding/binary"
	"math"
)

// Opcode WebSocket 帧操作码 (RFC 6455 §5.2)
type Opcode byte

const (
	// OpcodeContinuation 延续帧，延续前一条未完成的消息
	OpcodeContinuation Opcode = 0x0
	// OpcodeText 文本帧
	OpcodeText Opcode = 0x1
	// OpcodeBinary 二进制帧
	OpcodeBinary Opcode = 0x2
	// OpcodeClose 关闭帧
	OpcodeClose Opcode = 0x8
	// OpcodePing Ping 帧
	OpcodePing Opcode = 0x9
	// OpcodePong Pong 帧
	OpcodePong Opcode = 0xA
)

// IsControl 是否为控制帧（Close/Ping/Pong）
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// IsData 是否为数据帧（Text/Binary/Continuation）
func (o Opcode) IsData() bool {
	return o == OpcodeContinuation || o == OpcodeText || o == OpcodeBinary
}

// IsValid 是否为协议定义的操作码
func (o Opcode) IsValid() bool {
	switch o {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// String 返回操作码名称
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return "invalid"
	}
}

const (
	finBit  = 0x80
	rsvMask = 0x70
	maskBit = 0x80
	lenMask = 0x7F

	// maxHeaderSize 帧头最大字节数：2 基础 + 8 扩展长度 + 4 掩码
	maxHeaderSize = 14
	// maxControlPayload 控制帧负载上限 (RFC 6455 §5.5)
	maxControlPayload = 125
)

// Header 单个物理帧的帧头，解码时逐帧创建，不做持久化
type Header struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Length  int64
}

// decodeHeader 从 buf 解析一个完整帧头。
// 字节不足时返回 (nil, 0, nil)，调用方补充输入后重试；
// 解析成功返回帧头和消耗的字节数。
func decodeHeader(buf []byte) (*Header, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}

	b0, b1 := buf[0], buf[1]

	if b0&rsvMask != 0 {
		return nil, 0, ErrReservedBits
	}

	op := Opcode(b0 & 0x0F)
	if !op.IsValid() {
		return nil, 0, ErrInvalidOpcode
	}

	fin := b0&finBit != 0
	code := b1 & lenMask

	// 控制帧不得分片且负载 ≤125 (RFC 6455 §5.5)
	if op.IsControl() {
		if !fin {
			return nil, 0, ErrFragmentedControl
		}
		if code > maxControlPayload {
			return nil, 0, ErrControlTooBig
		}
	}

	n := 2
	length := int64(code)
	switch code {
	case 126:
		if len(buf) < n+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(buf[n:]))
		n += 2
	case 127:
		if len(buf) < n+8 {
			return nil, 0, nil
		}
		v := binary.BigEndian.Uint64(buf[n:])
		if v > math.MaxInt64 {
			return nil, 0, ErrFrameLength
		}
		length = int64(v)
		n += 8
	}

	h := &Header{
		Fin:    fin,
		Opcode: op,
		Length: length,
	}

	if b1&maskBit != 0 {
		if len(buf) < n+4 {
			return nil, 0, nil
		}
		h.Masked = true
		copy(h.MaskKey[:], buf[n:n+4])
		n += 4
	}

	return h, n, nil
}

// headerSize 返回帧头编码后的字节数
func headerSize(h *Header) int {
	n := 2
	switch {
	case h.Length > math.MaxUint16:
		n += 8
	case h.Length > maxControlPayload:
		n += 2
	}
	if h.Masked {
		n += 4
	}
	return n
}

// encodeHeader 将帧头序列化到 dst（容量至少 maxHeaderSize），返回写入字节数。
// 负载由调用方单独写出；服务端发出的帧永远不设掩码。
func encodeHeader(dst []byte, h *Header) int {
	b0 := byte(h.Opcode)
	if h.Fin {
		b0 |= finBit
	}
	dst[0] = b0

	n := 2
	switch {
	case h.Length > math.MaxUint16:
		dst[1] = 127
		binary.BigEndian.PutUint64(dst[n:], uint64(h.Length))
		n += 8
	case h.Length > maxControlPayload:
		dst[1] = 126
		binary.BigEndian.PutUint16(dst[n:], uint16(h.Length))
		n += 2
	default:
		dst[1] = byte(h.Length)
	}

	if h.Masked {
		dst[1] |= maskBit
		copy(dst[n:], h.MaskKey[:])
		n += 4
	}

	return n
}

// maskBytes 以 4 字节轮转方式对 b 原地异或（解掩码），cursor 为本帧内
// 已处理的负载偏移，返回更新后的偏移。同一帧分多次读取时由调用方保持游标。
func maskBytes(key [4]byte, cursor int, b []byte) int {
	for i := range b {
		b[i] ^= key[(cursor+i)&3]
	}
	return cursor + len(b)
}

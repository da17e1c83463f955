package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeHeaderBasic 测试基础帧头解码
func TestDecodeHeaderBasic(t *testing.T) {
	// FIN + text，掩码，负载 5 字节
	buf := []byte{0x81, 0x85, 0x01, 0x02, 0x03, 0x04}

	h, n, err := decodeHeader(buf)
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, 6, n)
	assert.True(t, h.Fin)
	assert.Equal(t, OpcodeText, h.Opcode)
	assert.True(t, h.Masked)
	assert.Equal(t, [4]byte{0x01, 0x02, 0x03, 0x04}, h.MaskKey)
	assert.Equal(t, int64(5), h.Length)
}

// TestDecodeHeaderIncomplete 测试字节不足时返回 (nil, 0, nil) 等待补充输入
func TestDecodeHeaderIncomplete(t *testing.T) {
	cases := [][]byte{
		{},                             // 空输入
		{0x81},                         // 基础头不完整
		{0x81, 0xFE},                   // 16 位扩展长度缺失
		{0x81, 0xFE, 0x01},             // 16 位扩展长度只到一半
		{0x81, 0xFF, 0, 0, 0, 0},       // 64 位扩展长度缺失
		{0x81, 0x85, 0x01, 0x02},       // 掩码键不完整
		{0x81, 0xFE, 0x01, 0x00, 0xAA}, // 扩展长度完整但掩码键缺失
	}

	for _, buf := range cases {
		h, n, err := decodeHeader(buf)
		assert.NoError(t, err)
		assert.Nil(t, h, "buf=%v", buf)
		assert.Zero(t, n)
	}
}

// TestDecodeHeaderExtendedLength 测试 16/64 位扩展长度
func TestDecodeHeaderExtendedLength(t *testing.T) {
	// 126 → 16 位长度
	buf := []byte{0x82, 126, 0x01, 0x00}
	h, n, err := decodeHeader(buf)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(256), h.Length)
	assert.False(t, h.Masked)

	// 127 → 64 位长度
	buf = []byte{0x82, 127, 0, 0, 0, 0, 0, 0x01, 0x00, 0x00}
	h, n, err = decodeHeader(buf)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, 10, n)
	assert.Equal(t, int64(65536), h.Length)
}

// TestDecodeHeaderRejects 测试协议违规帧头
func TestDecodeHeaderRejects(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{
			name: "reserved bits set",
			buf:  []byte{0xC1, 0x00},
			want: ErrReservedBits,
		},
		{
			name: "unknown opcode",
			buf:  []byte{0x83, 0x00},
			want: ErrInvalidOpcode,
		},
		{
			name: "fragmented control",
			buf:  []byte{0x08, 0x00},
			want: ErrFragmentedControl,
		},
		{
			name: "control payload over 125",
			buf:  []byte{0x89, 126, 0x00, 0x80},
			want: ErrControlTooBig,
		},
		{
			name: "64bit length overflow",
			buf:  []byte{0x82, 127, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			want: ErrFrameLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, n, err := decodeHeader(tt.buf)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, h)
			assert.Zero(t, n)
		})
	}
}

// TestEncodeHeaderRoundTrip 测试帧头编码后可被解码还原，覆盖三种长度编码的边界
func TestEncodeHeaderRoundTrip(t *testing.T) {
	lengths := []int64{0, 1, 125, 126, 65535, 65536, 1 << 20}

	var dst [maxHeaderSize]byte
	for _, length := range lengths {
		in := &Header{Fin: true, Opcode: OpcodeBinary, Length: length}
		n := encodeHeader(dst[:], in)
		assert.Equal(t, headerSize(in), n, "length=%d", length)

		out, consumed, err := decodeHeader(dst[:n])
		require.NoError(t, err, "length=%d", length)
		require.NotNil(t, out, "length=%d", length)
		assert.Equal(t, n, consumed)
		assert.Equal(t, in.Fin, out.Fin)
		assert.Equal(t, in.Opcode, out.Opcode)
		assert.Equal(t, in.Length, out.Length)
		assert.False(t, out.Masked)
	}
}

// TestEncodeHeaderMasked 测试掩码帧头编码
func TestEncodeHeaderMasked(t *testing.T) {
	in := &Header{Fin: true, Opcode: OpcodeText, Masked: true, MaskKey: [4]byte{0xA, 0xB, 0xC, 0xD}, Length: 7}

	var dst [maxHeaderSize]byte
	n := encodeHeader(dst[:], in)
	assert.Equal(t, 6, n)

	out, consumed, err := decodeHeader(dst[:n])
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, n, consumed)
	assert.True(t, out.Masked)
	assert.Equal(t, in.MaskKey, out.MaskKey)
}

// TestMaskBytesCursor 测试分块解掩码与一次性解掩码结果一致
func TestMaskBytesCursor(t *testing.T) {
	key := [4]byte{0x37, 0xFA, 0x21, 0x3D}
	payload := []byte("Hello, WebSocket fragmentation!")

	whole := make([]byte, len(payload))
	copy(whole, payload)
	maskBytes(key, 0, whole)

	// 按 1/3/7 字节的不规则边界分块
	chunked := make([]byte, len(payload))
	copy(chunked, payload)
	cursor := 0
	for i := 0; i < len(chunked); {
		n := 1 + (i*3+7)%7
		if i+n > len(chunked) {
			n = len(chunked) - i
		}
		cursor = maskBytes(key, cursor, chunked[i:i+n])
		i += n
	}

	assert.Equal(t, whole, chunked)
	assert.Equal(t, len(payload), cursor)

	// 再次异或还原明文
	maskBytes(key, 0, whole)
	assert.Equal(t, payload, whole)
}

// TestOpcodePredicates 测试操作码分类
func TestOpcodePredicates(t *testing.T) {
	assert.True(t, OpcodeClose.IsControl())
	assert.True(t, OpcodePing.IsControl())
	assert.True(t, OpcodePong.IsControl())
	assert.False(t, OpcodeText.IsControl())
	assert.False(t, OpcodeContinuation.IsControl())

	assert.True(t, OpcodeText.IsData())
	assert.True(t, OpcodeBinary.IsData())
	assert.True(t, OpcodeContinuation.IsData())
	assert.False(t, OpcodeClose.IsData())

	assert.True(t, OpcodeText.IsValid())
	assert.False(t, Opcode(0x3).IsValid())
	assert.False(t, Opcode(0xB).IsValid())

	assert.Equal(t, "text", OpcodeText.String())
	assert.Equal(t, "close", OpcodeClose.String())
	assert.Equal(t, "invalid", Opcode(0x7).String())
}

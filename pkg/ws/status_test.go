package ws

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// TestStatusNormalize 测试关闭状态规范化表
func TestStatusNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Status
		want Status
	}{
		{"normal closure", StatusOK, StatusOK},
		{"going away", StatusGoingAway, StatusOK},
		{"extension required", StatusExtensionRequired, StatusOK},
		{"private range low", Status(3000), StatusOK},
		{"private range high", Status(4999), StatusOK},
		{"unsupported data passes through", StatusUnsupportedData, StatusUnsupportedData},
		{"invalid payload passes through", StatusInvalidPayload, StatusInvalidPayload},
		{"policy violation passes through", StatusPolicyViolation, StatusPolicyViolation},
		{"message too big passes through", StatusMessageTooBig, StatusMessageTooBig},
		{"internal error passes through", StatusInternalError, StatusInternalError},
		{"protocol error", StatusProtocolError, StatusProtocolError},
		{"reserved 1005", Status(1005), StatusProtocolError},
		{"below private range", Status(2999), StatusProtocolError},
		{"above private range", Status(5000), StatusProtocolError},
		{"unassigned 1004", Status(1004), StatusProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalize())
		})
	}
}

// TestDecodeStatus 测试关闭帧负载解析
func TestDecodeStatus(t *testing.T) {
	// 空负载视为正常关闭
	s, reason := decodeStatus(nil)
	assert.Equal(t, StatusOK, s)
	assert.Empty(t, reason)

	// 单字节负载无法携带状态码
	s, _ = decodeStatus([]byte{0x03})
	assert.Equal(t, StatusProtocolError, s)

	// 状态码 + 原因
	s, reason = decodeStatus([]byte{0x03, 0xE9, 'b', 'y', 'e'})
	assert.Equal(t, Status(1001), s)
	assert.Equal(t, "bye", reason)

	// 原因不是合法 UTF-8
	s, reason = decodeStatus([]byte{0x03, 0xE8, 0xFF, 0xFE})
	assert.Equal(t, StatusProtocolError, s)
	assert.Empty(t, reason)
}

// TestEncodeStatus 测试关闭帧负载编码，原因超长时截断到控制帧上限内
func TestEncodeStatus(t *testing.T) {
	payload := encodeStatus(StatusPolicyViolation, "denied")
	s, reason := decodeStatus(payload)
	assert.Equal(t, StatusPolicyViolation, s)
	assert.Equal(t, "denied", reason)

	long := strings.Repeat("x", 300)
	payload = encodeStatus(StatusOK, long)
	assert.LessOrEqual(t, len(payload), maxControlPayload)
	s, reason = decodeStatus(payload)
	assert.Equal(t, StatusOK, s)
	assert.Equal(t, long[:maxControlPayload-2], reason)
}

// TestEncodeStatusMultibyteTruncation 测试截断点落在多字节字符中间时回退到字符边界
func TestEncodeStatusMultibyteTruncation(t *testing.T) {
	// "界" 占 3 字节，41 个共 123 字节恰好填满原因上限
	exact := strings.Repeat("界", 41)
	payload := encodeStatus(StatusOK, exact)
	assert.Equal(t, maxControlPayload, len(payload))
	s, reason := decodeStatus(payload)
	assert.Equal(t, StatusOK, s)
	assert.Equal(t, exact, reason)

	// 前缀 2 字节使上限落在字符中间，截断后仍须是合法 UTF-8
	payload = encodeStatus(StatusOK, "xy"+exact)
	assert.Less(t, len(payload), maxControlPayload)
	assert.True(t, utf8.Valid(payload[2:]))
	s, reason = decodeStatus(payload)
	assert.Equal(t, StatusOK, s)
	assert.Equal(t, "xy"+strings.Repeat("界", 40), reason)
}

// TestHTTPStatusFor 测试升级前 Join 失败的状态码映射
func TestHTTPStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, httpStatusFor(StatusPolicyViolation))
	assert.Equal(t, http.StatusRequestEntityTooLarge, httpStatusFor(StatusMessageTooBig))
	assert.Equal(t, http.StatusInternalServerError, httpStatusFor(StatusInternalError))
	assert.Equal(t, http.StatusBadRequest, httpStatusFor(StatusProtocolError))
	assert.Equal(t, http.StatusBadRequest, httpStatusFor(StatusOK))
}

// TestStatusString 测试状态码文本
func TestStatusString(t *testing.T) {
	assert.Equal(t, "1008 policy violation", StatusPolicyViolation.String())
	assert.Equal(t, "1000 normal closure", StatusOK.String())
	assert.Equal(t, "4000 unknown", Status(4000).String())
	assert.Equal(t, uint16(1009), StatusMessageTooBig.Code())
}

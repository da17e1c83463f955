package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// websocketGUID RFC 6455 §1.3 固定 GUID，计算 Sec-WebSocket-Accept 用
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// HandshakeError 握手校验失败，携带应答的 HTTP 状态码
type HandshakeError struct {
	Status int
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("ws: handshake rejected: %d %s", e.Status, e.Reason)
}

// validateUpgrade 校验 WebSocket 升级请求 (RFC 6455 §4.2.1)。
// 返回 Sec-WebSocket-Accept 值与客户端是否请求 rocket-multiplex 子协议。
func validateUpgrade(r *http.Request, checkOrigin func(*http.Request) bool) (accept string, multiplex bool, herr *HandshakeError) {
	if r.Method != http.MethodGet {
		return "", false, &HandshakeError{Status: http.StatusMethodNotAllowed, Reason: "method must be GET"}
	}
	if !headerContainsToken(r.Header, "Connection", "upgrade") {
		return "", false, &HandshakeError{Status: http.StatusBadRequest, Reason: "missing connection upgrade header"}
	}
	if !headerContainsToken(r.Header, "Upgrade", "websocket") {
		return "", false, &HandshakeError{Status: http.StatusBadRequest, Reason: "missing upgrade websocket header"}
	}
	if !headerContainsToken(r.Header, "Sec-Websocket-Version", "13") {
		return "", false, &HandshakeError{Status: http.StatusBadRequest, Reason: "unsupported websocket version"}
	}

	key := r.Header.Get("Sec-Websocket-Key")
	if key == "" {
		return "", false, &HandshakeError{Status: http.StatusBadRequest, Reason: "missing sec-websocket-key header"}
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 16 {
		return "", false, &HandshakeError{Status: http.StatusBadRequest, Reason: "invalid sec-websocket-key header"}
	}

	if !checkOrigin(r) {
		return "", false, &HandshakeError{Status: http.StatusForbidden, Reason: "origin not allowed"}
	}

	return acceptKey(key), headerContainsToken(r.Header, "Sec-Websocket-Protocol", multiplexProtocol), nil
}

// acceptKey 计算握手应答键：SHA-1(key + GUID) 的 base64
func acceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerContainsToken 按逗号分隔的 token 列表做不区分大小写匹配，
// 同名头的多个值逐一检查
func headerContainsToken(header http.Header, name, token string) bool {
	for _, value := range header.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// writeUpgradeResponse 在劫持到的连接上写出 101 应答。
// 协商成功 rocket-multiplex 时回显子协议头。
func writeUpgradeResponse(w io.Writer, accept string, multiplex bool) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(accept)
	b.WriteString("\r\n")
	if multiplex {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(multiplexProtocol)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

package ws

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// connIDCounter 连接 ID 计数器
var connIDCounter atomic.Uint64

// generateID 生成唯一 ID
func generateID(prefix string, counter *atomic.Uint64) string {
	// 使用时间戳 + 计数器 + 随机数
	timestamp := time.Now().UnixNano()
	count := counter.Add(1)

	// 生成 4 字节随机数
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// 降级到纯计数器
		return fmt.Sprintf("%s_%d_%d", prefix, timestamp, count)
	}

	return fmt.Sprintf("%s_%d_%d_%s", prefix, timestamp, count, hex.EncodeToString(b))
}

// generateConnID 生成连接 ID
func generateConnID() string {
	return generateID("conn", &connIDCounter)
}

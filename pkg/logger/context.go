package logger

import "context"

// contextKey 日志上下文键类型（私有类型避免与其他包冲突）
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	uidKey     contextKey = "uid"
)

// WithTraceID 将 TraceID 写入 context
// *Context 日志方法与 WithContext 会自动提取该值
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithUID 将用户 ID 写入 context
func WithUID(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}

// TraceIDFromContext 从 context 提取 TraceID（不存在时返回空字符串）
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// UIDFromContext 从 context 提取用户 ID（不存在时返回 0）
func UIDFromContext(ctx context.Context) int64 {
	if uid, ok := ctx.Value(uidKey).(int64); ok {
		return uid
	}
	return 0
}

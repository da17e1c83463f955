package ws

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Params 路由模式捕获的参数
type Params map[string]string

// outcomeKind 处理器结果类别
type outcomeKind uint8

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailure
	outcomeForward
)

// Outcome 事件处理器的返回结果。
// Success 表示事件已处理完毕；Failure 携带错误状态
// （Join 拒绝升级，Message 关闭连接，Leave 仅记录日志）；
// Forward 将消息交给下一条匹配路由继续处理。
type Outcome struct {
	kind    outcomeKind
	status  Status
	forward *Data
}

// Success 事件处理完毕，停止匹配
func Success() Outcome {
	return Outcome{kind: outcomeSuccess}
}

// Failure 以给定状态终止事件
func Failure(status Status) Outcome {
	return Outcome{kind: outcomeFailure, status: status}
}

// Forward 交给下一条匹配路由，d 为传递下去的载荷（nil 表示原样传递）
func Forward(d *Data) Outcome {
	return Outcome{kind: outcomeForward, forward: d}
}

// IsSuccess 是否处理成功
func (o Outcome) IsSuccess() bool {
	return o.kind == outcomeSuccess
}

// IsFailure 是否以失败终止
func (o Outcome) IsFailure() bool {
	return o.kind == outcomeFailure
}

// IsForward 是否继续向后匹配
func (o Outcome) IsForward() bool {
	return o.kind == outcomeForward
}

// Status 失败结果携带的状态
func (o Outcome) Status() Status {
	return o.status
}

// segKind 路由段类别
type segKind uint8

const (
	segStatic segKind = iota
	segParam
	segWildcard
)

// segment 路由模式的一段
type segment struct {
	kind  segKind
	value string // 静态文本或参数名
}

// route 一条已注册路由
type route struct {
	kind     EventKind
	pattern  string
	segments []segment
	rank     int
	order    int // 注册顺序，同 rank 时生效
	handler  Handler
	name     string
}

// RouteOption 路由注册选项
type RouteOption func(*route)

// WithRank 覆盖默认优先级，数值小者先匹配
func WithRank(rank int) RouteOption {
	return func(r *route) {
		r.rank = rank
	}
}

// WithName 设置路由名，用于日志与冲突报告
func WithName(name string) RouteOption {
	return func(r *route) {
		r.name = name
	}
}

// Router 事件路由器。
// 按事件类别维护有序路由表；Finalize 之后路由表只读，
// 分发路径无锁。注册阶段与服务阶段不允许交叠。
type Router struct {
	routes    map[EventKind][]*route
	order     int
	finalized atomic.Bool
	logger    Logger
	metrics   Metrics
	tracing   bool
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{
		routes:  make(map[EventKind][]*route),
		logger:  &NopLogger{},
		metrics: &NoopMetrics{},
	}
}

// Handle 注册事件路由。
// pattern 以 / 开头，支持 :param 单段参数与 *rest 末段通配。
func (r *Router) Handle(kind EventKind, pattern string, h Handler, opts ...RouteOption) error {
	if r.finalized.Load() {
		return ErrRouterFinalized
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidPattern, pattern)
	}
	segs, err := parsePattern(pattern)
	if err != nil {
		return err
	}

	rt := &route{
		kind:     kind,
		pattern:  pattern,
		segments: segs,
		rank:     defaultRank(segs),
		order:    r.order,
		handler:  h,
		name:     pattern,
	}
	for _, opt := range opts {
		opt(rt)
	}
	r.order++
	r.routes[kind] = append(r.routes[kind], rt)
	return nil
}

// Finalize 固化路由表：按（rank，注册顺序）排序，
// 并对同 rank 且形状重叠的路由报冲突。返回的错误列出全部冲突对。
func (r *Router) Finalize() error {
	if r.finalized.Load() {
		return nil
	}

	var collisions []string
	for kind, routes := range r.routes {
		sort.SliceStable(routes, func(i, j int) bool {
			if routes[i].rank != routes[j].rank {
				return routes[i].rank < routes[j].rank
			}
			return routes[i].order < routes[j].order
		})
		for i := 0; i < len(routes); i++ {
			for j := i + 1; j < len(routes); j++ {
				if routes[i].rank != routes[j].rank {
					continue
				}
				if shapesOverlap(routes[i].segments, routes[j].segments) {
					collisions = append(collisions,
						fmt.Sprintf("%s %q / %q", kind, routes[i].name, routes[j].name))
				}
			}
		}
	}
	if len(collisions) > 0 {
		return fmt.Errorf("%w: %s", ErrRouteCollision, strings.Join(collisions, "; "))
	}

	r.finalized.Store(true)
	return nil
}

// Dispatch 分发事件：按序尝试匹配路由并执行处理器。
// 返回的 matched 为 false 表示没有路由给出定论
// （无匹配，或全部 Forward 后耗尽），由调用方决定 NotFound 语义。
func (r *Router) Dispatch(ctx context.Context, evt *Event) (Outcome, bool) {
	if !r.finalized.Load() {
		r.logger.Error("ws: dispatch before finalize: kind=%s topic=%s", evt.Kind, evt.Conn.Topic())
		return Failure(StatusInternalError), true
	}

	if r.tracing {
		_, span := startEventSpan(ctx, evt)
		out, matched := r.dispatch(evt)
		finishEventSpan(span, out, matched)
		return out, matched
	}
	return r.dispatch(evt)
}

// dispatch 按序尝试匹配并执行，Forward 链向后传递载荷
func (r *Router) dispatch(evt *Event) (Outcome, bool) {
	path := evt.Conn.Topic().Path()
	for _, rt := range r.routes[evt.Kind] {
		params, ok := rt.matches(path)
		if !ok {
			continue
		}
		evt.Params = params
		out := r.invoke(rt, evt)
		switch {
		case out.IsForward():
			if out.forward != nil {
				evt.Data = out.forward
			}
			continue
		default:
			return out, true
		}
	}
	return Outcome{}, false
}

// hasMatch 探测是否存在匹配路由但不执行处理器，
// Join 无匹配时回退探测 Message 路由用
func (r *Router) hasMatch(kind EventKind, path string) bool {
	for _, rt := range r.routes[kind] {
		if _, ok := rt.matches(path); ok {
			return true
		}
	}
	return false
}

// invoke 执行处理器并隔离 panic：崩溃的处理器转换为内部错误结果，
// 不允许展开到事件循环
func (r *Router) invoke(rt *route, evt *Event) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("ws: handler panic: route=%s kind=%s panic=%v", rt.name, evt.Kind, rec)
			r.metrics.IncrementHandlerPanics()
			out = Failure(StatusInternalError)
		}
	}()
	return rt.handler(evt)
}

// parsePattern 解析路由模式
func parsePattern(pattern string) ([]segment, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("%w: %q must begin with /", ErrInvalidPattern, pattern)
	}
	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		switch {
		case strings.HasPrefix(p, ":"):
			if len(p) == 1 {
				return nil, fmt.Errorf("%w: %q has unnamed param", ErrInvalidPattern, pattern)
			}
			segs = append(segs, segment{kind: segParam, value: p[1:]})
		case strings.HasPrefix(p, "*"):
			if len(p) == 1 {
				return nil, fmt.Errorf("%w: %q has unnamed wildcard", ErrInvalidPattern, pattern)
			}
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w: %q wildcard must be the final segment", ErrInvalidPattern, pattern)
			}
			segs = append(segs, segment{kind: segWildcard, value: p[1:]})
		default:
			segs = append(segs, segment{kind: segStatic, value: p})
		}
	}
	return segs, nil
}

// defaultRank 动态段越多优先级越低，通配符权重更重
func defaultRank(segs []segment) int {
	rank := 0
	for _, s := range segs {
		switch s.kind {
		case segParam:
			rank++
		case segWildcard:
			rank += 10
		}
	}
	return rank
}

// matches 判断路径是否命中本路由并提取参数
func (rt *route) matches(path string) (Params, bool) {
	parts := splitPath(path)
	var params Params
	for i, seg := range rt.segments {
		if seg.kind == segWildcard {
			if params == nil {
				params = make(Params, 1)
			}
			params[seg.value] = strings.Join(parts[i:], "/")
			return params, true
		}
		if i >= len(parts) {
			return nil, false
		}
		switch seg.kind {
		case segStatic:
			if parts[i] != seg.value {
				return nil, false
			}
		case segParam:
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(Params, 2)
			}
			params[seg.value] = parts[i]
		}
	}
	if len(parts) != len(rt.segments) {
		return nil, false
	}
	return params, true
}

// shapesOverlap 两个模式是否可能命中同一路径。
// 对齐比较：静态段须相等，任一侧为动态段即兼容；
// 通配符可匹配零或多段，吞掉对侧剩余部分。
func shapesOverlap(a, b []segment) bool {
	i := 0
	for i < len(a) && i < len(b) {
		sa, sb := a[i], b[i]
		if sa.kind == segWildcard || sb.kind == segWildcard {
			return true
		}
		if sa.kind == segStatic && sb.kind == segStatic && sa.value != sb.value {
			return false
		}
		i++
	}
	if i == len(a) && i == len(b) {
		return true
	}
	if i < len(a) && a[i].kind == segWildcard {
		return true
	}
	if i < len(b) && b[i].kind == segWildcard {
		return true
	}
	return false
}

// splitPath 按 / 切段，根路径返回空切片
func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

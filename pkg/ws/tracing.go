package ws

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const wsTracerName = "qu.ws"

// traceSpan 避免路由器直接依赖 otel 包名
type traceSpan = trace.Span

// startEventSpan 为一次事件分发开启 span
func startEventSpan(ctx context.Context, evt *Event) (context.Context, traceSpan) {
	ctx, span := otel.Tracer(wsTracerName).Start(ctx, "ws.dispatch."+evt.Kind.String(),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("ws.event", evt.Kind.String()),
		attribute.String("ws.topic", evt.Conn.Topic().Key()),
		attribute.String("ws.conn_id", evt.Conn.ID()),
		attribute.String("ws.protocol", evt.Conn.Protocol().String()),
	)
	return ctx, span
}

// finishEventSpan 记录分发结果并结束 span
func finishEventSpan(span traceSpan, out Outcome, matched bool) {
	defer span.End()

	if !matched {
		span.SetAttributes(attribute.Bool("ws.route_matched", false))
		span.SetStatus(codes.Error, "no matching route")
		return
	}
	span.SetAttributes(attribute.Bool("ws.route_matched", true))

	if out.IsFailure() {
		span.SetAttributes(attribute.Int("ws.close_status", int(out.Status().Code())))
		span.SetStatus(codes.Error, out.Status().String())
		return
	}
	span.SetStatus(codes.Ok, "")
}

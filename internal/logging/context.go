package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestIDKey struct{}
type channelIDKey struct{}

// idPattern bounds ids carried in context: they come from request headers.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := ChannelIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("channel_id", id))
	}
	return fields
}

// WithRequestID stores a request id. Malformed ids are dropped.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithChannelID stores a channel id. Malformed ids are dropped.
func WithChannelID(ctx context.Context, id string) context.Context {
	if !idPattern.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, channelIDKey{}, id)
}

// ChannelIDFromContext returns the channel id, or "".
func ChannelIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(channelIDKey{}).(string)
	return id
}

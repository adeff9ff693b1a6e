package steward

import "context"

// Tracer creates spans around turns, routing, agent iterations, tool
// dispatch, checkpoint I/O, and scheduler job runs. The observer package
// provides an OpenTelemetry-backed implementation; when no Tracer is
// configured, span creation is skipped entirely.
type Tracer interface {
	// Start creates a span and returns a child context carrying it. Callers
	// must call Span.End when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span is one traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	// Error records an error and marks the span failed.
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute attached to a span.
type SpanAttr struct {
	Key   string
	Value any
}

func StringAttr(k, v string) SpanAttr          { return SpanAttr{Key: k, Value: v} }
func IntAttr(k string, v int) SpanAttr         { return SpanAttr{Key: k, Value: v} }
func BoolAttr(k string, v bool) SpanAttr       { return SpanAttr{Key: k, Value: v} }
func Float64Attr(k string, v float64) SpanAttr { return SpanAttr{Key: k, Value: v} }

// startSpan is the nil-safe span helper used throughout the core.
func startSpan(ctx context.Context, t Tracer, name string, attrs ...SpanAttr) (context.Context, Span) {
	if t == nil {
		return ctx, nil
	}
	return t.Start(ctx, name, attrs...)
}

func endSpan(s Span) {
	if s != nil {
		s.End()
	}
}

func spanError(s Span, err error) {
	if s != nil && err != nil {
		s.Error(err)
	}
}

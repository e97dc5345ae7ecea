package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Stage is the span of one pipeline stage.
type Stage struct {
	span trace.Span
}

// StartStage opens a span named "seqmine.<name>" as a child of ctx.
func StartStage(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, *Stage) {
	ctx, span := tracer.Start(ctx, "seqmine."+name, trace.WithAttributes(attrs...))
	return ctx, &Stage{span: span}
}

// Set records a stage result such as a node or event count.
func (s *Stage) Set(key string, value interface{}) {
	s.span.SetAttributes(Attr(key, value))
}

// Event adds a timestamped event, used once per growth generation.
func (s *Stage) Event(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End closes the span, marking it failed when err is non-nil.
func (s *Stage) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetAttributes(attribute.String("seqmine.error_code", string(seqerr.GetCode(err))))
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// Attr converts a key-value pair to an attribute.
func Attr(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

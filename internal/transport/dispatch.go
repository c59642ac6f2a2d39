package transport

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/telemetry"
)

// Call names one traced dispatch.
type Call struct {
	// Op is tagged onto domain errors that carry no operation yet.
	Op string
	// Span is the span name.
	Span string
	// Attributes are added to the span next to the method and URL.
	Attributes []attribute.KeyValue
	// Logger, when set, receives debug lines around the request.
	Logger *slog.Logger
}

// Dispatch sends req through executor inside a client span and converts the
// response. Failures are recorded on the span, except cancellation, and
// returned tagged with call.Op.
func Dispatch[T any](ctx context.Context, executor Executor, call Call, req *Request, convert func(*Response) (T, error)) (T, error) {
	var zero T

	attrs := append([]attribute.KeyValue{
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL),
	}, call.Attributes...)
	ctx, span := telemetry.Tracer().Start(ctx, call.Span,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	if call.Logger != nil {
		call.Logger.Debug("dispatching request",
			slog.String("operation", call.Op),
			slog.String("method", req.Method),
			slog.String("url", req.URL),
		)
	}

	resp, err := executor.Do(ctx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrCancelled) {
			telemetry.TraceError(span, err)
		}
		return zero, domain.TagOp(err, call.Op)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	v, err := convert(resp)
	if err != nil {
		telemetry.TraceError(span, err)
		return zero, domain.TagOp(err, call.Op)
	}

	if call.Logger != nil {
		call.Logger.Debug("request completed",
			slog.String("operation", call.Op),
			slog.Int("status", resp.StatusCode),
		)
	}
	return v, nil
}

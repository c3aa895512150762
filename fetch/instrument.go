package fetch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("scrapepipe/fetch")

type reqCtxKey struct{}

type reqCtx struct {
	id    uint64
	start time.Time
	span  trace.Span
}

// instrumentResty registers hooks that open a span per request and log its
// outcome. It must be registered before any hook that can block (the rate
// limiter) so the wait is part of the span.
func instrumentResty(client *resty.Client, logger *zap.Logger) {
	var seq atomic.Uint64
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		ctx, span := tracer.Start(req.Context(), "http "+req.Method)
		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL),
		)
		id := seq.Add(1)
		span.SetAttributes(attribute.Int64("request_id", int64(id)))
		req.SetContext(context.WithValue(ctx, reqCtxKey{}, &reqCtx{id: id, start: time.Now(), span: span}))
		return nil
	})

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		rc, ok := res.Request.Context().Value(reqCtxKey{}).(*reqCtx)
		if !ok {
			return nil
		}
		defer rc.span.End()

		status := res.StatusCode()
		rc.span.SetAttributes(attribute.Int("http.status_code", status))
		fields := []zap.Field{
			zap.Uint64("request_id", rc.id),
			zap.String("method", res.Request.Method),
			zap.String("url", res.Request.URL),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(rc.start)),
		}
		if !res.IsSuccess() {
			rc.span.SetStatus(codes.Error, res.Status())
			logger.Warn("http request returned non-success status", fields...)
			return nil
		}
		logger.Debug("http request", fields...)
		return nil
	})

	client.OnError(func(req *resty.Request, err error) {
		rc, ok := req.Context().Value(reqCtxKey{}).(*reqCtx)
		if !ok {
			return
		}
		defer rc.span.End()

		rc.span.RecordError(err)
		rc.span.SetStatus(codes.Error, "request failed")
		logger.Warn("http request failed",
			zap.Uint64("request_id", rc.id),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Duration("duration", time.Since(rc.start)),
			zap.Error(err),
		)
	})
}

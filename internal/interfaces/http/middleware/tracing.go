package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys set on server spans
const (
	AttrRequestID      = attribute.Key("request_id")
	AttrAgent          = attribute.Key("ucp.agent")
	AttrIdempotencyKey = attribute.Key("ucp.idempotency_key")
)

// Tracing returns the server span chain. The otelgin span is named after the
// route pattern, e.g. "/checkout-sessions/:id"; it is annotated with the
// request id and UCP headers, and marked failed on 5xx. The chain is empty
// when tracing is disabled. RequestID must run first.
func Tracing(serviceName string, enabled bool) []gin.HandlerFunc {
	if !enabled {
		return nil
	}
	return []gin.HandlerFunc{otelgin.Middleware(serviceName), annotateSpan}
}

func annotateSpan(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		c.Next()
		return
	}

	attrs := []attribute.KeyValue{AttrRequestID.String(GetRequestID(c))}
	if agent := c.GetHeader(logger.HeaderUCPAgent); agent != "" {
		attrs = append(attrs, AttrAgent.String(agent))
	}
	if key := c.GetHeader(HeaderIdempotencyKey); key != "" {
		attrs = append(attrs, AttrIdempotencyKey.String(key))
	}
	span.SetAttributes(attrs...)

	c.Next()

	// client errors are protocol outcomes and leave the status unset
	if status := c.Writer.Status(); status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

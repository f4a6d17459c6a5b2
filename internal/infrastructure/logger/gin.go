package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Header names recorded on every request log
const (
	HeaderUCPAgent         = "UCP-Agent"
	HeaderRequestSignature = "Request-Signature"
	HeaderIdempotencyKey   = "Idempotency-Key"
)

// GinMiddleware logs HTTP requests and installs the logger in the request context.
// It expects the request id middleware to run first.
func GinMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := WithContext(c.Request.Context(), logger)
		if agent := c.GetHeader(HeaderUCPAgent); agent != "" {
			ctx = WithAgent(ctx, agent)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		// handlers may have enriched the context, e.g. with a session id
		reqLogger := With(c.Request.Context(), logger)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if agent := c.GetHeader(HeaderUCPAgent); agent != "" {
			fields = append(fields, zap.String("ucp_agent", agent))
		}
		if key := c.GetHeader(HeaderIdempotencyKey); key != "" {
			fields = append(fields, zap.String("idempotency_key", key))
		}
		fields = append(fields, zap.Bool("signed", c.GetHeader(HeaderRequestSignature) != ""))
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		msg := "HTTP Request"
		switch {
		case status >= 500:
			reqLogger.Error(msg, fields...)
		case status >= 400:
			reqLogger.Warn(msg, fields...)
		default:
			reqLogger.Info(msg, fields...)
		}
	}
}

// Recovery recovers from panics, logs them and answers 500
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				With(c.Request.Context(), logger).Error("Panic recovered",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", err),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"code":       "ERR_INTERNAL",
						"message":    "Internal server error",
						"request_id": GetRequestID(c.Request.Context()),
					},
				})
			}
		}()
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/application/checkout"
)

// MaxIdempotencyKeyLength bounds idempotency keys
const MaxIdempotencyKeyLength = 255

// IdempotencyKeyKey is the gin context key holding the idempotency key
const IdempotencyKeyKey = "idempotency_key"

// RequireIdempotencyKey rejects mutating requests without an idempotency-key header
func RequireIdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			err := checkout.ErrIdempotencyKeyRequired
			AbortWithError(c, http.StatusBadRequest, err.Code, err.Message)
			return
		}
		if len(key) > MaxIdempotencyKeyLength {
			AbortWithError(c, http.StatusBadRequest, "INVALID_INPUT", "Idempotency key is too long")
			return
		}
		c.Set(IdempotencyKeyKey, key)
		c.Next()
	}
}

// GetIdempotencyKey returns the key accepted by RequireIdempotencyKey
func GetIdempotencyKey(c *gin.Context) string {
	return c.GetString(IdempotencyKeyKey)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/application/checkout"
	"github.com/ucp/merchant/internal/interfaces/http/dto"
	"github.com/ucp/merchant/internal/interfaces/http/schema"
)

func newSchemaRouter(t *testing.T) *gin.Engine {
	t.Helper()
	SetupValidator()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequestID())
	router.POST("/sessions", ValidateSchema(registry, schema.CreateSession), func(c *gin.Context) {
		var req checkout.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		raw, _ := c.Get(RawBodyKey)
		c.JSON(http.StatusOK, gin.H{"currency": req.Currency, "raw": len(raw.([]byte))})
	})
	return router
}

func TestValidateSchema(t *testing.T) {
	router := newSchemaRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"valid", `{"currency":"USD","line_items":[{"item":{"id":"roses"},"quantity":1}]}`, http.StatusOK, ""},
		{"invalid json", `{"currency":`, http.StatusBadRequest, dto.ErrCodeInvalidJSON},
		{"schema violation", `{"currency":"USD","line_items":[]}`, http.StatusBadRequest, dto.ErrCodeSchema},
		{"binding violation", `{"currency":"XYZ","line_items":[{"item":{"id":"roses"},"quantity":1}]}`, http.StatusBadRequest, dto.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				resp := decodeError(t, w)
				assert.Equal(t, tt.code, resp.Error.Code)
				assert.NotEmpty(t, resp.Error.RequestID)
			}
		})
	}
}

func TestValidateSchema_ReportsFields(t *testing.T) {
	router := newSchemaRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"currency":"XYZ","line_items":[{"item":{"id":"roses"},"quantity":1}]}`))
	router.ServeHTTP(w, req)

	resp := decodeError(t, w)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "currency", resp.Error.Details[0].Field)
	assert.Equal(t, "Must be an ISO 4217 currency code", resp.Error.Details[0].Message)
}

func TestValidateSchema_BodyTooLarge(t *testing.T) {
	registry, err := schema.NewRegistry()
	require.NoError(t, err)
	router := gin.New()
	router.POST("/sessions", func(c *gin.Context) {
		// unknown length so only the reader enforces the limit
		c.Request.ContentLength = -1
		c.Next()
	}, BodyLimit(8), ValidateSchema(registry, schema.CreateSession), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"currency":"USD"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

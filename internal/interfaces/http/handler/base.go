// Package handler implements the HTTP handlers of the merchant API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/application/checkout"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/interfaces/http/dto"
	"github.com/ucp/merchant/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// JSONBody writes a pre-rendered JSON document. Replayed checkout responses
// go through here so they are returned byte for byte.
func (h *BaseHandler) JSONBody(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/json; charset=utf-8", body)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponse(code, message, middleware.GetRequestID(c)))
}

// HandleError classifies err and writes the error envelope. Errors that carry
// a checkout, such as a failed settlement, include it in the body.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status, code, message := dto.ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.L(c.Request.Context()).Error("Request failed",
			zap.String("code", code),
			zap.Error(err),
		)
	}
	_ = c.Error(err)

	resp := dto.NewErrorResponse(code, message, middleware.GetRequestID(c))
	var se *checkout.SessionError
	if errors.As(err, &se) {
		resp.Checkout = se.Checkout
	}
	c.JSON(status, resp)
}

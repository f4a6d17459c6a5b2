package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/application/checkout"
	"github.com/ucp/merchant/internal/infrastructure/logger"
	"github.com/ucp/merchant/internal/interfaces/http/middleware"
	"github.com/ucp/merchant/internal/interfaces/http/schema"
)

// CheckoutService is the checkout application service
type CheckoutService interface {
	Create(ctx context.Context, idempotencyKey string, req checkout.CreateSessionRequest) (*checkout.Result, error)
	Get(ctx context.Context, id string) (*checkout.Result, error)
	Update(ctx context.Context, id, idempotencyKey string, req checkout.UpdateSessionRequest) (*checkout.Result, error)
	Complete(ctx context.Context, id, idempotencyKey string, req checkout.CompleteSessionRequest) (*checkout.Result, error)
}

// CheckoutHandler serves the checkout session resource
type CheckoutHandler struct {
	BaseHandler
	service CheckoutService
	schemas *schema.Registry
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(service CheckoutService, schemas *schema.Registry) *CheckoutHandler {
	return &CheckoutHandler{service: service, schemas: schemas}
}

// RegisterRoutes mounts the checkout session routes on rg
func (h *CheckoutHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/checkout-sessions")
	idem := middleware.RequireIdempotencyKey()

	sessions.POST("", idem, middleware.ValidateSchema(h.schemas, schema.CreateSession), h.Create)
	sessions.GET("/:id", h.Get)
	sessions.PUT("/:id", idem, middleware.ValidateSchema(h.schemas, schema.UpdateSession), h.Update)
	sessions.POST("/:id/complete", idem, middleware.ValidateSchema(h.schemas, schema.CompleteSession), h.Complete)
}

// Create handles POST /checkout-sessions. A new session answers 201, a
// replayed create answers 200 with the stored body.
func (h *CheckoutHandler) Create(c *gin.Context) {
	var req checkout.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	res, err := h.service.Create(c.Request.Context(), middleware.GetIdempotencyKey(c), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if res.Session != nil {
		h.withSession(c, res.Session.ID)
	}
	status := http.StatusOK
	if res.Created && !res.Replayed {
		status = http.StatusCreated
	}
	h.JSONBody(c, status, res.Body)
}

// Get handles GET /checkout-sessions/:id. A session that is still being
// settled answers 202 with its last committed state.
func (h *CheckoutHandler) Get(c *gin.Context) {
	id := c.Param("id")
	h.withSession(c, id)

	res, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status := http.StatusOK
	if res.StillProcessing {
		status = http.StatusAccepted
	}
	h.JSONBody(c, status, res.Body)
}

// Update handles PUT /checkout-sessions/:id
func (h *CheckoutHandler) Update(c *gin.Context) {
	id := c.Param("id")
	h.withSession(c, id)

	var req checkout.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	res, err := h.service.Update(c.Request.Context(), id, middleware.GetIdempotencyKey(c), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.JSONBody(c, http.StatusOK, res.Body)
}

// Complete handles POST /checkout-sessions/:id/complete
func (h *CheckoutHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	h.withSession(c, id)

	var req checkout.CompleteSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	res, err := h.service.Complete(c.Request.Context(), id, middleware.GetIdempotencyKey(c), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.JSONBody(c, http.StatusOK, res.Body)
}

func (h *CheckoutHandler) withSession(c *gin.Context, id string) {
	c.Request = c.Request.WithContext(logger.WithSessionID(c.Request.Context(), id))
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/application/checkout"
)

// ProfileProvider renders the merchant discovery profile
type ProfileProvider interface {
	Profile(ctx context.Context) checkout.Profile
}

// DiscoveryHandler serves the UCP discovery document
type DiscoveryHandler struct {
	BaseHandler
	profiles ProfileProvider
}

// NewDiscoveryHandler creates a new DiscoveryHandler
func NewDiscoveryHandler(profiles ProfileProvider) *DiscoveryHandler {
	return &DiscoveryHandler{profiles: profiles}
}

// RegisterRoutes mounts GET /.well-known/ucp on rg
func (h *DiscoveryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/.well-known/ucp", h.Profile)
}

// Profile returns the services, capabilities and payment handlers the merchant supports
func (h *DiscoveryHandler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, h.profiles.Profile(c.Request.Context()))
}

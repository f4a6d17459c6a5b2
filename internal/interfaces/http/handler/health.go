package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ucp/merchant/internal/interfaces/http/dto"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler reports service liveness and dependency health
type HealthHandler struct {
	BaseHandler
	service string
	version string
	network string
	timeout time.Duration
	checks  map[string]HealthCheck
}

// HealthOption configures a HealthHandler
type HealthOption func(*HealthHandler)

// WithHealthCheck adds a named dependency probe
func WithHealthCheck(name string, check HealthCheck) HealthOption {
	return func(h *HealthHandler) {
		h.checks[name] = check
	}
}

// WithVersion sets the reported build version
func WithVersion(version string) HealthOption {
	return func(h *HealthHandler) {
		h.version = version
	}
}

// WithNetwork sets the reported ledger network
func WithNetwork(network string) HealthOption {
	return func(h *HealthHandler) {
		h.network = network
	}
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(service string, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		service: service,
		timeout: 2 * time.Second,
		checks:  make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts GET /health on rg
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}

// Health answers 200 when every probe passes and 503 otherwise
func (h *HealthHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:  "healthy",
		Service: h.service,
		Version: h.version,
		Network: h.network,
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				resp.Checks[name] = "unhealthy: " + err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	c.JSON(status, resp)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Checker is anything that can report its own reachability.
type Checker interface {
	Check(ctx context.Context) error
}

type HealthHandler struct {
	store   Checker
	gateway Checker
}

func NewHealthHandler(store, gateway Checker) *HealthHandler {
	return &HealthHandler{store: store, gateway: gateway}
}

// Health pings the store. The gateway is reported but does not fail the probe.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	body := gin.H{"status": "ok", "database": "ok"}
	status := http.StatusOK
	if err := h.store.Check(ctx); err != nil {
		body["status"] = "degraded"
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.gateway != nil {
		body["gateway"] = "ok"
		if err := h.gateway.Check(ctx); err != nil {
			body["gateway"] = "unreachable"
		}
	}
	c.JSON(status, body)
}

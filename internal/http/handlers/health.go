package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/codeframe-backend/internal/services"
)

type HealthHandler struct {
	health services.HealthService
}

func NewHealthHandler(health services.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	rep := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/plugd/pkg/api/types"
	"github.com/urmzd/plugd/pkg/device"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	controller device.Controller
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(controller device.Controller) *HealthHandler {
	return &HealthHandler{controller: controller}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the health of the server and its device transports
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Service is healthy"
// @Failure      503  {object}  types.HealthResponse  "No transport is available"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	transports := "disconnected"
	if h.controller.IsConnected() {
		transports = "connected"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if transports != "connected" {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	count := 0
	if devices, err := h.controller.ListDevices(c.Request.Context()); err == nil {
		count = len(devices)
	}

	c.JSON(httpStatus, types.HealthResponse{
		Status:     status,
		Transports: transports,
		Scanning:   h.controller.IsScanning(),
		Devices:    count,
		Timestamp:  time.Now(),
	})
}

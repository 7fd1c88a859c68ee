package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/plugd/pkg/api/types"
	"github.com/urmzd/plugd/pkg/device"
)

// heartbeatInterval spaces SSE heartbeats.
const heartbeatInterval = 30 * time.Second

// DiscoveryHandler handles scanning and event stream endpoints
type DiscoveryHandler struct {
	controller device.Controller
	subscriber device.EventSubscriber
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(controller device.Controller, subscriber device.EventSubscriber) *DiscoveryHandler {
	return &DiscoveryHandler{
		controller: controller,
		subscriber: subscriber,
	}
}

// StartScanning handles POST /scanning/start
// @Summary      Start scanning
// @Description  Starts device discovery on every transport. Found devices are brought up in the background; watch /events for the outcome.
// @Tags         scanning
// @Produce      json
// @Success      200  {object}  types.ScanningResponse
// @Failure      503  {object}  types.ErrorResponse  "No transport is available"
// @Router       /scanning/start [post]
func (h *DiscoveryHandler) StartScanning(c *gin.Context) {
	if err := h.controller.StartScanning(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ScanningResponse{
		Status:   "scanning",
		Scanning: h.controller.IsScanning(),
	})
}

// StopScanning handles POST /scanning/stop
// @Summary      Stop scanning
// @Description  Stops device discovery on every transport
// @Tags         scanning
// @Produce      json
// @Success      200  {object}  types.ScanningResponse
// @Failure      500  {object}  types.ErrorResponse  "Transport error"
// @Router       /scanning/stop [post]
func (h *DiscoveryHandler) StopScanning(c *gin.Context) {
	if err := h.controller.StopScanning(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.ScanningResponse{
		Status:   "stopped",
		Scanning: h.controller.IsScanning(),
	})
}

// Events handles GET /events (SSE stream)
// @Summary      Subscribe to device events
// @Description  Server-Sent Events stream of device added/removed, scanning finished, bring-up outcomes and sensor readings
// @Tags         scanning
// @Produce      text/event-stream
// @Success      200  {string}  string  "SSE event stream"
// @Router       /events [get]
func (h *DiscoveryHandler) Events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	eventChan := h.subscriber.Subscribe()
	defer h.subscriber.Unsubscribe(eventChan)

	sendSSEEvent(c.Writer, "connected", map[string]any{
		"timestamp": time.Now(),
		"message":   "Connected to device event stream",
	})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			sendSSEEvent(c.Writer, event.Type, event)
			c.Writer.Flush()

		case <-ticker.C:
			sendSSEEvent(c.Writer, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
			c.Writer.Flush()
		}
	}
}

// sendSSEEvent writes an SSE event to the response
func sendSSEEvent(w io.Writer, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	io.WriteString(w, "event: "+eventType+"\n")
	io.WriteString(w, "data: "+string(jsonData)+"\n\n")
}

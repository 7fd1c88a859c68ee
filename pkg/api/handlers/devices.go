package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/plugd/pkg/api/types"
	"github.com/urmzd/plugd/pkg/device"
)

// DevicesHandler handles device inspection and stop endpoints
type DevicesHandler struct {
	controller device.Controller
}

// NewDevicesHandler creates a new devices handler
func NewDevicesHandler(controller device.Controller) *DevicesHandler {
	return &DevicesHandler{controller: controller}
}

// ListDevices handles GET /devices
// @Summary      List all devices
// @Description  Returns every live device ordered by index
// @Tags         devices
// @Produce      json
// @Success      200  {object}  types.ListDevicesResponse
// @Failure      500  {object}  types.ErrorResponse  "Controller error"
// @Router       /devices [get]
func (h *DevicesHandler) ListDevices(c *gin.Context) {
	devices, err := h.controller.ListDevices(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	result := make([]types.DeviceSummary, 0, len(devices))
	for i := range devices {
		result = append(result, types.NewDeviceSummary(&devices[i]))
	}

	c.JSON(http.StatusOK, types.ListDevicesResponse{
		Devices: result,
		Count:   len(result),
	})
}

// GetDevice handles GET /devices/:index
// @Summary      Get device details
// @Description  Returns the features and identity of one device
// @Tags         devices
// @Produce      json
// @Param        index  path      int  true  "Device index"
// @Success      200    {object}  types.DeviceResponse
// @Failure      400    {object}  types.ErrorResponse  "Invalid index"
// @Failure      404    {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{index} [get]
func (h *DevicesHandler) GetDevice(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}

	d, err := h.controller.GetDevice(c.Request.Context(), index)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.DeviceResponse{Device: types.NewDeviceSummary(d)})
}

// StopDevice handles POST /devices/:index/stop
// @Summary      Stop a device
// @Description  Drives every stoppable output of the device to zero
// @Tags         devices
// @Produce      json
// @Param        index  path      int  true  "Device index"
// @Success      200    {object}  types.StatusResponse
// @Failure      404    {object}  types.ErrorResponse  "Device not found"
// @Failure      502    {object}  types.ErrorResponse  "Device disconnected"
// @Router       /devices/{index}/stop [post]
func (h *DevicesHandler) StopDevice(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}

	if err := h.controller.StopDevice(c.Request.Context(), index); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.StatusResponse{Status: "stopped"})
}

// StopAllDevices handles POST /devices/stop
// @Summary      Stop every device
// @Description  Stops all devices; one failing device does not prevent the others from stopping
// @Tags         devices
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Failure      500  {object}  types.ErrorResponse  "One or more devices failed to stop"
// @Router       /devices/stop [post]
func (h *DevicesHandler) StopAllDevices(c *gin.Context) {
	if err := h.controller.StopAllDevices(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.StatusResponse{Status: "stopped"})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/plugd/pkg/api/types"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/schema"
)

// respondError writes the response for a controller error.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "controller_error"
	switch {
	case errors.Is(err, device.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, device.ErrNotConnected):
		status, code = http.StatusServiceUnavailable, "controller_disconnected"
	case errors.Is(err, device.ErrInvalidFeature),
		errors.Is(err, device.ErrStepRange),
		errors.Is(err, schema.ErrInvalid):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, device.ErrUnsupported):
		status, code = http.StatusUnprocessableEntity, "unsupported"
	case errors.Is(err, device.ErrTimeout),
		errors.Is(err, hardware.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, hardware.ErrDisconnected):
		status, code = http.StatusBadGateway, "device_disconnected"
	}
	c.JSON(status, types.ErrorResponse{Error: code, Message: err.Error()})
}

// indexParam parses a uint32 path parameter.
func indexParam(c *gin.Context, name string) (uint32, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: name + " must be a non-negative integer",
		})
		return 0, false
	}
	return uint32(v), true
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/plugd/pkg/api/types"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/schema"
)

// outputSchema constrains POST /devices/:index/output bodies.
var outputSchema = json.RawMessage(`{
	"type": "object",
	"required": ["commands"],
	"additionalProperties": false,
	"properties": {
		"commands": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["feature_index", "type", "value"],
				"additionalProperties": false,
				"properties": {
					"feature_index": {"type": "integer", "minimum": 0},
					"type": {"enum": ["Vibrate", "Rotate", "RotateWithDirection", "Oscillate", "Constrict", "Inflate", "Led", "Position", "PositionWithDuration"]},
					"value": {"type": "integer"},
					"clockwise": {"type": "boolean"},
					"duration": {"type": "integer", "minimum": 0}
				}
			}
		}
	}
}`)

// ControlHandler handles device output and sensor endpoints
type ControlHandler struct {
	controller device.Controller
	validator  *schema.Validator
}

// NewControlHandler creates a new control handler
func NewControlHandler(controller device.Controller, validator *schema.Validator) *ControlHandler {
	return &ControlHandler{controller: controller, validator: validator}
}

// Output handles POST /devices/:index/output
// @Summary      Set device outputs
// @Description  Applies a batch of step values to one device. The batch is validated as a whole; nothing is written if any command is invalid.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        index    path      int                  true  "Device index"
// @Param        request  body      types.OutputRequest  true  "Output commands"
// @Success      200      {object}  types.StatusResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Failure      502      {object}  types.ErrorResponse  "Device disconnected"
// @Router       /devices/{index}/output [post]
func (h *ControlHandler) Output(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
		return
	}
	if err := h.validator.ValidateDocument(outputSchema, body); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	var req types.OutputRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if err := h.controller.Output(c.Request.Context(), index, req.Commands); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.StatusResponse{Status: "ok"})
}

// ReadInput handles GET /devices/:index/features/:feature/input/:type
// @Summary      Read a sensor
// @Description  Performs a one-shot read of a feature's input
// @Tags         devices
// @Produce      json
// @Param        index    path      int     true  "Device index"
// @Param        feature  path      int     true  "Feature index"
// @Param        type     path      string  true  "Input type"  Enums(Battery, RSSI, Pressure, Button)
// @Success      200      {object}  types.InputResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Failure      504      {object}  types.ErrorResponse  "Read timed out"
// @Router       /devices/{index}/features/{feature}/input/{type} [get]
func (h *ControlHandler) ReadInput(c *gin.Context) {
	index, ok := indexParam(c, "index")
	if !ok {
		return
	}
	feature, ok := indexParam(c, "feature")
	if !ok {
		return
	}
	t := device.InputType(c.Param("type"))
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: "unknown input type " + string(t),
		})
		return
	}

	reading, err := h.controller.ReadInput(c.Request.Context(), index, feature, t)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.InputResponse{Reading: reading, Timestamp: time.Now()})
}

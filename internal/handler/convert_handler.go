// internal/handler/convert_handler.go
package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-logger/internal/utils"
	"instrument-logger/pkg/register"
)

// ConvertHandler converts between register words and values without
// touching an instrument
type ConvertHandler struct {
	logger *utils.ServiceLogger
}

// NewConvertHandler creates a new converter handler
func NewConvertHandler(logger *zap.Logger) *ConvertHandler {
	return &ConvertHandler{
		logger: utils.NewServiceLogger(logger, "convert-handler"),
	}
}

// RegisterRoutes registers converter routes
func (h *ConvertHandler) RegisterRoutes(router *gin.RouterGroup) {
	convert := router.Group("/convert")
	{
		convert.POST("/registers", h.ToRegisters)
		convert.POST("/float", h.ToValues)
	}
}

// ToRegistersRequest asks for the register words of values
type ToRegistersRequest struct {
	Values   []float64 `json:"values" binding:"required,min=1"`
	Encoding string    `json:"encoding"`
}

// ToValuesRequest asks for the values held by register words
type ToValuesRequest struct {
	Registers []uint16 `json:"registers" binding:"required,min=1"`
	Encoding  string   `json:"encoding"`
}

// ConversionResult is returned by both conversions
type ConversionResult struct {
	Encoding  string     `json:"encoding"`
	Registers []uint16   `json:"registers"`
	Hex       []string   `json:"hex"`
	Values    []*float64 `json:"values"`
}

// ToRegisters encodes values into registers
func (h *ConvertHandler) ToRegisters(c *gin.Context) {
	var req ToRegistersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	enc, err := register.ParseEncoding(req.Encoding)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"encoding": err.Error()})
		return
	}

	regs, err := enc.Encode(req.Values)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"values": err.Error()})
		return
	}

	values := make([]*float64, len(req.Values))
	for i := range req.Values {
		values[i] = &req.Values[i]
	}
	utils.SuccessResponse(c, http.StatusOK, "Values encoded", result(enc, regs, values))
}

// ToValues decodes registers into values. An odd register count under a
// 32-bit encoding yields a trailing null and a 422 status.
func (h *ConvertHandler) ToValues(c *gin.Context) {
	var req ToValuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	enc, err := register.ParseEncoding(req.Encoding)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"encoding": err.Error()})
		return
	}

	values, err := enc.Decode(req.Registers)
	if err != nil {
		h.logger.Debug("Partial decode", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, utils.APIResponse{
			Success:   false,
			Message:   "Registers partially decoded",
			Data:      result(enc, req.Registers, values),
			Error:     &utils.APIError{Code: "UNPROCESSABLE_ENTITY", Message: err.Error()},
			Timestamp: time.Now(),
		})
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Registers decoded", result(enc, req.Registers, values))
}

func result(enc register.Encoding, regs []uint16, values []*float64) ConversionResult {
	hex := make([]string, len(regs))
	for i, r := range regs {
		hex[i] = fmt.Sprintf("0x%04X", r)
	}
	return ConversionResult{
		Encoding:  enc.String(),
		Registers: regs,
		Hex:       hex,
		Values:    values,
	}
}

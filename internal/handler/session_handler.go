// internal/handler/session_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-logger/internal/model"
	"instrument-logger/internal/service"
	"instrument-logger/internal/session"
	"instrument-logger/internal/utils"
)

// SessionHandler handles acquisition session requests
type SessionHandler struct {
	sessionService *service.SessionService
	defaults       model.SessionConfig
	logger         *utils.ServiceLogger
}

// NewSessionHandler creates a new session handler. Start requests are
// applied on top of defaults.
func NewSessionHandler(sessionService *service.SessionService, defaults model.SessionConfig, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		defaults:       defaults,
		logger:         utils.NewServiceLogger(logger, "session-handler"),
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	sessions := router.Group("/session")
	{
		sessions.GET("", h.GetSession)
		sessions.POST("/start", h.StartSession)
		sessions.POST("/stop", h.StopSession)
		sessions.PUT("/logging", h.SetLogging)
		sessions.POST("/registers", h.WriteRegisters)
	}
	router.GET("/ports", h.ListPorts)
}

// StopRequest optionally names why a session is stopped
type StopRequest struct {
	Reason string `json:"reason"`
}

// LoggingRequest toggles row logging
type LoggingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GetSession returns the session state and the last reading per channel
func (h *SessionHandler) GetSession(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Session status retrieved", h.sessionService.Status())
}

// StartSession starts a session. An empty body starts the configured
// default session.
func (h *SessionHandler) StartSession(c *gin.Context) {
	cfg := h.defaults
	cfg.Sinks = append([]model.SinkConfig(nil), h.defaults.Sinks...)

	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&cfg); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	info, err := h.sessionService.Start(c.Request.Context(), cfg)
	if err != nil {
		h.logger.Warn("Failed to start session", zap.Error(err))
		utils.ErrorResponse(c, statusFor(err), "Failed to start session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Session started", info)
}

// StopSession stops the active session
func (h *SessionHandler) StopSession(c *gin.Context) {
	var req StopRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "stopped by user"
	}

	info, err := h.sessionService.Stop(c.Request.Context(), req.Reason)
	if err != nil {
		utils.ErrorResponse(c, statusFor(err), "Failed to stop session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session stopped", info)
}

// SetLogging enables or disables row logging
func (h *SessionHandler) SetLogging(c *gin.Context) {
	var req LoggingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.sessionService.SetLogging(*req.Enabled); err != nil {
		utils.ErrorResponse(c, statusFor(err), "Failed to change logging", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Logging updated", gin.H{"logging": *req.Enabled})
}

// WriteRegisters writes registers through the active session
func (h *SessionHandler) WriteRegisters(c *gin.Context) {
	var req service.WriteRegistersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	ack, err := h.sessionService.WriteRegisters(ctx, req)
	if err != nil {
		h.logger.Warn("Register write failed", zap.Error(err), zap.Uint16("address", req.Address))
		utils.ErrorResponse(c, statusFor(err), "Failed to write registers", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Registers written", ack)
}

// ListPorts lists candidate instrument endpoints
func (h *SessionHandler) ListPorts(c *gin.Context) {
	ports, err := h.sessionService.ListPorts(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved", gin.H{"ports": ports})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, model.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrWriteUnsupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

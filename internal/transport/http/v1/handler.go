// Package v1 provides the HTTP control surface for the orchestrator.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/upbatch/orchestrator/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the control surface routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Batch runs
	e.POST("/v1/batch/run", h.StartRun)
	e.GET("/v1/batch/state", h.GetRunState)
	e.GET("/v1/batch/runs", h.ListRuns)

	// Journal
	e.GET("/v1/batch/log", h.GetLog)
	e.POST("/v1/batch/log/clear", h.ClearLog)

	// Host
	e.GET("/v1/updates", h.ListUpdates)
	e.POST("/v1/host/reboot", h.RebootNow)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

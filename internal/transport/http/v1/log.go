package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/upbatch/orchestrator/internal/domain"
)

// GetLog returns journal entries in insertion order. Most-recent-first is a
// presentation concern left to the caller.
// GET /v1/batch/log?limit=N
func (h *Handler) GetLog(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, domain.ErrorResponse{
				Error: domain.APIError{Code: "invalid_request", Message: "limit must be an integer"},
			})
		}
		limit = v
	}

	entries, err := h.service.GetLog(ctx, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidLogLimit) {
			return c.JSON(http.StatusBadRequest, domain.ErrorResponse{
				Error: domain.APIError{Code: "invalid_request", Message: err.Error()},
			})
		}
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{
			Error: domain.APIError{Code: "internal", Message: err.Error()},
		})
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	return c.JSON(http.StatusOK, domain.LogResponse{Entries: entries})
}

// ClearLog empties the journal.
// POST /v1/batch/log/clear
func (h *Handler) ClearLog(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.service.ClearLog(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{
			Error: domain.APIError{Code: "internal", Message: err.Error()},
		})
	}
	return c.JSON(http.StatusOK, domain.OKResponse{OK: true})
}

package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/upbatch/orchestrator/internal/domain"
)

// StartRun starts a new batch run.
// POST /v1/batch/run
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RunAPIRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{
			Error: domain.APIError{Code: "invalid_request", Message: "invalid request body"},
		})
	}

	run, err := h.service.StartRun(ctx, domain.RunRequest{
		SelectedIDs:      req.Entities,
		BackupBeforeEach: req.Backup,
	})
	if err != nil {
		return rejectionResponse(c, err)
	}

	return c.JSON(http.StatusAccepted, domain.RunAPIResponse{
		RunID:    run.RunID,
		Plan:     run.Plan,
		Accepted: true,
	})
}

// GetRunState returns the current run state.
// GET /v1/batch/state
func (h *Handler) GetRunState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.CurrentRun())
}

// ListRuns returns historical batch runs, newest first.
// GET /v1/batch/runs?limit=N
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	runs, err := h.service.ListRuns(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{
			Error: domain.APIError{Code: "internal", Message: err.Error()},
		})
	}
	if runs == nil {
		runs = []domain.BatchRun{}
	}
	return c.JSON(http.StatusOK, domain.RunsResponse{Runs: runs})
}

// ListUpdates returns the pending update items.
// GET /v1/updates
func (h *Handler) ListUpdates(c echo.Context) error {
	ctx := c.Request().Context()

	items, err := h.service.ListUpdates(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{
			Error: domain.APIError{Code: "internal", Message: err.Error()},
		})
	}
	if items == nil {
		items = []domain.UpdateItem{}
	}
	return c.JSON(http.StatusOK, domain.UpdatesResponse{Updates: items})
}

// RebootNow asks the host to restart.
// POST /v1/host/reboot
func (h *Handler) RebootNow(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.service.RebootNow(ctx); err != nil {
		return rejectionResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, domain.OKResponse{OK: true})
}

// rejectionResponse maps a service error to the control surface's error
// envelope with a machine-readable reason code.
func rejectionResponse(c echo.Context, err error) error {
	code := domain.RejectionCode(err)
	status := http.StatusBadRequest
	switch code {
	case "already_running":
		status = http.StatusConflict
	case "policy_blocked":
		status = http.StatusForbidden
	case "":
		code = "internal"
		status = http.StatusInternalServerError
	}
	return c.JSON(status, domain.ErrorResponse{
		Error: domain.APIError{Code: code, Message: err.Error()},
	})
}

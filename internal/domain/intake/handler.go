package intake

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/intake/intake/internal/platform/queue"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/ingest", h.Ingest)
	api.GET("/ingest/tasks/:id", h.TaskStatus)
}

func (h *Handler) Ingest(c echo.Context) error {
	var raws []RawRecord
	if err := c.Bind(&raws); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body must be a JSON array of records")
	}

	result, err := h.svc.Ingest(c.Request().Context(), raws)
	if err != nil {
		if errors.Is(err, ErrEmptyBatch) {
			return echo.NewHTTPError(http.StatusBadRequest, ErrEmptyBatch.Error())
		}
		var noValid *NoValidRecordsError
		if errors.As(err, &noValid) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":            noValid.Error(),
				"rejected_records": noValid.Rejections,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, result)
}

func (h *Handler) TaskStatus(c echo.Context) error {
	status, err := h.svc.TaskStatus(c.Request().Context(), c.Param("id"))
	if errors.Is(err, queue.ErrTaskNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

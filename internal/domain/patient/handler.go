package patient

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/intake/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
}

type listResponse struct {
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Patients []*Patient `json:"patients"`
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := Filter{
		MRN:       c.QueryParam("mrn"),
		FirstName: c.QueryParam("first_name"),
		LastName:  c.QueryParam("last_name"),
	}

	patients, total, err := h.svc.ListPatients(c.Request().Context(), filter, pg.Limit(), pg.Offset())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, listResponse{
		Total:    total,
		Page:     pg.Page,
		PageSize: pg.PageSize,
		Patients: patients,
	})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	pat, err := h.svc.GetPatient(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pat)
}

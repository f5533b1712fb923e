package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/klinika/opd/pkg/apperr"
)

type Handler struct {
	svc *Reconciler
}

func NewHandler(svc *Reconciler) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(billing *echo.Group) {
	billing.GET("/health", h.Health)
	billing.GET("/accounts/:encounterId", h.GetAccount)
	billing.GET("/accounts/:encounterId/items", h.GetItems)
	billing.POST("/accounts/:encounterId/reconcile", h.Reconcile)
	billing.POST("/accounts/:encounterId/deduplicate", h.Deduplicate)
}

func (h *Handler) GetAccount(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("encounterId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	a, err := h.svc.Account(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetItems(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("encounterId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	items, err := h.svc.Items(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Reconcile(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("encounterId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	a, err := h.svc.ReconcileTotals(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Deduplicate(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("encounterId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	report, err := h.svc.DeduplicateAccounts(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Health(c echo.Context) error {
	report, err := h.svc.Health(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusConflict
	}
	return c.JSON(status, report)
}

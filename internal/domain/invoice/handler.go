package invoice

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/klinika/opd/pkg/apperr"
)

type Handler struct {
	svc *Projector
}

func NewHandler(svc *Projector) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the invoice surface. The bare :id routes address the
// invoice by its encounter; the payments routes address it by invoice id.
func (h *Handler) RegisterRoutes(invoices *echo.Group) {
	invoices.POST("/:id", h.EnsureInvoice)
	invoices.GET("/:id", h.GetInvoice)
	invoices.POST("/:id/payments", h.ApplyPayment)
	invoices.GET("/:id/payments", h.ListPayments)
}

func (h *Handler) EnsureInvoice(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	inv, err := h.svc.EnsureInvoice(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	inv, err := h.svc.Get(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, inv)
}

type paymentRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}

func (h *Handler) ApplyPayment(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payment body")
	}
	p, err := h.svc.ApplyPayment(c.Request().Context(), invoiceID, req.Amount, req.Method, req.Reference)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	payments, err := h.svc.ListPayments(c.Request().Context(), invoiceID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, payments)
}

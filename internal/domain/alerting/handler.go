package alerting

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careroute/referral-engine/internal/platform/auth"
	"github.com/careroute/referral-engine/internal/platform/notification"
	"github.com/careroute/referral-engine/pkg/pagination"
)

type Handler struct {
	router     *Router
	alerts     AlertRepository
	recipients RecipientRepository
	deliveries DeliveryRepository
}

func NewHandler(router *Router, alerts AlertRepository, recipients RecipientRepository, deliveries DeliveryRepository) *Handler {
	return &Handler{router: router, alerts: alerts, recipients: recipients, deliveries: deliveries}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/alerts", h.RaiseAlert)
	api.GET("/alerts", h.ListAlerts)
	api.GET("/alerts/:id", h.GetAlert)
	api.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	api.GET("/alerts/:id/deliveries", h.ListDeliveries)

	api.POST("/recipients", h.CreateRecipient)
	api.GET("/recipients", h.ListRecipients)
	api.GET("/recipients/:id", h.GetRecipient)
	api.PUT("/recipients/:id", h.UpdateRecipient)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) RaiseAlert(c echo.Context) error {
	var a Alert
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.router.Raise(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.alerts.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	status := AlertStatus(c.QueryParam("status"))
	items, total, err := h.alerts.List(c.Request().Context(), status, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	by := auth.UserID(c.Request().Context())
	if by == "" {
		by = "system"
	}
	a, err := h.router.Acknowledge(c.Request().Context(), id, by)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.deliveries.ListByAlert(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateRecipient(c echo.Context) error {
	var r Recipient
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if r.Role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "role is required")
	}
	if r.PreferredChannel != "" && !notification.ValidChannel(r.PreferredChannel) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid preferred channel")
	}
	if err := h.recipients.Create(c.Request().Context(), &r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRecipient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r, err := h.recipients.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "recipient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateRecipient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var r Recipient
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if err := h.recipients.Update(c.Request().Context(), &r); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "recipient not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRecipients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.recipients.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

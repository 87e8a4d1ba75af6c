package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careroute/referral-engine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/workflows", h.CreateWorkflow)
	api.GET("/workflows", h.ListWorkflows)
	api.GET("/workflows/:id", h.GetWorkflow)
	api.PUT("/workflows/:id", h.UpdateWorkflow)
	api.POST("/workflows/:id/status", h.SetStatus)
	api.POST("/workflows/:id/trigger", h.Trigger)
	api.GET("/workflows/:id/runs", h.ListRuns)
	api.GET("/runs/:id", h.GetRun)

	api.POST("/automation-rules", h.CreateRule)
	api.GET("/automation-rules", h.ListRules)
	api.GET("/automation-rules/:id", h.GetRule)
	api.PUT("/automation-rules/:id", h.UpdateRule)
}

func httpErr(err error) error {
	var cfgErr *ConfigurationError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &cfgErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateWorkflow(c echo.Context) error {
	var w Workflow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWorkflow(c.Request().Context(), &w); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) UpdateWorkflow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var w Workflow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w.ID = id
	if err := h.svc.UpdateWorkflow(c.Request().Context(), &w); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) GetWorkflow(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWorkflows(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWorkflows(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) Trigger(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{}
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	run, err := h.svc.Trigger(c.Request().Context(), id, payload)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, run)
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	run, err := h.svc.GetRun(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListRuns(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRuns(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateRule(c echo.Context) error {
	var r AutomationRule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRule(c.Request().Context(), &r); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var r AutomationRule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if err := h.svc.UpdateRule(c.Request().Context(), &r); err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetRule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRule(c.Request().Context(), id)
	if err != nil {
		return httpErr(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRules(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRules(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

package rules

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the active rule configuration over HTTP.
type Handler struct {
	store *Store
}

// NewHandler creates a new Handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers rule routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/rules", h.HandleGet)
	g.POST("/rules/reload", h.HandleReload)
}

// HandleGet handles GET /rules.
func (h *Handler) HandleGet(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Active())
}

// HandleReload handles POST /rules/reload. A failed reload keeps the old
// version and reports the validation error.
func (h *Handler) HandleReload(c echo.Context) error {
	cfg, err := h.store.Reload()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":          err.Error(),
			"active_version": h.store.Active().Version,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"active_version": cfg.Version})
}

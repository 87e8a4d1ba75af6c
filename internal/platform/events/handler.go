package events

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler exposes external trigger-event ingestion. Integrations post
// events here instead of calling the workflow engine directly; anything
// subscribed to the bus (workflows, automation rules, the audit trail)
// picks them up.
type Handler struct {
	bus *Bus
}

func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/events", h.Ingest)
}

type ingestRequest struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Internal namespaces are reserved for events the engine emits itself.
var reservedPrefixes = []string{"run.", "alert."}

func (h *Handler) Ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event type is required")
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(req.Type, p) {
			return echo.NewHTTPError(http.StatusBadRequest, "event type namespace "+p+"* is reserved")
		}
	}

	evt := NewEvent(req.Type, req.Payload)
	h.bus.Publish(c.Request().Context(), evt)
	return c.JSON(http.StatusAccepted, map[string]string{
		"event_id": evt.ID,
		"type":     evt.Type,
	})
}

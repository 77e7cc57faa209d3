package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nullshell/nullshell/internal/session"
	"github.com/nullshell/nullshell/internal/ws"
)

// PanelHandler attaches browsers to the display panel.
type PanelHandler struct {
	host      *session.Host
	wsHandler *ws.Handler
}

// NewPanelHandler creates a new PanelHandler.
func NewPanelHandler(host *session.Host, wsHandler *ws.Handler) *PanelHandler {
	return &PanelHandler{
		host:      host,
		wsHandler: wsHandler,
	}
}

// Attach handles WS /api/panel/attach - attaches to the open panel.
func (h *PanelHandler) Attach(c *gin.Context) {
	panel, ok := h.host.Surface().(*ws.Panel)
	if !ok || panel == nil {
		sendError(c, http.StatusNotFound, "PANEL_NOT_FOUND", "No panel is open; run a script first")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, panel); err != nil {
		log.Printf("Panel attach failed: %v", err)
	}
}

// Close handles DELETE /api/panel - closes the panel, killing the session.
func (h *PanelHandler) Close(c *gin.Context) {
	if h.host.Surface() == nil {
		sendError(c, http.StatusNotFound, "PANEL_NOT_FOUND", "No panel is open")
		return
	}
	h.host.Dispose()
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the panel routes on a Gin router group.
func (h *PanelHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/panel/attach", h.Attach)
	rg.DELETE("/panel", h.Close)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-same/collab-hub/internal/ws"
)

// StatsHandler exposes hub introspection.
type StatsHandler struct {
	hub *ws.Hub
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(hub *ws.Hub) *StatsHandler {
	return &StatsHandler{hub: hub}
}

// StatsResponse is the body of GET /api/hub/stats.
type StatsResponse struct {
	InstanceID  string         `json:"instance_id"`
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	Members     map[string]int `json:"members"`
}

// Get handles GET /api/hub/stats.
func (h *StatsHandler) Get(c *gin.Context) {
	members := h.hub.Rooms()
	c.JSON(http.StatusOK, StatsResponse{
		InstanceID:  h.hub.InstanceID(),
		Connections: h.hub.ConnectionCount(),
		Rooms:       len(members),
		Members:     members,
	})
}

// RegisterRoutes registers the stats route on a Gin router group.
func (h *StatsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/hub/stats", h.Get)
}

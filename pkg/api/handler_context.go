package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/provision"
)

// contextStatsHandler handles GET /api/v1/context/stats.
// Without an agent_id parameter, stats cover every configured agent; agents
// with no tracked windows are omitted.
func (s *Server) contextStatsHandler(c *echo.Context) error {
	response := &ContextStatsResponse{Agents: make(map[string]provision.UsageStats)}

	if agentID := c.QueryParam("agent_id"); agentID != "" {
		if !s.cfg.ProfileRegistry.Has(agentID) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown agent: "+agentID)
		}
		response.Agents[agentID] = s.tracker.Stats(agentID)
		return c.JSON(http.StatusOK, response)
	}

	for _, agentID := range s.cfg.ProfileRegistry.AgentIDs() {
		stats := s.tracker.Stats(agentID)
		if stats.Windows == 0 {
			continue
		}
		response.Agents[agentID] = stats
	}
	return c.JSON(http.StatusOK, response)
}

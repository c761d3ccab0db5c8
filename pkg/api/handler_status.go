package api

import (
	"net/http"
	"sort"
	"time"

	echo "github.com/labstack/echo/v5"
)

// statusHandler handles GET /api/v1/status. Reports the kernel-wide
// snapshot: phase, cycle, registered and active agents, log counts.
func (s *Server) statusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.kernel.SystemStatus())
}

// MCPServersResponse is returned by GET /api/v1/system/mcp-servers.
type MCPServersResponse struct {
	Servers []MCPServerStatus `json:"servers"`
}

// MCPServerStatus describes the health of a single store server.
type MCPServerStatus struct {
	ID        string  `json:"id"`
	Healthy   bool    `json:"healthy"`
	LastCheck string  `json:"last_check"`
	ToolCount int     `json:"tool_count"`
	Error     *string `json:"error"`
}

// mcpServersHandler handles GET /api/v1/system/mcp-servers.
func (s *Server) mcpServersHandler(c *echo.Context) error {
	response := MCPServersResponse{
		Servers: []MCPServerStatus{},
	}
	if s.healthMonitor == nil {
		return c.JSON(http.StatusOK, response)
	}

	for serverID, status := range s.healthMonitor.GetStatuses() {
		server := MCPServerStatus{
			ID:        serverID,
			Healthy:   status.Healthy,
			LastCheck: status.LastCheck.Format(time.RFC3339),
			ToolCount: status.ToolCount,
		}
		if status.Error != "" {
			server.Error = &status.Error
		}
		response.Servers = append(response.Servers, server)
	}

	// Sort for deterministic output.
	sort.Slice(response.Servers, func(i, j int) bool {
		return response.Servers[i].ID < response.Servers[j].ID
	})
	return c.JSON(http.StatusOK, response)
}

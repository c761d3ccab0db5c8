package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// MCP store health degrades the status but never marks it unhealthy;
// external stores going down must not get the kernel restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	status := healthStatusHealthy
	response := &HealthResponse{
		Version: version.GitCommit,
	}

	cfgStats := s.cfg.Stats()
	response.Configuration = ConfigurationStats{
		Profiles:     cfgStats.Profiles,
		Policies:     cfgStats.Policies,
		MCPServers:   cfgStats.MCPServers,
		LLMProviders: cfgStats.LLMProviders,
	}

	if s.dbClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := s.dbClient.Health(reqCtx)
		response.Database = dbHealth
		if err != nil {
			status = healthStatusUnhealthy
		}
	}

	if s.healthMonitor != nil {
		response.MCPHealth = s.healthMonitor.GetStatuses()
		if !s.healthMonitor.IsHealthy() && status == healthStatusHealthy {
			status = healthStatusDegraded
		}
	}

	response.Status = status
	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, response)
}

package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// defaultReportCycles is how many recent cycles the performance report
// covers when the caller does not say.
const defaultReportCycles = 5

// performanceHandler handles GET /api/v1/performance/:agent.
// With ?cycle_id=X it returns that cycle's scored metrics as JSON; otherwise
// the rendered multi-cycle report.
func (s *Server) performanceHandler(c *echo.Context) error {
	agentID := c.Param("agent")

	if cycleID := c.QueryParam("cycle_id"); cycleID != "" {
		metrics, err := s.kernel.EvaluateAgentPerformance(agentID, cycleID)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, metrics)
	}

	cycles := defaultReportCycles
	if v := c.QueryParam("cycles"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "cycles must be a positive integer")
		}
		cycles = parsed
	}

	report, err := s.kernel.GetPerformanceReport(agentID, cycles)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &PerformanceResponse{AgentID: agentID, Report: report})
}

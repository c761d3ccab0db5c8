package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
)

// listFlagsHandler handles GET /api/v1/flags.
// Optional query parameters: cycle_id, agent_id, phase, type.
func (s *Server) listFlagsHandler(c *echo.Context) error {
	filter := improve.FlagFilter{
		CycleID: c.QueryParam("cycle_id"),
		AgentID: c.QueryParam("agent_id"),
	}
	if v := c.QueryParam("phase"); v != "" {
		phase := ems.Phase(v)
		if !phase.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown phase: "+v)
		}
		filter.Phase = phase
	}
	if v := c.QueryParam("type"); v != "" {
		flagType := ems.InefficiencyType(v)
		if !flagType.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown inefficiency type: "+v)
		}
		filter.Type = flagType
	}

	flags := s.kernel.Flags(filter)
	return c.JSON(http.StatusOK, &FlagsResponse{Flags: flags, Count: len(flags)})
}

// flagReportHandler handles GET /api/v1/flags/report. Returns the rendered
// process improvement report as plain text.
func (s *Server) flagReportHandler(c *echo.Context) error {
	return c.String(http.StatusOK, s.kernel.GetProcessImprovementReport())
}

// patternsHandler handles GET /api/v1/patterns. Mines the full flag log for
// recurring inefficiency signatures.
func (s *Server) patternsHandler(c *echo.Context) error {
	patterns := s.kernel.AnalyzePatterns()
	return c.JSON(http.StatusOK, &PatternsResponse{Patterns: patterns, Count: len(patterns)})
}

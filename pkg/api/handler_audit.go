package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/ems"
)

// auditHandler handles GET /api/v1/audit.
// Optional query parameters: agent_id, category, since (RFC3339).
func (s *Server) auditHandler(c *echo.Context) error {
	filter := broker.AuditFilter{
		AgentID: c.QueryParam("agent_id"),
	}
	if v := c.QueryParam("category"); v != "" {
		category := ems.InformationCategory(v)
		if !category.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category: "+v)
		}
		filter.Category = category
	}
	if v := c.QueryParam("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC3339")
		}
		filter.Since = since
	}

	entries := s.kernel.Broker().AuditTrail().Entries(filter)
	return c.JSON(http.StatusOK, &AuditResponse{Entries: entries, Count: len(entries)})
}

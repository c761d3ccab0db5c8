package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/ems"
)

// queryHandler handles POST /api/v1/query. Routes an information query
// through the broker under the named agent's access profile; denials map to
// 403 with the audit trail recording the attempt.
func (s *Server) queryHandler(c *echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id field is required")
	}
	category := ems.InformationCategory(req.Category)
	if !category.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category: "+req.Category)
	}

	result, err := s.kernel.QueryInformation(c.Request().Context(), req.AgentID, category, req.Params)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

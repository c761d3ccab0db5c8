package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/ems"
)

// authorizeHandler handles POST /api/v1/authorize. Dry-runs the six-factor
// evaluation; the decision is returned, nothing is executed.
func (s *Server) authorizeHandler(c *echo.Context) error {
	var req AuthorizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id field is required")
	}
	if req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action field is required")
	}

	categories := make([]ems.InformationCategory, 0, len(req.Categories))
	for _, raw := range req.Categories {
		category := ems.InformationCategory(raw)
		if !category.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown category: "+raw)
		}
		categories = append(categories, category)
	}

	decision := s.kernel.AuthorizeAction(c.Request().Context(), req.AgentID, authz.Action{
		Name:            req.Action,
		Description:     req.Description,
		Categories:      categories,
		OnBehalfOf:      req.OnBehalfOf,
		DelegationDepth: req.DelegationDepth,
		Context:         req.Context,
	})
	return c.JSON(http.StatusOK, decision)
}

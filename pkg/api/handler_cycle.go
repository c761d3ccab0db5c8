package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/orchestrator"
)

// startCycleHandler handles POST /api/v1/cycles.
func (s *Server) startCycleHandler(c *echo.Context) error {
	var req StartCycleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cycle, err := s.kernel.StartCycle(req.CycleID, req.CancelActive)
	if err != nil {
		return mapServiceError(err)
	}
	s.logger.Info("Cycle started via API", "cycle", cycle.ID, "author", requestOperator(c))

	return c.JSON(http.StatusCreated, &StartCycleResponse{
		CycleID: cycle.ID,
		Phase:   string(cycle.CurrentPhase),
		Status:  cycle.Status,
	})
}

// currentCycleHandler handles GET /api/v1/cycles/current.
func (s *Server) currentCycleHandler(c *echo.Context) error {
	summary, err := s.kernel.CycleSummary()
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// advancePhaseHandler handles POST /api/v1/cycles/advance.
// An empty body advances to the next phase; a target phase skips forward
// under an operator override.
func (s *Server) advancePhaseHandler(c *echo.Context) error {
	var req AdvancePhaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Target == "" {
		phase, err := s.kernel.AdvancePhase()
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, &AdvancePhaseResponse{Phase: string(phase)})
	}

	target := ems.Phase(req.Target)
	if !target.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown phase: "+req.Target)
	}
	approvedBy := req.ApprovedBy
	if approvedBy == "" {
		approvedBy = requestOperator(c)
	}
	phase, err := s.kernel.SkipToPhase(target, &orchestrator.Override{
		ApprovedBy: approvedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AdvancePhaseResponse{Phase: string(phase)})
}

// listCyclesHandler handles GET /api/v1/cycles. Cycle history is served from
// the database; without persistence only the current cycle exists.
func (s *Server) listCyclesHandler(c *echo.Context) error {
	if s.cycleService == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "cycle history requires persistence")
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}
	records, err := s.cycleService.ListCycles(c.Request().Context(), limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, records)
}

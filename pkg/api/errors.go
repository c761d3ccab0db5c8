package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/kernel"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/services"
)

// mapServiceError maps kernel and subsystem errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, orchestrator.ErrNoActiveCycle):
		return echo.NewHTTPError(http.StatusNotFound, "no active cycle")
	case errors.Is(err, orchestrator.ErrCycleActive):
		return echo.NewHTTPError(http.StatusConflict, "a cycle is already active")
	case errors.Is(err, orchestrator.ErrIllegalTransition):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrOverrideRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrCriticalSkip):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, kernel.ErrAgentNotRegistered):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, kernel.ErrAgentNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrProfileNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, broker.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, broker.ErrUnknownCategory):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	var unavailable *broker.UnavailableError
	if errors.As(err, &unavailable) {
		return echo.NewHTTPError(http.StatusBadGateway, unavailable.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

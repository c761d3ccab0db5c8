// Package api exposes the kernel's operational surface over HTTP: cycle
// control, authorization dry-runs, broker queries, process improvement
// reports, the audit trail, and the WebSocket event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/database"
	"github.com/aether-os/aether/pkg/events"
	"github.com/aether-os/aether/pkg/kernel"
	"github.com/aether-os/aether/pkg/mcp"
	"github.com/aether-os/aether/pkg/provision"
	"github.com/aether-os/aether/pkg/services"
)

// Server is the HTTP API over the kernel. Optional collaborators (database,
// MCP health monitor, persistence services) may be nil; their endpoints
// degrade instead of failing.
type Server struct {
	cfg         *config.Config
	kernel      *kernel.Kernel
	tracker     *provision.Tracker
	connManager *events.ConnectionManager
	logger      *slog.Logger

	dbClient      *database.Client
	healthMonitor *mcp.HealthMonitor
	cycleService  *services.CycleService

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer wires the routes. Call Start to begin serving.
func NewServer(cfg *config.Config, k *kernel.Kernel, tracker *provision.Tracker, connManager *events.ConnectionManager) *Server {
	s := &Server{
		cfg:         cfg,
		kernel:      k,
		tracker:     tracker,
		connManager: connManager,
		logger:      slog.With("component", "api"),
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.GET("/status", s.statusHandler)
	v1.POST("/cycles", s.startCycleHandler)
	v1.GET("/cycles", s.listCyclesHandler)
	v1.GET("/cycles/current", s.currentCycleHandler)
	v1.POST("/cycles/advance", s.advancePhaseHandler)
	v1.POST("/authorize", s.authorizeHandler)
	v1.POST("/query", s.queryHandler)
	v1.GET("/flags", s.listFlagsHandler)
	v1.GET("/flags/report", s.flagReportHandler)
	v1.GET("/patterns", s.patternsHandler)
	v1.GET("/audit", s.auditHandler)
	v1.GET("/context/stats", s.contextStatsHandler)
	v1.GET("/performance/:agent", s.performanceHandler)
	v1.GET("/system/mcp-servers", s.mcpServersHandler)

	s.echo = e
	return s
}

// SetDBClient attaches the database for health reporting.
func (s *Server) SetDBClient(db *database.Client) { s.dbClient = db }

// SetHealthMonitor attaches the MCP health monitor.
func (s *Server) SetHealthMonitor(m *mcp.HealthMonitor) { s.healthMonitor = m }

// SetCycleService attaches persisted cycle history.
func (s *Server) SetCycleService(svc *services.CycleService) { s.cycleService = svc }

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// AetherOS server — boots the kernel, wires the agent subsystems, and serves
// the HTTP API and WebSocket event stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aether-os/aether/pkg/api"
	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/database"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/events"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/kernel"
	"github.com/aether-os/aether/pkg/llm"
	"github.com/aether-os/aether/pkg/mcp"
	"github.com/aether-os/aether/pkg/metrics"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/policy"
	"github.com/aether-os/aether/pkg/provision"
	"github.com/aether-os/aether/pkg/sanitize"
	"github.com/aether-os/aether/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})))

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting AetherOS", "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration: built-ins merged under YAML overrides
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Optional PostgreSQL persistence for flags, audit, usage, cycles,
	// and the event stream. Without it everything stays in memory.
	var (
		dbClient     *database.Client
		cycleService *services.CycleService
		usageService *services.UsageService
		flagChain    improve.FlagSink
		auditChain   broker.AuditSink
		usageChain   provision.UsageSink
	)
	var eventStore interface {
		events.EventStore
		events.CatchupQuerier
	} = events.NewMemoryStore(0)

	if cfg.System.Database.Enabled {
		dbConfig, err := database.LoadConfigFromEnv(cfg.System.Database.DSNEnv)
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()

		db := dbClient.DB()
		flagChain = services.NewFlagService(db)
		auditChain = services.NewAuditService(db)
		usageService = services.NewUsageService(db)
		usageChain = usageService
		cycleService = services.NewCycleService(db)
		eventStore = services.NewEventService(db)
		slog.Info("Connected to PostgreSQL database")
	}

	// 3. Event streaming: bus → WebSocket fan-out, with catchup served from
	// the event store.
	bus := events.NewBus()
	pub := events.NewPublisher(eventStore, bus)
	connManager := events.NewConnectionManager(eventStore, 10*time.Second)
	bus.Subscribe(connManager.Broadcast)

	// 4. Embeddings and the doctrine knowledge base
	engine := buildEmbeddingEngine(cfg)
	kb := doctrine.NewMemoryKB(engine)
	loadDoctrine(ctx, kb, filepath.Join(*configDir, "doctrine"))

	// 5. Orchestrator and the information broker
	orch := orchestrator.New(cfg.Schedule, orchestrator.Options{
		MonitorInterval: cfg.System.Orchestrator.MonitorInterval,
	})

	trail := broker.NewAuditTrail(metrics.AuditSink{Chain: auditChain})
	brk := broker.New(cfg.ProfileRegistry, cfg.PolicyRegistry, sanitize.NewService(), trail, orch.PhaseOrDefault)
	brk.SetBackend(ems.CategoryDoctrine, &broker.DoctrineBackend{KB: kb})

	// 6. MCP store servers back the operational categories; categories
	// without a configured server fall back to in-memory stores.
	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry)
	serverIDs := cfg.MCPServerRegistry.ServerIDs()

	var healthMonitor *mcp.HealthMonitor
	if len(serverIDs) > 0 {
		mcpClient, err := mcpFactory.CreateClient(ctx, serverIDs)
		if err != nil {
			slog.Error("Failed to connect to MCP store servers", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := mcpClient.Close(); err != nil {
				slog.Error("Error closing MCP client", "error", err)
			}
		}()
		wireStoreBackends(brk, mcpClient, cfg.MCPServerRegistry)

		healthMonitor = mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
		slog.Info("MCP store servers connected", "count", len(serverIDs))
	}
	wireMemoryFallbacks(brk, cfg.MCPServerRegistry)

	// 7. External authorization policy
	var evaluator policy.Evaluator
	switch cfg.System.Policy.Mode {
	case config.PolicyModeHTTP:
		evaluator = policy.NewHTTPEvaluator(cfg.System.Policy.URL, cfg.System.Policy.Timeout)
	case config.PolicyModeDisabled:
		evaluator = policy.Static{Decision: true}
	default:
		evaluator, err = policy.NewEmbeddedEvaluator(ctx, "")
		if err != nil {
			slog.Error("Failed to compile embedded policy", "error", err)
			os.Exit(1)
		}
	}

	currentCycleID := func() string {
		cycle, err := orch.CurrentCycle()
		if err != nil {
			return ""
		}
		return cycle.ID
	}

	authzEngine := authz.New(cfg.ProfileRegistry, cfg.PolicyRegistry,
		orch.PhaseOrDefault, currentCycleID, kb, evaluator, cfg.System.FailOpen())

	// 8. Process improvement and context provisioning
	thresholds := improve.DefaultThresholds()
	thresholds.TimingFactor = cfg.System.Improvement.TimingFactor
	flags := improve.NewLogger(events.FlagSink{Pub: pub, Chain: metrics.FlagSink{Chain: flagChain}})
	detector := improve.NewDetector(flags, thresholds)
	miner := improve.NewMiner(cfg.System.Improvement.PatternMinOccurrences, cfg.System.Improvement.PatternMinCycles)

	tracker := provision.NewTracker(engine, cfg.System.Context.RelevanceThreshold,
		events.UsageSink{Pub: pub, Chain: metrics.UsageSink{Chain: usageChain}})

	// Organizational and process-metrics categories are served in-process.
	brk.SetBackend(ems.CategoryOrganizational, broker.NewMemoryBackend(broker.SampleOrgRecords()))
	brk.SetBackend(ems.CategoryProcessMetrics, broker.FuncBackend(
		func(_ context.Context, _ map[string]any) ([]broker.Record, error) {
			summary := improve.Summarize(flags.Flags(improve.FlagFilter{}))
			return []broker.Record{{
				"total_flags":             summary.TotalFlags,
				"by_type":                 summary.ByType,
				"by_phase":                summary.ByPhase,
				"by_agent":                summary.ByAgent,
				"total_time_wasted_hours": summary.TotalTimeWasted,
			}}, nil
		}))

	// 9. LLM provider chain. Agents degrade to doctrine-derived outputs
	// when no provider is reachable.
	retries := config.DefaultMaxRetries
	if cfg.Defaults.MaxRetries != nil {
		retries = *cfg.Defaults.MaxRetries
	}
	llmClient, err := llm.NewClient(ctx, cfg.LLMProviderRegistry, cfg.Defaults.ProviderPriority, retries)
	if err != nil {
		slog.Warn("No LLM providers available, agents run without generation", "error", err)
		llmClient = nil
	}

	// 10. Kernel
	k := kernel.New(kernel.Deps{
		Profiles:     cfg.ProfileRegistry,
		Orchestrator: orch,
		Broker:       brk,
		Authz:        authzEngine,
		Flags:        flags,
		Detector:     detector,
		Miner:        miner,
		Embedder:     engine,
		Tracker:      tracker,
		LLM:          llmClient,
		ContextOptions: provision.Options{
			DefaultTokenBudget: cfg.System.Context.DefaultTokenBudget,
			DoctrinalFloor:     cfg.System.Context.DoctrinalFloor,
		},
		DispatchPhaseTasks: true,
	})

	orch.Subscribe(events.OrchestratorHandler(pub, cfg.ProfileRegistry))
	orch.Subscribe(metrics.OrchestratorHandler)
	if cycleService != nil {
		orch.Subscribe(cycleService.Handler(orch.CycleSummary))
	}
	if usageService != nil {
		usageService.CycleIDFn = currentCycleID
	}

	builtins := ems.BuiltinProfiles()
	for _, id := range []string{
		ems.AgentEMSStrategy,
		ems.AgentSpectrumManager,
		ems.AgentEWPlanner,
		ems.AgentATOProducer,
		ems.AgentAssessment,
		ems.AgentEvaluator,
	} {
		if err := k.RegisterAgent(builtins[id]); err != nil {
			slog.Error("Failed to register agent", "agent", id, "error", err)
			os.Exit(1)
		}
	}

	if cfg.System.Orchestrator.AutoAdvance {
		orch.StartMonitor()
	}

	// 11. HTTP server
	httpServer := api.NewServer(cfg, k, tracker, connManager)
	if dbClient != nil {
		httpServer.SetDBClient(dbClient)
	}
	if healthMonitor != nil {
		httpServer.SetHealthMonitor(healthMonitor)
	}
	if cycleService != nil {
		httpServer.SetCycleService(cycleService)
	}

	addr := fmt.Sprintf("%s:%d", cfg.System.API.Host, cfg.System.API.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("AetherOS started",
		"phase", k.CurrentPhase(),
		"agents", len(k.RegisteredAgents()),
		"auto_advance", cfg.System.Orchestrator.AutoAdvance)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: stop the schedule, drain agent workers, then
	// the HTTP listener.
	if cfg.System.Orchestrator.AutoAdvance {
		orch.StopMonitor()
	}
	k.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// buildEmbeddingEngine prefers a provider-backed embedder when an OpenAI
// provider with credentials is configured. Otherwise the deterministic hash
// engine keeps relevance scoring available offline.
func buildEmbeddingEngine(cfg *config.Config) embedding.Engine {
	for name, provider := range cfg.LLMProviderRegistry.GetAll() {
		if provider.Type != config.LLMProviderTypeOpenAI || provider.APIKeyEnv == "" {
			continue
		}
		apiKey := os.Getenv(provider.APIKeyEnv)
		if apiKey == "" {
			continue
		}
		opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(provider.Model)}
		if provider.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(provider.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			slog.Warn("Embedding provider unavailable", "provider", name, "error", err)
			continue
		}
		engine, err := embedding.NewLangchainEngine(client)
		if err != nil {
			slog.Warn("Embedder construction failed", "provider", name, "error", err)
			continue
		}
		slog.Info("Provider-backed embeddings enabled", "provider", name)
		return engine
	}
	slog.Info("No embedding provider configured, using hash engine")
	return embedding.NewHashEngine()
}

// loadDoctrine indexes markdown and text files from dir into the KB. A
// missing directory is fine; the doctrinal authorization factor soft-passes
// over an empty KB.
func loadDoctrine(ctx context.Context, kb *doctrine.MemoryKB, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not read doctrine directory", "dir", dir, "error", err)
		}
		return
	}

	var docs []doctrine.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".md" && ext != ".txt" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("Could not read doctrine file", "file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, doctrine.Document{
			ID:      strings.TrimSuffix(entry.Name(), ext),
			Content: string(content),
		})
	}
	if len(docs) == 0 {
		return
	}
	if err := kb.AddBatch(ctx, docs); err != nil {
		slog.Warn("Doctrine indexing failed", "error", err)
		return
	}
	slog.Info("Doctrine indexed", "documents", len(docs))
}

// wireStoreBackends routes each operational category with a configured store
// server through MCP. The first server declaring a category serves it.
func wireStoreBackends(brk *broker.Broker, client *mcp.Client, registry *config.MCPServerRegistry) {
	if ids := registry.ServersFor(ems.CategoryThreatData); len(ids) > 0 {
		store, err := mcp.NewThreatStore(client, ids[0])
		if err != nil {
			slog.Warn("Threat store unavailable", "server", ids[0], "error", err)
		} else {
			brk.SetBackend(ems.CategoryThreatData, store)
		}
	}
	if ids := registry.ServersFor(ems.CategoryMissionPlan); len(ids) > 0 {
		store, err := mcp.NewMissionStore(client, ids[0])
		if err != nil {
			slog.Warn("Mission store unavailable", "server", ids[0], "error", err)
		} else {
			brk.SetBackend(ems.CategoryMissionPlan, store)
		}
	}
	if ids := registry.ServersFor(ems.CategorySpectrumAllocation); len(ids) > 0 {
		store, err := mcp.NewSpectrumStore(client, ids[0])
		if err != nil {
			slog.Warn("Spectrum store unavailable", "server", ids[0], "error", err)
		} else {
			brk.SetBackend(ems.CategorySpectrumAllocation, store)
		}
	}
	if ids := registry.ServersFor(ems.CategoryAssetStatus); len(ids) > 0 {
		store, err := mcp.NewAssetStore(client, ids[0])
		if err != nil {
			slog.Warn("Asset store unavailable", "server", ids[0], "error", err)
		} else {
			brk.SetBackend(ems.CategoryAssetStatus, store)
		}
	}
}

// wireMemoryFallbacks installs in-memory stores for every operational
// category no server declares, so broker routing always resolves.
func wireMemoryFallbacks(brk *broker.Broker, registry *config.MCPServerRegistry) {
	if len(registry.ServersFor(ems.CategoryThreatData)) == 0 {
		brk.SetBackend(ems.CategoryThreatData, broker.NewMemoryBackend(broker.SampleThreatRecords()))
	}
	if len(registry.ServersFor(ems.CategoryMissionPlan)) == 0 {
		brk.SetBackend(ems.CategoryMissionPlan, broker.NewMemoryBackend(nil))
	}
	if len(registry.ServersFor(ems.CategorySpectrumAllocation)) == 0 {
		brk.SetBackend(ems.CategorySpectrumAllocation, broker.NewMemorySpectrumBackend())
	}
	if len(registry.ServersFor(ems.CategoryAssetStatus)) == 0 {
		brk.SetBackend(ems.CategoryAssetStatus, broker.NewMemoryAssetBackend())
	}
}

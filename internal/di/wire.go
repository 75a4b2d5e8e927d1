// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/deepblue/internal/clients/model"
	"github.com/aristath/deepblue/internal/config"
	"github.com/aristath/deepblue/internal/database"
	"github.com/aristath/deepblue/internal/events"
	"github.com/aristath/deepblue/internal/modules/agent"
	agenthandlers "github.com/aristath/deepblue/internal/modules/agent/handlers"
	"github.com/aristath/deepblue/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/deepblue/internal/modules/ledger/handlers"
	"github.com/aristath/deepblue/internal/modules/marketdata"
	"github.com/aristath/deepblue/internal/modules/toolruns"
	"github.com/aristath/deepblue/internal/modules/tools"
	"github.com/aristath/deepblue/internal/services"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Databases (open + migrate)
// 2. Events
// 3. Repositories
// 4. Services and clients
// 5. Handlers
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	if err := initializeDatabases(container, cfg); err != nil {
		container.Close()
		return nil, err
	}

	// Events
	container.EventBus = events.NewBus()
	container.EventManager = events.NewManager(container.EventBus, log)

	// Repositories
	container.TradeRepo = ledger.NewTradeRepository(container.LedgerDB.Conn(), log)
	container.PositionRepo = ledger.NewPositionRepository(container.LedgerDB.Conn(), log)
	container.ThreadRepo = agent.NewRepository(container.AgentsDB.Conn(), log)
	container.ToolRunRepo = toolruns.NewRepository(container.AgentsDB.Conn(), log)

	// Trade execution
	container.TradeExecutor = services.NewTradeExecutor(
		container.LedgerDB.Conn(),
		container.TradeRepo,
		container.PositionRepo,
		container.EventManager,
		cfg.BaseCurrency,
		log,
	)

	// Market data (subprocess fetcher + short-TTL cache)
	fetcher := marketdata.NewFetcher(marketdata.FetcherConfig{
		PythonBin:     cfg.PythonBin,
		ScriptsDir:    cfg.ScriptsDir,
		Timeout:       cfg.SubprocessTimeout,
		MaxConcurrent: int64(cfg.SubprocessGate),
	}, log)

	cache, err := marketdata.NewCache(cfg.MarketDataTTL, log)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize market data cache: %w", err)
	}
	container.MarketCache = cache
	container.MarketData = marketdata.NewService(fetcher, cache, log)

	// Tools
	container.ToolRegistry = tools.NewRegistry(
		tools.NewQuoteTool(container.MarketData),
		tools.NewCandlesTool(container.MarketData),
		tools.NewTechnicalReportTool(container.MarketData),
		tools.NewOpenChartTool(container.EventManager),
		tools.NewTradeTool(container.TradeExecutor),
	)
	container.Dispatcher = tools.NewDispatcher(
		container.ToolRegistry,
		container.ToolRunRepo,
		cfg.MaxToolCallsPerTurn,
		cfg.ToolReadConcurrency,
		log,
	)

	// Model client and orchestrator
	container.ModelClient = model.NewClient(model.Config{
		BaseURL:   cfg.ModelAPIURL,
		APIKey:    cfg.ModelAPIKey,
		ModelName: cfg.ModelName,
		Timeout:   cfg.ModelTimeout,
	}, log)

	container.Orchestrator = agent.NewOrchestrator(
		container.ModelClient,
		container.Dispatcher,
		container.ThreadRepo,
		container.EventManager,
		cfg.MaxAgentIterations,
		log,
	)

	// Handlers
	container.LedgerHandlers = ledgerhandlers.NewHandler(
		container.TradeRepo,
		container.PositionRepo,
		container.TradeExecutor,
		log,
	)
	container.AgentHandlers = agenthandlers.NewHandler(
		container.Orchestrator,
		container.ThreadRepo,
		log,
	)

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}

// initializeDatabases opens both databases and applies their schemas.
func initializeDatabases(container *Container, cfg *config.Config) error {
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/ledger.db",
		Profile: database.ProfileLedger, // Maximum safety for immutable audit trail
		Name:    "ledger",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	agentsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/agents.db",
		Profile: database.ProfileStandard,
		Name:    "agents",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize agents database: %w", err)
	}
	container.AgentsDB = agentsDB

	if err := ledgerDB.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate ledger database: %w", err)
	}
	if err := agentsDB.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate agents database: %w", err)
	}

	return nil
}

// Package di provides dependency injection type definitions.
//
// The Container is the single source of truth for all service instances.
// It is created by Wire() and handed to the server and background jobs.
package di

import (
	"github.com/aristath/deepblue/internal/clients/model"
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

// Container holds all dependencies for the application.
type Container struct {
	// Databases (2-database architecture)
	// ledger.db is the immutable financial audit trail, agents.db holds
	// conversation threads and tool run observability records.
	LedgerDB *database.DB
	AgentsDB *database.DB

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	TradeRepo    *ledger.TradeRepository
	PositionRepo *ledger.PositionRepository
	ThreadRepo   *agent.Repository
	ToolRunRepo  *toolruns.Repository

	// Clients
	ModelClient *model.Client

	// Services
	TradeExecutor *services.TradeExecutor
	MarketData    *marketdata.Service
	MarketCache   *marketdata.Cache
	ToolRegistry  *tools.Registry
	Dispatcher    *tools.Dispatcher
	Orchestrator  *agent.Orchestrator

	// Handlers
	LedgerHandlers *ledgerhandlers.Handler
	AgentHandlers  *agenthandlers.Handler
}

// Close releases resources held by the container. Safe to call on a
// partially initialized container.
func (c *Container) Close() {
	if c.MarketCache != nil {
		c.MarketCache.Close()
	}
	if c.AgentsDB != nil {
		c.AgentsDB.Close()
	}
	if c.LedgerDB != nil {
		c.LedgerDB.Close()
	}
}

// Package main is the entry point for the Deep Blue trading agent.
// The application exposes an LLM-driven conversational agent that can
// inspect market data, open charts, and execute trades against an
// idempotent local ledger.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/deepblue/internal/config"
	"github.com/aristath/deepblue/internal/di"
	"github.com/aristath/deepblue/internal/reliability"
	"github.com/aristath/deepblue/internal/server"
	"github.com/aristath/deepblue/pkg/logger"
)

// main orchestrates the system startup sequence:
// 1. Loads configuration from environment variables
// 2. Initializes logging
// 3. Wires all dependencies via the DI container (databases, repositories, services)
// 4. Starts the nightly maintenance service
// 5. Starts the HTTP server
// 6. Waits for a shutdown signal and performs graceful shutdown
//
// The application uses a 2-database architecture:
// - ledger.db: Immutable financial audit trail (trades, positions)
// - agents.db: Conversation threads, messages, and tool run records
func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting Deep Blue")

	// Wire all dependencies using DI container
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Nightly database maintenance (WAL checkpoints, tool-run retention)
	maintenance := reliability.NewMaintenanceService(
		container.LedgerDB,
		container.AgentsDB,
		container.ToolRunRepo,
		cfg.DataDir,
		cfg.ToolRunRetentionDays,
		log,
	)
	if err := maintenance.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start maintenance service")
	}

	// HTTP server
	srv := server.New(server.Config{
		Log:       log,
		LedgerDB:  container.LedgerDB,
		AgentsDB:  container.AgentsDB,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	maintenance.Stop()

	// The HTTP server is given up to 10 seconds to finish processing
	// in-flight requests before being forced to shut down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

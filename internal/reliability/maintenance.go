// Package reliability provides scheduled database maintenance.
package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/deepblue/internal/database"
	"github.com/aristath/deepblue/internal/modules/toolruns"
)

// Runs nightly, outside market hours.
const maintenanceSchedule = "0 3 * * *"

// MaintenanceService runs nightly database maintenance: WAL checkpoints
// on both databases, tool-run retention cleanup, and a disk space check.
type MaintenanceService struct {
	cron          *cron.Cron
	ledgerDB      *database.DB
	agentsDB      *database.DB
	toolRuns      *toolruns.Repository
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// NewMaintenanceService creates a new maintenance service
func NewMaintenanceService(
	ledgerDB, agentsDB *database.DB,
	toolRuns *toolruns.Repository,
	dataDir string,
	retentionDays int,
	log zerolog.Logger,
) *MaintenanceService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &MaintenanceService{
		cron:          cron.New(),
		ledgerDB:      ledgerDB,
		agentsDB:      agentsDB,
		toolRuns:      toolRuns,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("service", "maintenance").Logger(),
	}
}

// Start schedules the nightly maintenance job and starts the cron runner.
func (s *MaintenanceService) Start() error {
	if _, err := s.cron.AddFunc(maintenanceSchedule, func() {
		if err := s.RunMaintenance(); err != nil {
			s.log.Error().Err(err).Msg("Nightly maintenance failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule maintenance job: %w", err)
	}

	s.cron.Start()
	s.log.Info().Str("schedule", maintenanceSchedule).Msg("Maintenance service started")
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (s *MaintenanceService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Maintenance service stopped")
}

// RunMaintenance executes one maintenance pass. Exported so it can be
// triggered manually.
func (s *MaintenanceService) RunMaintenance() error {
	s.log.Info().Msg("Starting nightly maintenance")
	startTime := time.Now()

	// WAL checkpoint for both databases (prevent bloat)
	for _, db := range []*database.DB{s.ledgerDB, s.agentsDB} {
		s.log.Debug().Str("database", db.Name()).Msg("Running WAL checkpoint")

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().
				Str("database", db.Name()).
				Err(err).
				Msg("WAL checkpoint failed")
			// Not critical, continue
		}
	}

	// Tool-run retention cleanup
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	deleted, err := s.toolRuns.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Tool run cleanup failed")
	} else if deleted > 0 {
		s.log.Info().
			Int64("deleted", deleted).
			Int("retention_days", s.retentionDays).
			Msg("Pruned old tool runs")
	}

	// Disk space check
	if err := s.checkDiskSpace(); err != nil {
		return err
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Nightly maintenance completed")

	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (s *MaintenanceService) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(filepath.Clean(s.dataDir), &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	s.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < 0.5 {
		return fmt.Errorf("only %.2f GB free on data volume", availableGB)
	}

	if availableGB < 5.0 {
		s.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Low disk space - consider cleanup")
	}

	return nil
}

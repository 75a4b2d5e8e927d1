package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/deepblue/internal/database"
)

// SystemHandlers exposes operational status endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	ledgerDB    *database.DB
	agentsDB    *database.DB
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, ledgerDB, agentsDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		ledgerDB:    ledgerDB,
		agentsDB:    agentsDB,
	}
}

// DBInfo represents information about a single database
type DBInfo struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	SizeMB float64 `json:"size_mb"`
}

// SystemStatusResponse represents the full system status snapshot
type SystemStatusResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	Goroutines    int      `json:"goroutines"`
	Databases     []DBInfo `json:"databases"`
	TradeCount    int      `json:"trade_count"`
	OpenPositions int      `json:"open_positions"`
	ThreadCount   int      `json:"thread_count"`
	LastTradeAt   string   `json:"last_trade_at,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

// HandleHealth handles GET /api/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "deepblue",
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.GetSystemStatusSnapshot()
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}

	h.writeJSON(w, response)
}

// GetSystemStatusSnapshot returns a snapshot of the current system status.
// Individual probe failures degrade the snapshot instead of failing it;
// the first error encountered is returned alongside the partial result.
func (h *SystemHandlers) GetSystemStatusSnapshot() (SystemStatusResponse, error) {
	if h == nil {
		return SystemStatusResponse{}, fmt.Errorf("system handlers not initialized")
	}

	var firstErr error
	recordErr := func(err error) {
		if err != nil && err != sql.ErrNoRows && firstErr == nil {
			firstErr = err
		}
	}

	cpuPercent, memPercent := h.getSystemStats()

	var tradeCount int
	var lastTrade sql.NullInt64
	err := h.ledgerDB.Conn().QueryRow(`
		SELECT COUNT(*), MAX(executed_at)
		FROM trades
	`).Scan(&tradeCount, &lastTrade)
	if err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to query trades")
		recordErr(err)
	}

	var openPositions int
	err = h.ledgerDB.Conn().QueryRow(`
		SELECT COUNT(*) FROM positions WHERE is_open = 1
	`).Scan(&openPositions)
	if err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to query positions")
		recordErr(err)
	}

	var threadCount int
	err = h.agentsDB.Conn().QueryRow(`
		SELECT COUNT(*) FROM threads
	`).Scan(&threadCount)
	if err != nil && err != sql.ErrNoRows {
		h.log.Error().Err(err).Msg("Failed to query threads")
		recordErr(err)
	}

	var lastTradeFormatted string
	if lastTrade.Valid {
		lastTradeFormatted = time.Unix(lastTrade.Int64, 0).UTC().Format("2006-01-02 15:04")
	}

	status := "healthy"
	if firstErr != nil {
		status = "degraded"
	}

	return SystemStatusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Databases: []DBInfo{
			h.dbInfo(h.ledgerDB),
			h.dbInfo(h.agentsDB),
		},
		TradeCount:    tradeCount,
		OpenPositions: openPositions,
		ThreadCount:   threadCount,
		LastTradeAt:   lastTradeFormatted,
		Timestamp:     time.Now().Format(time.RFC3339),
	}, firstErr
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a short interval (100ms) so the status endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// dbInfo reports name, path and on-disk size for a database.
func (h *SystemHandlers) dbInfo(db *database.DB) DBInfo {
	info := DBInfo{
		Name: db.Name(),
		Path: db.Path(),
	}
	if stat, err := os.Stat(db.Path()); err == nil {
		info.SizeMB = float64(stat.Size()) / 1024 / 1024
	}
	return info
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

package reliability

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/deepblue/internal/database"
	"github.com/aristath/deepblue/internal/modules/toolruns"
)

func setupService(t *testing.T) (*MaintenanceService, *database.DB) {
	t.Helper()

	dataDir := t.TempDir()

	ledgerDB, err := database.New(database.Config{
		Path:    dataDir + "/ledger.db",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { ledgerDB.Close() })
	require.NoError(t, ledgerDB.Migrate())

	agentsDB, err := database.New(database.Config{
		Path:    dataDir + "/agents.db",
		Profile: database.ProfileStandard,
		Name:    "agents",
	})
	require.NoError(t, err)
	t.Cleanup(func() { agentsDB.Close() })
	require.NoError(t, agentsDB.Migrate())

	repo := toolruns.NewRepository(agentsDB.Conn(), zerolog.Nop())
	svc := NewMaintenanceService(ledgerDB, agentsDB, repo, dataDir, 30, zerolog.Nop())

	return svc, agentsDB
}

func TestRunMaintenance_PrunesOldToolRuns(t *testing.T) {
	svc, agentsDB := setupService(t)

	old := time.Now().AddDate(0, 0, -45).Unix()
	fresh := time.Now().Unix()

	for _, createdAt := range []int64{old, old, fresh} {
		_, err := agentsDB.Exec(
			`INSERT INTO tool_runs (thread_id, tool_name, arguments, result, elapsed_ms, success, created_at)
			 VALUES ('t1', 'get_quote', '{}', '{}', 10, 1, ?)`,
			createdAt,
		)
		require.NoError(t, err)
	}

	require.NoError(t, svc.RunMaintenance())

	var remaining int
	require.NoError(t, agentsDB.QueryRow(`SELECT COUNT(*) FROM tool_runs`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestRunMaintenance_EmptyDatabases(t *testing.T) {
	svc, _ := setupService(t)
	assert.NoError(t, svc.RunMaintenance())
}

func TestMaintenanceService_StartStop(t *testing.T) {
	svc, _ := setupService(t)

	require.NoError(t, svc.Start())
	svc.Stop()
}

func TestNewMaintenanceService_DefaultRetention(t *testing.T) {
	svc, _ := setupService(t)
	assert.Equal(t, 30, svc.retentionDays)

	zero := NewMaintenanceService(svc.ledgerDB, svc.agentsDB, svc.toolRuns, svc.dataDir, 0, zerolog.Nop())
	assert.Equal(t, 30, zero.retentionDays)
}

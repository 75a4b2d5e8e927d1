// Package toolruns records every tool invocation the agent makes.
//
// The table is append-only diagnostics data. Writes are best effort: a
// failed insert is logged and swallowed so observability can never break a
// trading turn.
package toolruns

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ToolRun is one recorded tool invocation, including policy rejections
type ToolRun struct {
	ID        int64
	ThreadID  string
	ToolName  string
	Arguments string
	Result    string
	ElapsedMS int64
	Success   bool
	CreatedAt time.Time
}

// Repository handles tool_runs database operations
type Repository struct {
	agentsDB *sql.DB // agents.db - tool_runs table
	log      zerolog.Logger
}

// NewRepository creates a new tool run repository
func NewRepository(agentsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		agentsDB: agentsDB,
		log:      log.With().Str("repo", "toolruns").Logger(),
	}
}

const maxRecordedResultLength = 8192

// CreateBatch inserts every run from one agent turn in a single statement.
// Errors are returned for the caller to log; the caller must not fail the
// turn because of them.
func (r *Repository) CreateBatch(ctx context.Context, runs []ToolRun) error {
	if len(runs) == 0 {
		return nil
	}

	now := time.Now()
	placeholders := make([]string, 0, len(runs))
	args := make([]interface{}, 0, len(runs)*7)
	for _, run := range runs {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?)")
		result := run.Result
		if len(result) > maxRecordedResultLength {
			result = result[:maxRecordedResultLength] + "... [truncated]"
		}
		args = append(args,
			run.ThreadID,
			run.ToolName,
			run.Arguments,
			result,
			run.ElapsedMS,
			boolToInt(run.Success),
			now.Unix(),
		)
	}

	query := `
		INSERT INTO tool_runs (thread_id, tool_name, arguments, result, elapsed_ms, success, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := r.agentsDB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert tool runs: %w", err)
	}
	return nil
}

// GetByThread returns a thread's tool runs, oldest first
func (r *Repository) GetByThread(ctx context.Context, threadID string, limit int) ([]ToolRun, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, thread_id, tool_name, arguments, result, elapsed_ms, success, created_at
		FROM tool_runs
		WHERE thread_id = ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := r.agentsDB.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool runs: %w", err)
	}
	defer rows.Close()

	var runs []ToolRun
	for rows.Next() {
		var (
			run       ToolRun
			success   int
			createdAt int64
		)
		if err := rows.Scan(&run.ID, &run.ThreadID, &run.ToolName, &run.Arguments,
			&run.Result, &run.ElapsedMS, &success, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool run: %w", err)
		}
		run.Success = success != 0
		run.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool runs: %w", err)
	}

	return runs, nil
}

// DeleteOlderThan removes runs recorded before the cutoff and reports how
// many rows were deleted. Used by the retention job.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.agentsDB.ExecContext(ctx,
		`DELETE FROM tool_runs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tool runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

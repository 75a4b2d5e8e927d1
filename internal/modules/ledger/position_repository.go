package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	// ErrPositionNotFound is returned when no position matches the query
	ErrPositionNotFound = errors.New("position not found")
	// ErrVersionConflict is returned when an optimistic-concurrency update
	// finds the row's version changed since it was read
	ErrVersionConflict = errors.New("position version conflict")
)

const positionsColumns = `id, symbol, currency, quantity, avg_price, is_open, version, created_at, updated_at`

// PositionRepository handles position database operations
type PositionRepository struct {
	ledgerDB *sql.DB // ledger.db - positions table
	log      zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(ledgerDB *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "position").Logger(),
	}
}

// GetAll returns all positions
func (r *PositionRepository) GetAll(ctx context.Context) ([]Position, error) {
	query := `SELECT ` + positionsColumns + ` FROM positions ORDER BY symbol, currency`
	rows, err := r.ledgerDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// GetOpen returns only open positions (quantity > 0)
func (r *PositionRepository) GetOpen(ctx context.Context) ([]Position, error) {
	query := `SELECT ` + positionsColumns + ` FROM positions WHERE is_open = 1 ORDER BY symbol, currency`
	rows, err := r.ledgerDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *pos)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// GetBySymbolCurrency returns the position for a (symbol, currency) pair
func (r *PositionRepository) GetBySymbolCurrency(ctx context.Context, symbol, currency string) (*Position, error) {
	return getPosition(ctx, r.ledgerDB, symbol, currency)
}

// GetBySymbolCurrencyTx is the in-transaction variant of GetBySymbolCurrency
func (r *PositionRepository) GetBySymbolCurrencyTx(ctx context.Context, tx *sql.Tx, symbol, currency string) (*Position, error) {
	return getPosition(ctx, tx, symbol, currency)
}

func getPosition(ctx context.Context, q querier, symbol, currency string) (*Position, error) {
	query := `SELECT ` + positionsColumns + ` FROM positions WHERE symbol = ? AND currency = ?`
	row := q.QueryRowContext(ctx, query, strings.ToUpper(strings.TrimSpace(symbol)), currency)

	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	return pos, nil
}

// CreateTx inserts a fresh zero-quantity position inside the transaction and
// flushes immediately so the generated id can be referenced by the trade row.
// The UNIQUE(symbol, currency) constraint guarantees at most one row per pair;
// a unique violation here means a concurrent writer created the row first and
// the caller should retry with a fresh transaction.
func (r *PositionRepository) CreateTx(ctx context.Context, tx *sql.Tx, pos *Position) error {
	now := time.Now()
	pos.CreatedAt = now
	pos.UpdatedAt = now
	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))

	query := `
		INSERT INTO positions (symbol, currency, quantity, avg_price, is_open, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.ExecContext(ctx, query,
		pos.Symbol,
		pos.Currency,
		pos.Quantity.String(),
		pos.AvgPrice.String(),
		boolToInt(pos.IsOpen),
		pos.Version,
		pos.CreatedAt.Unix(),
		pos.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get position id: %w", err)
	}
	pos.ID = id

	return nil
}

// UpdateTx writes the position's new quantity/average price inside the
// transaction, guarded by the optimistic concurrency token: the UPDATE only
// matches when the stored version equals the version the caller read. Zero
// affected rows means a concurrent writer got there first and the caller must
// discard its state and retry. On success the in-memory version is bumped to
// match the stored one.
func (r *PositionRepository) UpdateTx(ctx context.Context, tx *sql.Tx, pos *Position) error {
	now := time.Now()

	query := `
		UPDATE positions
		SET quantity = ?, avg_price = ?, is_open = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := tx.ExecContext(ctx, query,
		pos.Quantity.String(),
		pos.AvgPrice.String(),
		boolToInt(pos.IsOpen),
		now.Unix(),
		pos.ID,
		pos.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	pos.Version++
	pos.UpdatedAt = now
	return nil
}

func scanPosition(s scanner) (*Position, error) {
	var (
		pos       Position
		quantity  string
		avgPrice  string
		isOpen    int
		createdAt int64
		updatedAt int64
	)

	err := s.Scan(
		&pos.ID,
		&pos.Symbol,
		&pos.Currency,
		&quantity,
		&avgPrice,
		&isOpen,
		&pos.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if pos.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	if pos.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("invalid avg_price %q: %w", avgPrice, err)
	}

	pos.IsOpen = isOpen != 0
	pos.CreatedAt = time.Unix(createdAt, 0)
	pos.UpdatedAt = time.Unix(updatedAt, 0)

	return &pos, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

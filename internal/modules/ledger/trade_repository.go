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

// ErrTradeNotFound is returned when no trade matches the query
var ErrTradeNotFound = errors.New("trade not found")

// tradesColumns is the list of columns for the trades table.
// Used to avoid SELECT * which can break when schema changes.
// Column order must match scanTrade().
const tradesColumns = `id, idempotency_key, symbol, side, quantity, price, fee, currency, status, position_id, notes, raw_payload, executed_at, created_at`

// TradeRepository handles trade database operations
type TradeRepository struct {
	ledgerDB *sql.DB // ledger.db - trades table
	log      zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx so lookups can run
// inside or outside the executor's transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// GetByIdempotencyKey looks up a trade by its idempotency key outside any
// transaction. This is the fast duplicate probe.
func (r *TradeRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Trade, error) {
	return getTradeByKey(ctx, r.ledgerDB, key)
}

// GetByIdempotencyKeyTx looks up a trade by its idempotency key inside a
// transaction. This closes the race between the fast probe and transaction start.
func (r *TradeRepository) GetByIdempotencyKeyTx(ctx context.Context, tx *sql.Tx, key string) (*Trade, error) {
	return getTradeByKey(ctx, tx, key)
}

func getTradeByKey(ctx context.Context, q querier, key string) (*Trade, error) {
	query := `SELECT ` + tradesColumns + ` FROM trades WHERE idempotency_key = ?`
	row := q.QueryRowContext(ctx, query, key)

	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("failed to query trade by idempotency key: %w", err)
	}
	return trade, nil
}

// CreateTx inserts a new trade row inside the given transaction and fills in
// the generated id. The UNIQUE index on idempotency_key is the last line of
// defense against duplicate submissions; callers must treat a unique
// violation here as "trade already exists".
func (r *TradeRepository) CreateTx(ctx context.Context, tx *sql.Tx, trade *Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	now := time.Now()
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = now
	}
	trade.CreatedAt = now

	query := `
		INSERT INTO trades
		(idempotency_key, symbol, side, quantity, price, fee, currency, status,
		 position_id, notes, raw_payload, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.ExecContext(ctx, query,
		trade.IdempotencyKey,
		strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		string(trade.Side),
		trade.Quantity.String(),
		trade.Price.String(),
		nullDecimal(trade.Fee),
		trade.Currency,
		string(trade.Status),
		nullInt64(trade.PositionID),
		nullString(trade.Notes),
		nullString(trade.RawPayload),
		trade.ExecutedAt.Unix(),
		trade.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get trade id: %w", err)
	}
	trade.ID = id

	return nil
}

// GetRecent returns the most recent trades, newest first
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + tradesColumns + ` FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?`
	rows, err := r.ledgerDB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// GetBySymbol returns all trades for a symbol, newest first
func (r *TradeRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + tradesColumns + ` FROM trades WHERE symbol = ? ORDER BY executed_at DESC, id DESC LIMIT ?`
	rows, err := r.ledgerDB.QueryContext(ctx, query, strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades by symbol: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// Count returns the total number of trade rows
func (r *TradeRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.ledgerDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*Trade, error) {
	var (
		trade      Trade
		side       string
		status     string
		quantity   string
		price      string
		fee        sql.NullString
		positionID sql.NullInt64
		notes      sql.NullString
		rawPayload sql.NullString
		executedAt int64
		createdAt  int64
	)

	err := s.Scan(
		&trade.ID,
		&trade.IdempotencyKey,
		&trade.Symbol,
		&side,
		&quantity,
		&price,
		&fee,
		&trade.Currency,
		&status,
		&positionID,
		&notes,
		&rawPayload,
		&executedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	trade.Side = TradeSide(side)
	trade.Status = TradeStatus(status)

	if trade.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	if trade.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if fee.Valid && fee.String != "" {
		if trade.Fee, err = decimal.NewFromString(fee.String); err != nil {
			return nil, fmt.Errorf("invalid fee %q: %w", fee.String, err)
		}
	}

	trade.PositionID = positionID.Int64
	trade.Notes = notes.String
	trade.RawPayload = rawPayload.String
	trade.ExecutedAt = time.Unix(executedAt, 0)
	trade.CreatedAt = time.Unix(createdAt, 0)

	return &trade, nil
}

// IsUniqueViolation reports whether err is a sqlite unique-constraint failure
// for the given column path (e.g. "trades.idempotency_key"). Both the modernc
// and mattn drivers surface the violated columns in the error text.
func IsUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func nullDecimal(d decimal.Decimal) interface{} {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

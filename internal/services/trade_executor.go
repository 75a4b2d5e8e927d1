// Package services provides core business services shared across multiple modules.
//
// This package contains TradeExecutor, the single writer of ledger rows.
// Every trade request - whether it arrives from the agent's trade tool or
// from the direct trading endpoint - goes through Execute.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/deepblue/internal/database"
	"github.com/aristath/deepblue/internal/events"
	"github.com/aristath/deepblue/internal/modules/ledger"
)

// OutcomeStatus classifies the result of a trade execution.
// Concurrency conflicts and business rejections are returned, not thrown,
// so every caller must handle every case.
type OutcomeStatus string

const (
	// OutcomeFilled - the trade was applied and recorded
	OutcomeFilled OutcomeStatus = "FILLED"
	// OutcomeDuplicate - the idempotency key already resolved to a trade.
	// Not an error: a success echo for retried submissions.
	OutcomeDuplicate OutcomeStatus = "DUPLICATE"
	// OutcomeConflict - optimistic-concurrency retries exhausted; safe to resubmit
	OutcomeConflict OutcomeStatus = "CONFLICT"
	// OutcomeRejected - business-rule violation, no state change
	OutcomeRejected OutcomeStatus = "REJECTED"
	// OutcomeSystemError - unexpected failure, transaction rolled back
	OutcomeSystemError OutcomeStatus = "SYSTEM_ERROR"
)

// TradeRequest is a single trade submission
type TradeRequest struct {
	IdempotencyKey string
	Symbol         string
	Side           string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Fee            decimal.Decimal
	Currency       string
	Notes          string
	RawPayload     string
}

// Outcome is the result of executing a trade request
type Outcome struct {
	Status OutcomeStatus
	Trade  *ledger.Trade
	Reason string
}

// ExecuteResponse is the wire shape consumed by the trade tool and the
// direct trading endpoint
type ExecuteResponse struct {
	Success      bool          `json:"success"`
	IsDuplicate  bool          `json:"isDuplicate"`
	IsConflict   bool          `json:"isConflict"`
	Trade        *TradeView    `json:"trade,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Status       OutcomeStatus `json:"status"`
}

// TradeView is the JSON projection of a ledger trade
type TradeView struct {
	ID             int64  `json:"id"`
	IdempotencyKey string `json:"idempotencyKey"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	Fee            string `json:"fee,omitempty"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	ExecutedAt     string `json:"executedAt"`
}

// Response converts an Outcome into the external contract shape
func (o Outcome) Response() ExecuteResponse {
	resp := ExecuteResponse{
		Success:     o.Status == OutcomeFilled || o.Status == OutcomeDuplicate,
		IsDuplicate: o.Status == OutcomeDuplicate,
		IsConflict:  o.Status == OutcomeConflict,
		Status:      o.Status,
	}
	if !resp.Success {
		resp.ErrorMessage = o.Reason
	}
	if o.Trade != nil {
		resp.Trade = &TradeView{
			ID:             o.Trade.ID,
			IdempotencyKey: o.Trade.IdempotencyKey,
			Symbol:         o.Trade.Symbol,
			Side:           string(o.Trade.Side),
			Quantity:       o.Trade.Quantity.String(),
			Price:          o.Trade.Price.String(),
			Currency:       o.Trade.Currency,
			Status:         string(o.Trade.Status),
			ExecutedAt:     o.Trade.ExecutedAt.UTC().Format(time.RFC3339),
		}
		if !o.Trade.Fee.IsZero() {
			resp.Trade.Fee = o.Trade.Fee.String()
		}
	}
	return resp
}

// Sentinel errors used to carry control flow out of the transaction closure.
// They force a rollback while the Outcome has already been captured.
var (
	errDuplicateInTx = errors.New("duplicate found inside transaction")
	errTradeRejected = errors.New("trade rejected")
	errDuplicateRace = errors.New("idempotency key unique violation at insert")
	errPositionRaced = errors.New("position created concurrently")
)

const (
	maxExecuteAttempts = 3
	backoffBase        = 50 * time.Millisecond
)

// TradeExecutor applies trade requests to the ledger atomically, idempotently,
// and under optimistic concurrency control. It is safe for concurrent use:
// each Execute call runs in its own transaction scope against the pooled
// connection and shares no mutable state with other calls.
type TradeExecutor struct {
	ledgerDB     *sql.DB
	tradeRepo    *ledger.TradeRepository
	positionRepo *ledger.PositionRepository
	eventManager *events.Manager
	baseCurrency string
	backoff      func(attempt int) time.Duration
	log          zerolog.Logger
}

// NewTradeExecutor creates a new trade executor
func NewTradeExecutor(
	ledgerDB *sql.DB,
	tradeRepo *ledger.TradeRepository,
	positionRepo *ledger.PositionRepository,
	eventManager *events.Manager,
	baseCurrency string,
	log zerolog.Logger,
) *TradeExecutor {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &TradeExecutor{
		ledgerDB:     ledgerDB,
		tradeRepo:    tradeRepo,
		positionRepo: positionRepo,
		eventManager: eventManager,
		baseCurrency: baseCurrency,
		backoff: func(attempt int) time.Duration {
			return backoffBase * time.Duration(attempt)
		},
		log: log.With().Str("service", "trade_executor").Logger(),
	}
}

// Execute applies a single trade request to the ledger.
//
// Exactly one Trade row and at most one Position mutation happen per
// successful, non-duplicate call. Duplicate, Rejected, and exhausted
// Conflict outcomes leave no state behind. Retries are purely local and
// invisible to the caller except as added latency.
func (s *TradeExecutor) Execute(ctx context.Context, req TradeRequest) Outcome {
	if outcome, ok := s.validate(&req); !ok {
		return outcome
	}

	s.log.Info().
		Str("idempotency_key", req.IdempotencyKey).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("quantity", req.Quantity.String()).
		Str("price", req.Price.String()).
		Msg("Executing trade")

	// Fast idempotency probe (no transaction). Retried and duplicated
	// submissions are the overwhelmingly common case; answering them here
	// avoids transaction overhead entirely.
	existing, err := s.tradeRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		s.log.Debug().
			Str("idempotency_key", req.IdempotencyKey).
			Int64("trade_id", existing.ID).
			Msg("Duplicate submission resolved by fast probe")
		return Outcome{Status: OutcomeDuplicate, Trade: existing}
	}
	if !errors.Is(err, ledger.ErrTradeNotFound) {
		return Outcome{Status: OutcomeSystemError, Reason: fmt.Sprintf("idempotency probe failed: %v", err)}
	}

	for attempt := 1; attempt <= maxExecuteAttempts; attempt++ {
		outcome, retryable := s.attempt(ctx, req)
		if !retryable {
			return outcome
		}

		s.log.Warn().
			Str("idempotency_key", req.IdempotencyKey).
			Str("symbol", req.Symbol).
			Int("attempt", attempt).
			Msg("Optimistic concurrency conflict, retrying with fresh transaction")

		if attempt < maxExecuteAttempts {
			select {
			case <-time.After(s.backoff(attempt)):
			case <-ctx.Done():
				return Outcome{Status: OutcomeSystemError, Reason: fmt.Sprintf("cancelled during retry backoff: %v", ctx.Err())}
			}
		}
	}

	return Outcome{Status: OutcomeConflict, Reason: "exhausted retries"}
}

// validate enforces the input constraints. Invalid input is a business
// rejection, not a system error.
func (s *TradeExecutor) validate(req *TradeRequest) (Outcome, bool) {
	reject := func(format string, args ...interface{}) (Outcome, bool) {
		return Outcome{Status: OutcomeRejected, Reason: fmt.Sprintf(format, args...)}, false
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return reject("idempotency key cannot be empty")
	}
	if len(req.IdempotencyKey) > ledger.MaxIdempotencyKeyLength {
		return reject("idempotency key exceeds %d characters", ledger.MaxIdempotencyKeyLength)
	}

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return reject("symbol cannot be empty")
	}

	side, err := ledger.TradeSideFromString(req.Side)
	if err != nil {
		return reject("%v", err)
	}
	req.Side = string(side)

	if !req.Quantity.IsPositive() {
		return reject("quantity must be positive, got %s", req.Quantity)
	}
	if !req.Price.IsPositive() {
		return reject("price must be positive, got %s", req.Price)
	}
	if req.Fee.IsNegative() {
		return reject("fee cannot be negative, got %s", req.Fee)
	}

	if req.Currency == "" {
		req.Currency = s.baseCurrency
	}

	return Outcome{}, true
}

// attempt runs one transactional execution attempt. It reports whether the
// attempt failed in a retryable way (concurrent writer touched the same
// position). Each attempt starts from a clean slate: all position and trade
// state is re-read inside the fresh transaction, nothing carries over from a
// failed attempt.
func (s *TradeExecutor) attempt(ctx context.Context, req TradeRequest) (Outcome, bool) {
	var outcome Outcome

	err := database.WithTransactionContext(ctx, s.ledgerDB, func(tx *sql.Tx) error {
		// Re-probe for the idempotency key inside the transaction.
		// Closes the race between the fast probe and transaction start.
		existing, err := s.tradeRepo.GetByIdempotencyKeyTx(ctx, tx, req.IdempotencyKey)
		if err == nil {
			outcome = Outcome{Status: OutcomeDuplicate, Trade: existing}
			return errDuplicateInTx
		}
		if !errors.Is(err, ledger.ErrTradeNotFound) {
			return err
		}

		// Load or create the position for (symbol, currency). A freshly
		// created position is flushed immediately so its id can be
		// referenced by the trade row.
		pos, err := s.positionRepo.GetBySymbolCurrencyTx(ctx, tx, req.Symbol, req.Currency)
		if errors.Is(err, ledger.ErrPositionNotFound) {
			pos = &ledger.Position{
				Symbol:   req.Symbol,
				Currency: req.Currency,
				Quantity: decimal.Zero,
				AvgPrice: decimal.Zero,
			}
			if createErr := s.positionRepo.CreateTx(ctx, tx, pos); createErr != nil {
				if ledger.IsUniqueViolation(createErr, "positions") {
					// A concurrent writer created the row between our read
					// and insert. Retry will load it.
					return errPositionRaced
				}
				return createErr
			}
		} else if err != nil {
			return err
		}

		switch ledger.TradeSide(req.Side) {
		case ledger.TradeSideBuy:
			pos.ApplyBuy(req.Quantity, req.Price)
		case ledger.TradeSideSell:
			if sellErr := pos.ApplySell(req.Quantity); sellErr != nil {
				outcome = Outcome{Status: OutcomeRejected, Reason: "insufficient quantity"}
				return errTradeRejected
			}
		}

		// The version guard detects any concurrent writer that touched this
		// position between our read and this write.
		if err := s.positionRepo.UpdateTx(ctx, tx, pos); err != nil {
			return err
		}

		trade := &ledger.Trade{
			IdempotencyKey: req.IdempotencyKey,
			Symbol:         req.Symbol,
			Side:           ledger.TradeSide(req.Side),
			Quantity:       req.Quantity,
			Price:          req.Price,
			Fee:            req.Fee,
			Currency:       req.Currency,
			Status:         ledger.TradeStatusFilled,
			PositionID:     pos.ID,
			Notes:          req.Notes,
			RawPayload:     req.RawPayload,
			ExecutedAt:     time.Now(),
		}

		if err := s.tradeRepo.CreateTx(ctx, tx, trade); err != nil {
			if ledger.IsUniqueViolation(err, "trades.idempotency_key") {
				// A genuine last-moment race slipped past both probes:
				// another writer inserted this key after our in-tx probe.
				return errDuplicateRace
			}
			return err
		}

		outcome = Outcome{Status: OutcomeFilled, Trade: trade}
		return nil
	})

	switch {
	case err == nil:
		s.emitFilled(outcome.Trade)
		return outcome, false

	case errors.Is(err, errDuplicateInTx), errors.Is(err, errTradeRejected):
		// Outcome already captured; the sentinel only forced the rollback.
		return outcome, false

	case errors.Is(err, ledger.ErrVersionConflict), errors.Is(err, errPositionRaced):
		return Outcome{}, true

	case errors.Is(err, errDuplicateRace):
		// Transaction is rolled back; the competing trade is durable now.
		existing, readErr := s.tradeRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if readErr != nil {
			return Outcome{
				Status: OutcomeSystemError,
				Reason: fmt.Sprintf("idempotency key collided but trade not readable: %v", readErr),
			}, false
		}
		return Outcome{Status: OutcomeDuplicate, Trade: existing}, false

	case isBusy(err):
		// sqlite writer contention surfaces as SQLITE_BUSY; treat like an
		// optimistic conflict and retry on a fresh transaction.
		return Outcome{}, true

	default:
		s.log.Error().Err(err).
			Str("idempotency_key", req.IdempotencyKey).
			Str("symbol", req.Symbol).
			Msg("Trade execution attempt failed")
		return Outcome{Status: OutcomeSystemError, Reason: err.Error()}, false
	}
}

func (s *TradeExecutor) emitFilled(trade *ledger.Trade) {
	if s.eventManager == nil || trade == nil {
		return
	}
	s.eventManager.Emit(events.TradeExecuted, "trade_executor", map[string]interface{}{
		"symbol":   trade.Symbol,
		"side":     string(trade.Side),
		"quantity": trade.Quantity.String(),
		"price":    trade.Price.String(),
		"currency": trade.Currency,
		"trade_id": trade.ID,
	})
}

// isBusy reports whether err is sqlite writer contention
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/deepblue/internal/domain"
	"github.com/aristath/deepblue/internal/services"
)

// TradeTool is the single mutating tool: it wraps the trade executor.
// The dispatcher guarantees at most one invocation per turn.
type TradeTool struct {
	executor *services.TradeExecutor
}

// NewTradeTool creates the execute_trade tool
func NewTradeTool(executor *services.TradeExecutor) *TradeTool {
	return &TradeTool{executor: executor}
}

func (t *TradeTool) Name() string   { return "execute_trade" }
func (t *TradeTool) Mutating() bool { return true }

// tradeArgs is decoded with UseNumber so quantity/price/fee reach decimal
// without a float64 round trip.
type tradeArgs struct {
	Symbol         string      `json:"symbol"`
	Side           string      `json:"side"`
	Quantity       json.Number `json:"quantity"`
	Price          json.Number `json:"price"`
	Fee            json.Number `json:"fee"`
	Currency       string      `json:"currency"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Notes          string      `json:"notes"`
}

func (t *TradeTool) Execute(ctx context.Context, _ ExecContext, args json.RawMessage) (string, []domain.SideEffect, error) {
	var params tradeArgs
	decoder := json.NewDecoder(bytes.NewReader(args))
	decoder.UseNumber()
	if err := decoder.Decode(&params); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	quantity, err := decimalFromNumber(params.Quantity, "quantity")
	if err != nil {
		return "", nil, err
	}
	price, err := decimalFromNumber(params.Price, "price")
	if err != nil {
		return "", nil, err
	}
	fee := decimal.Zero
	if params.Fee != "" {
		if fee, err = decimalFromNumber(params.Fee, "fee"); err != nil {
			return "", nil, err
		}
	}

	// The model usually omits the key; generating one here still protects
	// against downstream retries of this exact call.
	key := params.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	outcome := t.executor.Execute(ctx, services.TradeRequest{
		IdempotencyKey: key,
		Symbol:         params.Symbol,
		Side:           params.Side,
		Quantity:       quantity,
		Price:          price,
		Fee:            fee,
		Currency:       params.Currency,
		Notes:          params.Notes,
		RawPayload:     string(args),
	})

	content, err := json.Marshal(outcome.Response())
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode trade response: %w", err)
	}
	return string(content), nil, nil
}

func decimalFromNumber(n json.Number, field string) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, n.String(), err)
	}
	return d, nil
}

// Package ledger owns the durable trade and position aggregates.
//
// All mutation of ledger rows happens inside the trade executor's
// transaction scope; everything else only reads.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide represents the direction of a trade
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// TradeSideFromString converts a string to a TradeSide
func TradeSideFromString(s string) (TradeSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return TradeSideBuy, nil
	case "SELL":
		return TradeSideSell, nil
	default:
		return "", fmt.Errorf("invalid trade side: %q (must be BUY or SELL)", s)
	}
}

// TradeStatus represents the lifecycle state of a trade
type TradeStatus string

const (
	TradeStatusFilled   TradeStatus = "FILLED"
	TradeStatusPending  TradeStatus = "PENDING"
	TradeStatusRejected TradeStatus = "REJECTED"
)

// MaxIdempotencyKeyLength is the upper bound for caller-supplied idempotency keys
const MaxIdempotencyKeyLength = 64

// Trade is an immutable ledger entry. Created once, never updated or deleted.
type Trade struct {
	ID             int64
	IdempotencyKey string
	Symbol         string
	Side           TradeSide
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Fee            decimal.Decimal
	Currency       string
	Status         TradeStatus
	PositionID     int64
	Notes          string
	RawPayload     string
	ExecutedAt     time.Time
	CreatedAt      time.Time
}

// Validate checks trade invariants before database insertion
func (t *Trade) Validate() error {
	if t.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key cannot be empty")
	}
	if len(t.IdempotencyKey) > MaxIdempotencyKeyLength {
		return fmt.Errorf("idempotency key exceeds %d characters", MaxIdempotencyKeyLength)
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if t.Side != TradeSideBuy && t.Side != TradeSideSell {
		return fmt.Errorf("invalid trade side: %q", t.Side)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", t.Quantity)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", t.Price)
	}
	if t.Fee.IsNegative() {
		return fmt.Errorf("fee cannot be negative, got %s", t.Fee)
	}
	return nil
}

// Position is the net holding of a symbol in a currency.
// Created lazily on first trade, never deleted, only flagged closed.
// Version is the optimistic concurrency token: checked and incremented
// on every write, so a stale read never overwrites a concurrent update.
type Position struct {
	ID        int64
	Symbol    string
	Currency  string
	Quantity  decimal.Decimal
	AvgPrice  decimal.Decimal
	IsOpen    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApplyBuy folds a buy into the position using quantity-weighted average pricing
func (p *Position) ApplyBuy(quantity, price decimal.Decimal) {
	newQuantity := p.Quantity.Add(quantity)
	// avg' = (qty*avg + tradeQty*tradePrice) / (qty + tradeQty)
	cost := p.Quantity.Mul(p.AvgPrice).Add(quantity.Mul(price))
	p.AvgPrice = cost.Div(newQuantity)
	p.Quantity = newQuantity
	p.IsOpen = true
}

// ApplySell reduces the position. Selling never reprices remaining shares;
// a position sold to exactly zero is closed and its average price reset.
// Returns an error when the position holds less than the requested quantity.
func (p *Position) ApplySell(quantity decimal.Decimal) error {
	if quantity.GreaterThan(p.Quantity) {
		return fmt.Errorf("insufficient quantity: have %s, want to sell %s", p.Quantity, quantity)
	}
	p.Quantity = p.Quantity.Sub(quantity)
	if p.Quantity.IsZero() {
		p.IsOpen = false
		p.AvgPrice = decimal.Zero
	}
	return nil
}

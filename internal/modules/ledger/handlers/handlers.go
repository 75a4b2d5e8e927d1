// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/deepblue/internal/modules/ledger"
	"github.com/aristath/deepblue/internal/services"
)

// Handler handles ledger HTTP requests
type Handler struct {
	tradeRepo    *ledger.TradeRepository
	positionRepo *ledger.PositionRepository
	executor     *services.TradeExecutor
	log          zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(
	tradeRepo *ledger.TradeRepository,
	positionRepo *ledger.PositionRepository,
	executor *services.TradeExecutor,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		tradeRepo:    tradeRepo,
		positionRepo: positionRepo,
		executor:     executor,
		log:          log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetTrades handles GET /api/trades
func (h *Handler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var (
		trades []ledger.Trade
		err    error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		trades, err = h.tradeRepo.GetBySymbol(r.Context(), symbol, limit)
	} else {
		trades, err = h.tradeRepo.GetRecent(r.Context(), limit)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query trades")
		http.Error(w, "Failed to query trades", http.StatusInternalServerError)
		return
	}

	views := make([]map[string]interface{}, 0, len(trades))
	for _, trade := range trades {
		views = append(views, tradeView(trade))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"trades": views,
			"count":  len(views),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetPositions handles GET /api/portfolio/positions
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []ledger.Position
		err       error
	)
	if r.URL.Query().Get("open") == "true" {
		positions, err = h.positionRepo.GetOpen(r.Context())
	} else {
		positions, err = h.positionRepo.GetAll(r.Context())
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query positions")
		http.Error(w, "Failed to query positions", http.StatusInternalServerError)
		return
	}

	views := make([]map[string]interface{}, 0, len(positions))
	for _, pos := range positions {
		views = append(views, map[string]interface{}{
			"id":         pos.ID,
			"symbol":     pos.Symbol,
			"currency":   pos.Currency,
			"quantity":   pos.Quantity.String(),
			"avg_price":  pos.AvgPrice.String(),
			"is_open":    pos.IsOpen,
			"updated_at": pos.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"positions": views,
			"count":     len(views),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// executeTradeRequest is the direct trading endpoint's request body
type executeTradeRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	Fee            string `json:"fee"`
	Currency       string `json:"currency"`
	Notes          string `json:"notes"`
}

// HandleExecuteTrade handles POST /api/trades/execute
func (h *Handler) HandleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req executeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		http.Error(w, "Invalid quantity", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		http.Error(w, "Invalid price", http.StatusBadRequest)
		return
	}
	fee := decimal.Zero
	if req.Fee != "" {
		if fee, err = decimal.NewFromString(req.Fee); err != nil {
			http.Error(w, "Invalid fee", http.StatusBadRequest)
			return
		}
	}

	outcome := h.executor.Execute(r.Context(), services.TradeRequest{
		IdempotencyKey: req.IdempotencyKey,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       quantity,
		Price:          price,
		Fee:            fee,
		Currency:       req.Currency,
		Notes:          req.Notes,
	})

	status := http.StatusOK
	switch outcome.Status {
	case services.OutcomeRejected:
		status = http.StatusUnprocessableEntity
	case services.OutcomeConflict:
		status = http.StatusConflict
	case services.OutcomeSystemError:
		status = http.StatusInternalServerError
	}

	h.writeJSON(w, status, outcome.Response())
}

func tradeView(trade ledger.Trade) map[string]interface{} {
	view := map[string]interface{}{
		"id":          trade.ID,
		"symbol":      trade.Symbol,
		"side":        string(trade.Side),
		"quantity":    trade.Quantity.String(),
		"price":       trade.Price.String(),
		"currency":    trade.Currency,
		"status":      string(trade.Status),
		"executed_at": trade.ExecutedAt.UTC().Format(time.RFC3339),
	}
	if !trade.Fee.IsZero() {
		view["fee"] = trade.Fee.String()
	}
	if trade.Notes != "" {
		view["notes"] = trade.Notes
	}
	return view
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

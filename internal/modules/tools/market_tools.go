package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markcheno/go-talib"

	"github.com/aristath/deepblue/internal/domain"
	"github.com/aristath/deepblue/internal/events"
	"github.com/aristath/deepblue/internal/modules/marketdata"
)

const rsiPeriod = 14

// QuoteTool returns the latest price for a symbol
type QuoteTool struct {
	market *marketdata.Service
}

// NewQuoteTool creates the get_quote tool
func NewQuoteTool(market *marketdata.Service) *QuoteTool {
	return &QuoteTool{market: market}
}

func (t *QuoteTool) Name() string   { return "get_quote" }
func (t *QuoteTool) Mutating() bool { return false }

func (t *QuoteTool) Execute(ctx context.Context, _ ExecContext, args json.RawMessage) (string, []domain.SideEffect, error) {
	var params struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	quote, err := t.market.GetQuote(ctx, params.Symbol)
	if err != nil {
		return "", nil, err
	}

	content, err := json.Marshal(quote)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode quote: %w", err)
	}
	return string(content), nil, nil
}

// CandlesTool returns OHLCV bars with paging support
type CandlesTool struct {
	market *marketdata.Service
}

// NewCandlesTool creates the get_candles tool
func NewCandlesTool(market *marketdata.Service) *CandlesTool {
	return &CandlesTool{market: market}
}

func (t *CandlesTool) Name() string   { return "get_candles" }
func (t *CandlesTool) Mutating() bool { return false }

func (t *CandlesTool) Execute(ctx context.Context, _ ExecContext, args json.RawMessage) (string, []domain.SideEffect, error) {
	var params struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
		Range     string `json:"range"`
		Limit     int    `json:"limit"`
		To        int64  `json:"to"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	series, err := t.market.GetCandles(ctx, marketdata.CandleQuery{
		Symbol:    params.Symbol,
		Timeframe: params.Timeframe,
		Range:     params.Range,
		Limit:     params.Limit,
		To:        params.To,
	})
	if err != nil {
		return "", nil, err
	}

	content, err := json.Marshal(series)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode candles: %w", err)
	}
	return string(content), nil, nil
}

// TechnicalReportTool combines an RSI(14) reading computed from daily candles
// with the news and sentiment report from the news fetcher.
type TechnicalReportTool struct {
	market *marketdata.Service
}

// NewTechnicalReportTool creates the get_technical_report tool
func NewTechnicalReportTool(market *marketdata.Service) *TechnicalReportTool {
	return &TechnicalReportTool{market: market}
}

func (t *TechnicalReportTool) Name() string   { return "get_technical_report" }
func (t *TechnicalReportTool) Mutating() bool { return false }

func (t *TechnicalReportTool) Execute(ctx context.Context, _ ExecContext, args json.RawMessage) (string, []domain.SideEffect, error) {
	var params struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}
	symbol := strings.ToUpper(strings.TrimSpace(params.Symbol))
	if symbol == "" {
		return "", nil, fmt.Errorf("symbol cannot be empty")
	}

	series, err := t.market.GetCandles(ctx, marketdata.CandleQuery{
		Symbol:    symbol,
		Timeframe: "1d",
		Range:     "90d",
		Limit:     100,
	})
	if err != nil {
		return "", nil, err
	}

	rsi, rsiStatus := rsiFromCandles(series.Candles)

	var report strings.Builder
	fmt.Fprintf(&report, "--- TECHNICAL REPORT (%s) ---\n", symbol)
	if rsiStatus == "DATA ERROR" {
		fmt.Fprintf(&report, "RSI (14-day): n/a [DATA ERROR]\n")
	} else {
		fmt.Fprintf(&report, "RSI (14-day): %.2f [%s]\n", rsi, rsiStatus)
	}

	// News is additive; its failure must not sink the RSI half of the report
	news, err := t.market.GetNewsReport(ctx, symbol)
	if err != nil {
		fmt.Fprintf(&report, "NEWS: unavailable (%v)\n", err)
	} else {
		report.WriteString(news)
		report.WriteString("\n")
	}

	return report.String(), nil, nil
}

// rsiFromCandles computes RSI(14) over closing prices and labels the reading
// with the same bands the news fetcher uses.
func rsiFromCandles(candles []marketdata.Candle) (float64, string) {
	if len(candles) <= rsiPeriod {
		return 0, "DATA ERROR"
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	values := talib.Rsi(closes, rsiPeriod)
	rsi := values[len(values)-1]

	switch {
	case rsi >= 70:
		return rsi, "OVERBOUGHT (SELL RISK)"
	case rsi <= 30:
		return rsi, "OVERSOLD (BUY CHANCE)"
	default:
		return rsi, "NEUTRAL"
	}
}

// OpenChartTool asks the front-end to open a chart. It never fetches data;
// it validates the request and emits an openChart side effect.
type OpenChartTool struct {
	eventManager *events.Manager
}

// NewOpenChartTool creates the open_chart tool
func NewOpenChartTool(eventManager *events.Manager) *OpenChartTool {
	return &OpenChartTool{eventManager: eventManager}
}

func (t *OpenChartTool) Name() string   { return "open_chart" }
func (t *OpenChartTool) Mutating() bool { return false }

func (t *OpenChartTool) Execute(_ context.Context, _ ExecContext, args json.RawMessage) (string, []domain.SideEffect, error) {
	var params struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
		Range     string `json:"range"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w", err)
	}

	symbol := strings.ToUpper(strings.TrimSpace(params.Symbol))
	if symbol == "" {
		return "", nil, fmt.Errorf("symbol cannot be empty")
	}
	if params.Timeframe == "" {
		params.Timeframe = "1d"
	}
	if params.Range == "" {
		params.Range = "180d"
	}
	if !marketdata.ValidTimeframe(params.Timeframe) {
		return "", nil, fmt.Errorf("invalid timeframe %q, allowed: %s", params.Timeframe, strings.Join(marketdata.Timeframes(), ", "))
	}
	if !marketdata.ValidRange(params.Range) {
		return "", nil, fmt.Errorf("invalid range %q, allowed: %s", params.Range, strings.Join(marketdata.Ranges(), ", "))
	}

	effect := domain.SideEffect{
		Type:      domain.SideEffectOpenChart,
		Symbol:    symbol,
		Timeframe: params.Timeframe,
		Range:     params.Range,
		URL:       fmt.Sprintf("/chart?symbol=%s&tf=%s&range=%s", symbol, params.Timeframe, params.Range),
	}

	if t.eventManager != nil {
		t.eventManager.Emit(events.ChartOpened, "tools", map[string]interface{}{
			"symbol":    symbol,
			"timeframe": params.Timeframe,
			"range":     params.Range,
		})
	}

	content := fmt.Sprintf("Chart opened for %s (%s, %s)", symbol, params.Timeframe, params.Range)
	return content, []domain.SideEffect{effect}, nil
}

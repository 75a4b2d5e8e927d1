// Package marketdata fetches quotes and candles through the Python fetcher
// scripts and caches short-lived results.
package marketdata

import (
	"fmt"
	"strings"
)

// Timeframe codes accepted by the candles fetcher
var validTimeframes = map[string]bool{
	"1m":  true,
	"5m":  true,
	"15m": true,
	"1h":  true,
	"1d":  true,
	"1w":  true,
	"1mo": true,
}

// Range codes accepted by the candles fetcher
var validRanges = map[string]bool{
	"7d":   true,
	"30d":  true,
	"90d":  true,
	"180d": true,
	"1y":   true,
	"2y":   true,
}

// MaxCandleLimit caps how many candles a single fetch may return
const MaxCandleLimit = 2000

// ValidTimeframe reports whether tf is an accepted timeframe code
func ValidTimeframe(tf string) bool {
	return validTimeframes[tf]
}

// ValidRange reports whether r is an accepted range code
func ValidRange(r string) bool {
	return validRanges[r]
}

// Timeframes returns the accepted timeframe codes (for error messages)
func Timeframes() []string {
	return []string{"1m", "5m", "15m", "1h", "1d", "1w", "1mo"}
}

// Ranges returns the accepted range codes (for error messages)
func Ranges() []string {
	return []string{"7d", "30d", "90d", "180d", "1y", "2y"}
}

// Quote is the fetcher's quote payload
type Quote struct {
	OK           bool    `json:"ok" msgpack:"ok"`
	Symbol       string  `json:"symbol" msgpack:"symbol"`
	Price        float64 `json:"price" msgpack:"price"`
	TimestampUTC string  `json:"timestampUtc" msgpack:"timestampUtc"`
	Error        string  `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Candle is a single OHLCV bar, time in unix seconds
type Candle struct {
	Time   int64   `json:"time" msgpack:"time"`
	Open   float64 `json:"open" msgpack:"open"`
	High   float64 `json:"high" msgpack:"high"`
	Low    float64 `json:"low" msgpack:"low"`
	Close  float64 `json:"close" msgpack:"close"`
	Volume int64   `json:"volume" msgpack:"volume"`
}

// CandleSeries is the fetcher's candles payload. NextTo is the timestamp of
// the earliest returned candle, used to page further back.
type CandleSeries struct {
	OK        bool     `json:"ok" msgpack:"ok"`
	Symbol    string   `json:"symbol" msgpack:"symbol"`
	Timeframe string   `json:"tf" msgpack:"tf"`
	Candles   []Candle `json:"candles" msgpack:"candles"`
	NextTo    *int64   `json:"nextTo" msgpack:"nextTo"`
	Error     string   `json:"error,omitempty" msgpack:"error,omitempty"`
}

// CandleQuery identifies one candles fetch
type CandleQuery struct {
	Symbol    string
	Timeframe string
	Range     string
	Limit     int
	To        int64 // optional unix timestamp for paging; 0 means latest
}

// Validate normalizes and checks the query
func (q *CandleQuery) Validate() error {
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if !ValidTimeframe(q.Timeframe) {
		return fmt.Errorf("invalid timeframe %q, allowed: %s", q.Timeframe, strings.Join(Timeframes(), ", "))
	}
	if !ValidRange(q.Range) {
		return fmt.Errorf("invalid range %q, allowed: %s", q.Range, strings.Join(Ranges(), ", "))
	}
	if q.Limit <= 0 {
		q.Limit = 500
	}
	if q.Limit > MaxCandleLimit {
		q.Limit = MaxCandleLimit
	}
	return nil
}

// cacheKey builds the normalized cache key for this query
func (q CandleQuery) cacheKey() string {
	return fmt.Sprintf("candles:%s:%s:%s:%d:%d", q.Symbol, q.Timeframe, q.Range, q.Limit, q.To)
}

func quoteCacheKey(symbol string) string {
	return "quote:" + strings.ToUpper(strings.TrimSpace(symbol))
}

func newsCacheKey(symbol string) string {
	return "news:" + strings.ToUpper(strings.TrimSpace(symbol))
}

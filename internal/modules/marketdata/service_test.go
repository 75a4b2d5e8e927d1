package marketdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, dir string) *Service {
	t.Helper()
	fetcher := newTestFetcher(t, dir, 5*time.Second, 4)
	cache, err := NewCache(10*time.Second, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return NewService(fetcher, cache, zerolog.Nop())
}

func TestServiceGetQuote_CachesBetweenCalls(t *testing.T) {
	dir := t.TempDir()
	hitsFile := filepath.Join(dir, "hits.txt")
	writeScript(t, dir, marketDataScript, fmt.Sprintf(
		`echo hit >> %s
echo '{"ok":true,"symbol":"AMD","price":152.34,"timestampUtc":"2026-08-30T12:00:00Z"}'`,
		hitsFile))

	service := newTestService(t, dir)
	ctx := context.Background()

	first, err := service.GetQuote(ctx, "AMD")
	require.NoError(t, err)
	second, err := service.GetQuote(ctx, "amd")
	require.NoError(t, err)

	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, first.Symbol, second.Symbol)

	// Same normalized symbol within the TTL: exactly one subprocess
	hits, err := os.ReadFile(hitsFile)
	require.NoError(t, err)
	assert.Equal(t, "hit\n", string(hits))
}

func TestServiceGetCandles_DistinctQueriesMissCache(t *testing.T) {
	dir := t.TempDir()
	hitsFile := filepath.Join(dir, "hits.txt")
	writeScript(t, dir, marketDataScript, fmt.Sprintf(
		`echo hit >> %s
echo '{"ok":true,"symbol":"AMD","tf":"1d","candles":[{"time":1700000000,"open":1,"high":2,"low":0.5,"close":1.5,"volume":1000}],"nextTo":1700000000}'`,
		hitsFile))

	service := newTestService(t, dir)
	ctx := context.Background()

	_, err := service.GetCandles(ctx, CandleQuery{Symbol: "AMD", Timeframe: "1d", Range: "7d"})
	require.NoError(t, err)
	// Different range is a different cache key
	_, err = service.GetCandles(ctx, CandleQuery{Symbol: "AMD", Timeframe: "1d", Range: "30d"})
	require.NoError(t, err)
	// Repeat of the first query is a hit
	_, err = service.GetCandles(ctx, CandleQuery{Symbol: "AMD", Timeframe: "1d", Range: "7d"})
	require.NoError(t, err)

	hits, err := os.ReadFile(hitsFile)
	require.NoError(t, err)
	assert.Equal(t, "hit\nhit\n", string(hits))
}

func TestServiceGetQuote_FetchErrorNotCached(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, marketDataScript,
		`echo '{"ok":false,"error":"boom"}'; exit 1`)

	service := newTestService(t, dir)

	_, err := service.GetQuote(context.Background(), "AMD")
	require.Error(t, err)

	// Fix the script; a retry must reach the subprocess, not a cached error
	writeScript(t, dir, marketDataScript,
		`echo '{"ok":true,"symbol":"AMD","price":1,"timestampUtc":"2026-08-30T12:00:00Z"}'`)

	quote, err := service.GetQuote(context.Background(), "AMD")
	require.NoError(t, err)
	assert.Equal(t, "AMD", quote.Symbol)
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := NewCache(10*time.Second, zerolog.Nop())
	require.NoError(t, err)
	defer cache.Close()

	next := int64(1700000000)
	in := CandleSeries{
		OK:        true,
		Symbol:    "AMD",
		Timeframe: "1d",
		Candles:   []Candle{{Time: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000}},
		NextTo:    &next,
	}
	cache.set("k", in)

	var out CandleSeries
	require.True(t, cache.get("k", &out))
	assert.Equal(t, in.Symbol, out.Symbol)
	require.Len(t, out.Candles, 1)
	assert.Equal(t, in.Candles[0], out.Candles[0])
	require.NotNil(t, out.NextTo)
	assert.Equal(t, next, *out.NextTo)

	var miss CandleSeries
	assert.False(t, cache.get("absent", &miss))
}

package marketdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript installs a fake fetcher script. The fetcher invokes
// "<pythonBin> <script> <args...>", so pointing PythonBin at /bin/sh and
// writing shell instead of python exercises the full subprocess path.
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755)
	require.NoError(t, err)
}

func newTestFetcher(t *testing.T, dir string, timeout time.Duration, gate int64) *Fetcher {
	t.Helper()
	return NewFetcher(FetcherConfig{
		PythonBin:     "/bin/sh",
		ScriptsDir:    dir,
		Timeout:       timeout,
		MaxConcurrent: gate,
	}, zerolog.Nop())
}

func TestFetcherQuote(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, marketDataScript,
		`echo '{"ok":true,"symbol":"AMD","price":152.3401,"timestampUtc":"2026-08-30T12:00:00Z"}'`)

	fetcher := newTestFetcher(t, dir, 5*time.Second, 4)

	quote, err := fetcher.Quote(context.Background(), " amd ")
	require.NoError(t, err)
	assert.Equal(t, "AMD", quote.Symbol)
	assert.InDelta(t, 152.3401, quote.Price, 0.0001)
	assert.Equal(t, "2026-08-30T12:00:00Z", quote.TimestampUTC)
}

func TestFetcherQuote_ErrorEnvelope(t *testing.T) {
	dir := t.TempDir()
	// Scripts report failures as a JSON envelope on stdout and exit 1
	writeScript(t, dir, marketDataScript,
		`echo '{"ok":false,"error":"No quote data found for XXXX"}'; exit 1`)

	fetcher := newTestFetcher(t, dir, 5*time.Second, 4)

	_, err := fetcher.Quote(context.Background(), "XXXX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No quote data found for XXXX")
}

func TestFetcherCandles(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	writeScript(t, dir, marketDataScript, fmt.Sprintf(
		`echo "$@" > %s
echo '{"ok":true,"symbol":"AMD","tf":"1d","candles":[{"time":1700000000,"open":1,"high":2,"low":0.5,"close":1.5,"volume":1000},{"time":1700086400,"open":1.5,"high":3,"low":1,"close":2,"volume":2000}],"nextTo":1700000000}'`,
		argsFile))

	fetcher := newTestFetcher(t, dir, 5*time.Second, 4)

	series, err := fetcher.Candles(context.Background(), CandleQuery{
		Symbol:    "amd",
		Timeframe: "1d",
		Range:     "180d",
		To:        1700172800,
	})
	require.NoError(t, err)
	assert.Equal(t, "AMD", series.Symbol)
	assert.Equal(t, "1d", series.Timeframe)
	require.Len(t, series.Candles, 2)
	assert.Equal(t, int64(1700000000), series.Candles[0].Time)
	require.NotNil(t, series.NextTo)
	assert.Equal(t, int64(1700000000), *series.NextTo)

	// Paging flag was forwarded to the script
	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--to 1700172800")
	assert.Contains(t, string(args), "--limit 500")
}

func TestFetcherCandles_InvalidQuery(t *testing.T) {
	fetcher := newTestFetcher(t, t.TempDir(), time.Second, 4)

	tests := []struct {
		name  string
		query CandleQuery
	}{
		{"empty symbol", CandleQuery{Timeframe: "1d", Range: "7d"}},
		{"bad timeframe", CandleQuery{Symbol: "AMD", Timeframe: "3d", Range: "7d"}},
		{"bad range", CandleQuery{Symbol: "AMD", Timeframe: "1d", Range: "14d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fetcher.Candles(context.Background(), tt.query)
			assert.Error(t, err)
		})
	}
}

func TestCandleQueryValidate_LimitClamped(t *testing.T) {
	q := CandleQuery{Symbol: "amd", Timeframe: "1d", Range: "7d", Limit: 99999}
	require.NoError(t, q.Validate())
	assert.Equal(t, MaxCandleLimit, q.Limit)
	assert.Equal(t, "AMD", q.Symbol)

	q = CandleQuery{Symbol: "AMD", Timeframe: "1d", Range: "7d"}
	require.NoError(t, q.Validate())
	assert.Equal(t, 500, q.Limit)
}

func TestFetcher_TimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, marketDataScript, `sleep 30`)

	fetcher := newTestFetcher(t, dir, 150*time.Millisecond, 4)

	start := time.Now()
	_, err := fetcher.Quote(context.Background(), "AMD")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, elapsed, 5*time.Second, "kill must not wait for the script to finish")
}

func TestFetcher_GateSerializesSubprocesses(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, marketDataScript,
		`sleep 0.3; echo '{"ok":true,"symbol":"AMD","price":1,"timestampUtc":"2026-08-30T12:00:00Z"}'`)

	fetcher := newTestFetcher(t, dir, 10*time.Second, 1)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fetcher.Quote(context.Background(), "AMD")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Gate of 1: the two 300ms runs cannot overlap
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestFetcher_GateRespectsCancelledContext(t *testing.T) {
	fetcher := newTestFetcher(t, t.TempDir(), time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Quote(ctx, "AMD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subprocess gate")
}

func TestFetcherNewsReport(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, newsScript, `printf -- '--- TECHNICAL REPORT (AMD) ---\nRSI (14-day): 55.21 [NEUTRAL]\n'`)

	fetcher := newTestFetcher(t, dir, 5*time.Second, 4)

	report, err := fetcher.NewsReport(context.Background(), "amd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(report, "--- TECHNICAL REPORT (AMD) ---"))
	assert.Contains(t, report, "RSI (14-day)")
}

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/deepblue/internal/domain"
	"github.com/aristath/deepblue/internal/modules/marketdata"
)

func TestRsiFromCandles(t *testing.T) {
	rising := make([]marketdata.Candle, 30)
	falling := make([]marketdata.Candle, 30)
	for i := range rising {
		rising[i] = marketdata.Candle{Close: 100 + float64(i)}
		falling[i] = marketdata.Candle{Close: 130 - float64(i)}
	}

	t.Run("monotonic rise is overbought", func(t *testing.T) {
		rsi, status := rsiFromCandles(rising)
		assert.Greater(t, rsi, 70.0)
		assert.Equal(t, "OVERBOUGHT (SELL RISK)", status)
	})

	t.Run("monotonic fall is oversold", func(t *testing.T) {
		rsi, status := rsiFromCandles(falling)
		assert.Less(t, rsi, 30.0)
		assert.Equal(t, "OVERSOLD (BUY CHANCE)", status)
	})

	t.Run("too few candles", func(t *testing.T) {
		_, status := rsiFromCandles(rising[:10])
		assert.Equal(t, "DATA ERROR", status)
	})
}

func TestOpenChartTool(t *testing.T) {
	tool := NewOpenChartTool(nil)
	ctx := context.Background()

	t.Run("valid request emits side effect", func(t *testing.T) {
		content, effects, err := tool.Execute(ctx, ExecContext{}, json.RawMessage(
			`{"symbol":"amd","timeframe":"1d","range":"180d"}`))
		require.NoError(t, err)
		assert.Contains(t, content, "AMD")

		require.Len(t, effects, 1)
		assert.Equal(t, domain.SideEffectOpenChart, effects[0].Type)
		assert.Equal(t, "AMD", effects[0].Symbol)
		assert.Equal(t, "1d", effects[0].Timeframe)
		assert.Equal(t, "180d", effects[0].Range)
		assert.Equal(t, "/chart?symbol=AMD&tf=1d&range=180d", effects[0].URL)
	})

	t.Run("defaults applied", func(t *testing.T) {
		_, effects, err := tool.Execute(ctx, ExecContext{}, json.RawMessage(`{"symbol":"AMD"}`))
		require.NoError(t, err)
		require.Len(t, effects, 1)
		assert.Equal(t, "1d", effects[0].Timeframe)
		assert.Equal(t, "180d", effects[0].Range)
	})

	t.Run("invalid inputs", func(t *testing.T) {
		tests := []struct {
			name string
			args string
		}{
			{"missing symbol", `{}`},
			{"bad timeframe", `{"symbol":"AMD","timeframe":"3d"}`},
			{"bad range", `{"symbol":"AMD","range":"14d"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := tool.Execute(ctx, ExecContext{}, json.RawMessage(tt.args))
				assert.Error(t, err)
			})
		}
	})
}

func TestDecimalFromNumber(t *testing.T) {
	d, err := decimalFromNumber(json.Number("12.345"), "quantity")
	require.NoError(t, err)
	assert.Equal(t, "12.345", d.String())

	_, err = decimalFromNumber("", "quantity")
	assert.Error(t, err)
}

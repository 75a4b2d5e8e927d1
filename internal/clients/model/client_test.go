package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/deepblue/internal/domain"
)

func TestDecodeTurn_FinalAnswer(t *testing.T) {
	turn, err := DecodeTurn([]byte(`{"content":"AAPL closed at 175.50 today."}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TurnFinalAnswer, turn.Kind)
	assert.Equal(t, "AAPL closed at 175.50 today.", turn.Answer)
	assert.Empty(t, turn.ToolCalls)
}

func TestDecodeTurn_ToolCalls(t *testing.T) {
	body := []byte(`{
		"toolCalls": [
			{"id": "call_abc", "name": "get_quote", "arguments": {"symbol": "AAPL"}},
			{"id": "call_def", "name": "get_candles", "arguments": {"symbol": "MSFT", "timeframe": "1d"}}
		]
	}`)

	turn, err := DecodeTurn(body)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnToolCalls, turn.Kind)
	require.Len(t, turn.ToolCalls, 2)

	assert.Equal(t, 0, turn.ToolCalls[0].Index)
	assert.Equal(t, "call_abc", turn.ToolCalls[0].CallID)
	assert.Equal(t, "get_quote", turn.ToolCalls[0].ToolName)
	assert.JSONEq(t, `{"symbol":"AAPL"}`, string(turn.ToolCalls[0].Arguments))

	assert.Equal(t, 1, turn.ToolCalls[1].Index)
	assert.Equal(t, "get_candles", turn.ToolCalls[1].ToolName)
}

func TestDecodeTurn_ToolCallsWinOverContent(t *testing.T) {
	body := []byte(`{
		"content": "Let me check that for you.",
		"toolCalls": [{"id": "call_1", "name": "get_quote", "arguments": {"symbol": "NVDA"}}]
	}`)

	turn, err := DecodeTurn(body)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnToolCalls, turn.Kind)
	require.Len(t, turn.ToolCalls, 1)
}

func TestDecodeTurn_MissingCallIDGetsSynthesized(t *testing.T) {
	body := []byte(`{"toolCalls": [{"name": "get_quote", "arguments": {"symbol": "AAPL"}}]}`)

	turn, err := DecodeTurn(body)
	require.NoError(t, err)
	assert.Equal(t, "call_0", turn.ToolCalls[0].CallID)
}

func TestDecodeTurn_EmptyArgumentsDefaultToObject(t *testing.T) {
	body := []byte(`{"toolCalls": [{"id": "c1", "name": "get_quote"}]}`)

	turn, err := DecodeTurn(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(turn.ToolCalls[0].Arguments))
}

func TestDecodeTurn_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty response", `{}`},
		{"provider error", `{"error": "rate limited"}`},
		{"nameless tool call", `{"toolCalls": [{"id": "c1", "arguments": {}}]}`},
		{"malformed json", `{"content": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTurn([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"content":"done"}`))
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		ModelName: "test-model",
		Timeout:   5 * time.Second,
	}, zerolog.Nop())

	turn, err := client.Complete(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TurnFinalAnswer, turn.Kind)
	assert.Equal(t, "done", turn.Answer)
}

func TestClient_Complete_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, ModelName: "m"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_Complete_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, ModelName: "m"}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, nil)
	assert.Error(t, err)
}

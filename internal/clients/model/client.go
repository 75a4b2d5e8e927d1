// Package model provides the client for the external model service.
//
// The provider's wire format is deliberately treated as opaque: the raw
// response is decoded into a strongly-typed domain.ModelTurn (final answer
// or tool calls) before any business logic touches it.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/deepblue/internal/domain"
)

// Client talks to the model service over HTTP.
// The underlying http.Client is injected and process-lifetime scoped; it is
// safe for concurrent use and shared across requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelName  string
	log        zerolog.Logger
}

// Config holds model client configuration
type Config struct {
	BaseURL   string
	APIKey    string
	ModelName string
	Timeout   time.Duration
}

// NewClient creates a new model service client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		modelName:  cfg.ModelName,
		log:        log.With().Str("client", "model").Logger(),
	}
}

// completeRequest is the request body sent to the model service
type completeRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
}

// rawResponse mirrors the model service's response envelope: either a final
// textual answer, a list of requested tool calls, or both (answer wins only
// when no tool calls are present).
type rawResponse struct {
	Content   string        `json:"content"`
	ToolCalls []rawToolCall `json:"toolCalls"`
	Error     string        `json:"error,omitempty"`
}

type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Complete sends the accumulated conversation to the model service and
// returns its decoded turn. The context deadline is observed; a timeout is
// surfaced as an error, never left hanging.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage) (*domain.ModelTurn, error) {
	body, err := json.Marshal(completeRequest{
		Model:    c.modelName,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model service call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model service returned status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	turn, err := DecodeTurn(respBody)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("messages", len(messages)).
		Int("tool_calls", len(turn.ToolCalls)).
		Msg("Model turn completed")

	return turn, nil
}

// DecodeTurn converts the raw provider response into the tagged union the
// rest of the system consumes. Tool calls win over content: a response that
// requests tools is a tool turn even if it also carries commentary text.
func DecodeTurn(body []byte) (*domain.ModelTurn, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	if raw.Error != "" {
		return nil, fmt.Errorf("model service error: %s", raw.Error)
	}

	if len(raw.ToolCalls) > 0 {
		calls := make([]domain.ToolCall, 0, len(raw.ToolCalls))
		for i, tc := range raw.ToolCalls {
			if tc.Name == "" {
				return nil, fmt.Errorf("tool call %d has no name", i)
			}
			callID := tc.ID
			if callID == "" {
				callID = fmt.Sprintf("call_%d", i)
			}
			args := tc.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			calls = append(calls, domain.ToolCall{
				Index:     i,
				CallID:    callID,
				ToolName:  tc.Name,
				Arguments: args,
			})
		}
		return &domain.ModelTurn{Kind: domain.TurnToolCalls, ToolCalls: calls}, nil
	}

	if raw.Content == "" {
		return nil, fmt.Errorf("model response carries neither content nor tool calls")
	}

	return &domain.ModelTurn{Kind: domain.TurnFinalAnswer, Answer: raw.Content}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package domain holds shared types used across modules.
// The domain layer is pure: no infrastructure dependencies.
package domain

import "encoding/json"

// Message roles in a conversation thread
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is a single message in the conversation fed to the model service
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
// Index is the call's position in the model's request order; results must be
// delivered back to the model in that same order.
type ToolCall struct {
	Index     int             `json:"index"`
	CallID    string          `json:"callId"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"argumentsPayload"`
}

// ToolResult is the outcome of one tool call, fed back to the model
type ToolResult struct {
	Index    int    `json:"index"`
	CallID   string `json:"callId"`
	ToolName string `json:"toolName"`
	Content  string `json:"contentText"`
	Success  bool   `json:"success"`
}

// SideEffect is a UI-facing action produced by a tool (e.g. open a chart).
// Tagged by Type; unknown fields are omitted per type.
type SideEffect struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Range     string `json:"range,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SideEffectOpenChart is the side-effect type emitted by the open_chart tool
const SideEffectOpenChart = "openChart"

// TurnKind discriminates the two possible outcomes of a model call
type TurnKind int

const (
	// TurnFinalAnswer means the model produced a final textual answer
	TurnFinalAnswer TurnKind = iota
	// TurnToolCalls means the model requested tool invocations
	TurnToolCalls
)

// ModelTurn is the strongly-typed result of one model service call.
// The model client decodes the provider's response into this tagged union
// before any business logic touches it.
type ModelTurn struct {
	Kind      TurnKind
	Answer    string     // set when Kind == TurnFinalAnswer
	ToolCalls []ToolCall // set when Kind == TurnToolCalls
}

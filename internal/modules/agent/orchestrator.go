package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/deepblue/internal/domain"
	"github.com/aristath/deepblue/internal/events"
)

// defaultSystemPrompt frames every new thread
const defaultSystemPrompt = `You are Deep Blue, a trading assistant for a single user.
You can fetch quotes, candles and technical reports, open charts, and execute trades.
Execute at most one trade per answer. When you have enough information, answer directly.`

// maxTitleLength bounds auto-generated thread titles
const maxTitleLength = 80

// ModelClient is the narrow surface the orchestrator needs from the model
// service client
type ModelClient interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (*domain.ModelTurn, error)
}

// ToolDispatcher executes one turn's tool calls under the dispatch policies
type ToolDispatcher interface {
	Dispatch(ctx context.Context, threadID string, calls []domain.ToolCall) ([]domain.ToolResult, []domain.SideEffect)
}

// TurnResult is the outcome of one user question
type TurnResult struct {
	ThreadID                   string              `json:"threadId"`
	Answer                     string              `json:"answer"`
	Iterations                 int                 `json:"iterations"`
	TerminatedByCircuitBreaker bool                `json:"terminatedByCircuitBreaker"`
	SideEffects                []domain.SideEffect `json:"sideEffects,omitempty"`
}

// Orchestrator drives the model/tool loop for one question at a time.
// It is stateless between calls: all conversation state lives in the
// repository, so concurrent questions on different threads are independent.
type Orchestrator struct {
	model         ModelClient
	dispatcher    ToolDispatcher
	repo          *Repository
	eventManager  *events.Manager
	maxIterations int
	log           zerolog.Logger
}

// NewOrchestrator creates a new agent orchestrator
func NewOrchestrator(
	model ModelClient,
	dispatcher ToolDispatcher,
	repo *Repository,
	eventManager *events.Manager,
	maxIterations int,
	log zerolog.Logger,
) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &Orchestrator{
		model:         model,
		dispatcher:    dispatcher,
		repo:          repo,
		eventManager:  eventManager,
		maxIterations: maxIterations,
		log:           log.With().Str("service", "orchestrator").Logger(),
	}
}

// Ask runs the turn loop for one user question.
//
// Each iteration sends the accumulated conversation to the model. A final
// answer ends the loop; tool calls are dispatched, their results appended,
// and the loop continues. The iteration cap is a hard circuit breaker
// against models that keep requesting tools forever.
func (o *Orchestrator) Ask(ctx context.Context, threadID, question string) (*TurnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}

	thread, history, err := o.prepareThread(ctx, threadID, question)
	if err != nil {
		return nil, err
	}

	o.emit(events.AgentTurnStarted, map[string]interface{}{
		"thread_id": thread.ID,
	})

	conversation := make([]domain.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		conversation = append(conversation, msg.ChatMessage())
	}

	userMsg := &Message{ThreadID: thread.ID, Role: domain.RoleUser, Content: question}
	if err := o.repo.AddMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist question: %w", err)
	}
	conversation = append(conversation, userMsg.ChatMessage())

	result := &TurnResult{ThreadID: thread.ID}

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		result.Iterations = iteration

		turn, err := o.model.Complete(ctx, conversation)
		if err != nil {
			return nil, fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}

		if turn.Kind == domain.TurnFinalAnswer {
			assistantMsg := &Message{ThreadID: thread.ID, Role: domain.RoleAssistant, Content: turn.Answer}
			if err := o.repo.AddMessage(ctx, assistantMsg); err != nil {
				return nil, fmt.Errorf("failed to persist answer: %w", err)
			}

			result.Answer = turn.Answer
			o.emit(events.AgentTurnCompleted, map[string]interface{}{
				"thread_id":  thread.ID,
				"iterations": iteration,
			})
			return result, nil
		}

		o.log.Debug().
			Str("thread_id", thread.ID).
			Int("iteration", iteration).
			Int("tool_calls", len(turn.ToolCalls)).
			Msg("Model requested tools")

		// Record the model's tool request so the thread replays faithfully
		requestJSON, _ := json.Marshal(turn.ToolCalls)
		assistantMsg := &Message{ThreadID: thread.ID, Role: domain.RoleAssistant, Content: string(requestJSON)}
		if err := o.repo.AddMessage(ctx, assistantMsg); err != nil {
			return nil, fmt.Errorf("failed to persist tool request: %w", err)
		}
		conversation = append(conversation, assistantMsg.ChatMessage())

		results, effects := o.dispatcher.Dispatch(ctx, thread.ID, turn.ToolCalls)
		result.SideEffects = append(result.SideEffects, effects...)

		for _, toolResult := range results {
			toolMsg := &Message{
				ThreadID:   thread.ID,
				Role:       domain.RoleTool,
				Content:    toolResult.Content,
				ToolCallID: toolResult.CallID,
				ToolName:   toolResult.ToolName,
			}
			if err := o.repo.AddMessage(ctx, toolMsg); err != nil {
				return nil, fmt.Errorf("failed to persist tool result: %w", err)
			}
			conversation = append(conversation, toolMsg.ChatMessage())
		}
	}

	// Circuit breaker tripped: the model never produced a final answer
	breakerMsg := &Message{
		ThreadID: thread.ID,
		Role:     domain.RoleSystem,
		Content:  fmt.Sprintf("Conversation stopped: the agent did not reach an answer within %d iterations.", o.maxIterations),
	}
	if err := o.repo.AddMessage(ctx, breakerMsg); err != nil {
		o.log.Error().Err(err).Str("thread_id", thread.ID).Msg("Failed to persist circuit breaker message")
	}

	o.log.Warn().
		Str("thread_id", thread.ID).
		Int("iterations", o.maxIterations).
		Msg("Circuit breaker tripped")
	o.emit(events.CircuitBreakerTrip, map[string]interface{}{
		"thread_id":  thread.ID,
		"iterations": o.maxIterations,
	})

	result.TerminatedByCircuitBreaker = true
	result.Answer = breakerMsg.Content
	return result, nil
}

// prepareThread loads an existing thread's history, or creates a fresh
// thread seeded with the system prompt.
func (o *Orchestrator) prepareThread(ctx context.Context, threadID, question string) (*Thread, []Message, error) {
	if threadID != "" {
		thread, err := o.repo.GetThread(ctx, threadID)
		if err != nil {
			return nil, nil, err
		}
		history, err := o.repo.GetMessages(ctx, thread.ID)
		if err != nil {
			return nil, nil, err
		}
		return thread, history, nil
	}

	title := question
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	thread, err := o.repo.CreateThread(ctx, title)
	if err != nil {
		return nil, nil, err
	}

	systemMsg := &Message{ThreadID: thread.ID, Role: domain.RoleSystem, Content: defaultSystemPrompt}
	if err := o.repo.AddMessage(ctx, systemMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to persist system prompt: %w", err)
	}

	return thread, []Message{*systemMsg}, nil
}

func (o *Orchestrator) emit(eventType events.EventType, data map[string]interface{}) {
	if o.eventManager != nil {
		o.eventManager.Emit(eventType, "agent", data)
	}
}

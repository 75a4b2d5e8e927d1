// Package events provides event management functionality.
package events

import (
	"sync"
	"time"
)

// EventType represents different event types
type EventType string

const (
	TradeExecuted      EventType = "TRADE_EXECUTED"
	TradeRejected      EventType = "TRADE_REJECTED"
	ChartOpened        EventType = "CHART_OPENED"
	AgentTurnStarted   EventType = "AGENT_TURN_STARTED"
	AgentTurnCompleted EventType = "AGENT_TURN_COMPLETED"
	CircuitBreakerTrip EventType = "CIRCUIT_BREAKER_TRIP"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event is a single emitted event
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler receives events published on the bus
type Handler func(event *Event)

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]Handler
	nextID      int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]Handler),
	}
}

// Subscribe registers a handler for all events and returns an unsubscribe function
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to all current subscribers.
// Handlers run synchronously on the caller's goroutine; they must not block.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

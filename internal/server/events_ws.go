package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/deepblue/internal/events"
)

const (
	// Per-client buffer; events are dropped for a client that cannot keep up.
	eventBufferSize = 100
	writeWait       = 10 * time.Second
)

// EventsWSHandler streams all system events to WebSocket clients.
type EventsWSHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsWSHandler creates a new unified events stream handler.
func NewEventsWSHandler(eventBus *events.Bus, log zerolog.Logger) *EventsWSHandler {
	return &EventsWSHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
//
// An optional ?types=a,b,c query restricts the stream to the listed event
// types. The client is not expected to send messages; anything received is
// discarded, and the connection ends when the client goes away or a write
// fails.
func (h *EventsWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var allowedTypes map[events.EventType]bool
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowedTypes[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// CORS is handled by the router middleware.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}

	h.log.Info().Int("filtered_types", len(allowedTypes)).Msg("Client connected to event stream")

	// CloseRead discards incoming messages and returns a context that is
	// cancelled when the connection closes. It also detaches the stream
	// from the request timeout middleware, so connections can outlive the
	// standard request deadline.
	ctx := conn.CloseRead(context.Background())

	eventChan := make(chan *events.Event, eventBufferSize)

	unsubscribe := h.eventBus.Subscribe(func(event *events.Event) {
		if allowedTypes != nil && !allowedTypes[event.Type] {
			return
		}

		// Non-blocking send (drop if channel full)
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	})
	defer unsubscribe()

	// Initial connection message
	if err := h.write(ctx, conn, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to unified event stream",
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}

	// nhooyr.io/websocket handles ping/pong automatically; the heartbeat
	// exists for clients that want an application-level liveness signal.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			payload := map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			}
			if err := h.write(ctx, conn, payload); err != nil {
				h.log.Debug().Err(err).Msg("Event write failed, closing stream")
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}

		case <-heartbeat.C:
			payload := map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}
			if err := h.write(ctx, conn, payload); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

// write marshals the payload and sends it as a single text message.
func (h *EventsWSHandler) write(ctx context.Context, conn *websocket.Conn, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}

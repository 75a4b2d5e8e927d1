// Package handlers provides HTTP handlers for agent conversations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/deepblue/internal/modules/agent"
)

// Handler handles agent HTTP requests
type Handler struct {
	orchestrator *agent.Orchestrator
	repo         *agent.Repository
	log          zerolog.Logger
}

// NewHandler creates a new agent handler
func NewHandler(orchestrator *agent.Orchestrator, repo *agent.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		repo:         repo,
		log:          log.With().Str("handler", "agent").Logger(),
	}
}

// RegisterRoutes registers all agent routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/agent", func(r chi.Router) {
		r.Post("/ask", h.HandleAsk)
		r.Get("/threads", h.HandleListThreads)
		r.Get("/threads/{id}/messages", h.HandleGetMessages)
	})
}

// askRequest is the body of POST /api/agent/ask
type askRequest struct {
	ThreadID string `json:"threadId"`
	Question string `json:"question"`
}

// HandleAsk handles POST /api/agent/ask
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.Ask(r.Context(), req.ThreadID, req.Question)
	if err != nil {
		if errors.Is(err, agent.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Agent turn failed")
		http.Error(w, "Agent turn failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleListThreads handles GET /api/agent/threads
func (h *Handler) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.repo.ListThreads(r.Context(), 50)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list threads")
		http.Error(w, "Failed to list threads", http.StatusInternalServerError)
		return
	}

	views := make([]map[string]interface{}, 0, len(threads))
	for _, thread := range threads {
		views = append(views, map[string]interface{}{
			"id":         thread.ID,
			"title":      thread.Title,
			"created_at": thread.CreatedAt.UTC().Format(time.RFC3339),
			"updated_at": thread.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"threads": views,
			"count":   len(views),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetMessages handles GET /api/agent/threads/{id}/messages
func (h *Handler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")

	if _, err := h.repo.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, agent.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to load thread")
		http.Error(w, "Failed to load thread", http.StatusInternalServerError)
		return
	}

	messages, err := h.repo.GetMessages(r.Context(), threadID)
	if err != nil {
		h.log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to load messages")
		http.Error(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	views := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		view := map[string]interface{}{
			"id":         msg.ID,
			"role":       msg.Role,
			"content":    msg.Content,
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
		}
		if msg.ToolCallID != "" {
			view["tool_call_id"] = msg.ToolCallID
		}
		if msg.ToolName != "" {
			view["tool_name"] = msg.ToolName
		}
		views = append(views, view)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"thread_id": threadID,
			"messages":  views,
			"count":     len(views),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

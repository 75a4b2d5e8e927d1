package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleGetTrades)
		r.Post("/execute", h.HandleExecuteTrade)
	})
	r.Get("/portfolio/positions", h.HandleGetPositions)
}

package insightshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the narrative endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/insights/narrative", h.handleNarrative)
}

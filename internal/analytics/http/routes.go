package analytichttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/training-insights/dashboard/internal/shared"
)

// MountRoutes registers dashboard endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.cfg.ExportLimit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/dashboard", h.handleDashboard)
	r.Post("/dashboard/filters", h.handleFilters)
	r.Post("/dashboard/presets/{preset}", h.handlePreset)
	r.Post("/dashboard/retry", h.handleRetry)
	r.Post("/session/token", h.handleToken)
	r.Get("/api/dashboard", h.handleAPI)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/dashboard/pdf", h.handlePDF)
		gr.Get("/dashboard/export.csv", h.handleCSV)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.ID != "" {
		return "session:" + sess.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

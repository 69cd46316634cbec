package report

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/training-insights/dashboard/internal/platform/httpx"
)

// Pinger reports whether the PDF renderer is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes renderer health so operators can tell why PDF exports fail.
type Handler struct {
	client Pinger
	logger *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.client.Ping(ctx); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

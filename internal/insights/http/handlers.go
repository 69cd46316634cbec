package insightshttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/training-insights/dashboard/internal/analytics"
	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insights"
	"github.com/training-insights/dashboard/internal/insightsapi"
	"github.com/training-insights/dashboard/internal/shared"
	"github.com/training-insights/dashboard/internal/view"
)

const requestTimeout = 10 * time.Second

// Service exposes the narrative loading required by the handler.
type Service interface {
	Load(ctx context.Context, opts filters.Options) (*insightsapi.Narrative, error)
}

// Handler serves the narrative page.
type Handler struct {
	logger    *slog.Logger
	service   Service
	templates *view.Engine
	loginURL  string
	timeout   time.Duration
}

// NewHandler constructs the narrative handler.
func NewHandler(logger *slog.Logger, service Service, templates *view.Engine, loginURL string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loginURL == "" {
		loginURL = "/login"
	}
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		loginURL:  loginURL,
		timeout:   requestTimeout,
	}
}

func (h *Handler) handleNarrative(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	opts := filters.FromQuery(r.URL.Query())
	if err := opts.Validate(); err != nil {
		h.handleFilterError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if sess != nil && sess.ID != "" {
		ctx = shared.ContextWithSessionID(ctx, sess.ID)
	}

	data := view.TemplateData{
		Title:       "Training Narrative",
		CurrentPath: r.URL.Path,
	}
	if sess != nil {
		data.Flash = sess.PopFlash()
	}

	status := http.StatusOK
	narrative, err := h.service.Load(ctx, opts)
	vm := insights.NewViewModel(opts, narrative)
	if err != nil {
		if insightsapi.IsAuthExpired(err) {
			http.Redirect(w, r, h.loginURL, http.StatusSeeOther)
			return
		}
		h.logger.Error("load narrative", slog.String("filter", opts.Summary()), slog.Any("error", err))
		vm.ErrorMessage = analytics.ErrorPrefix + insightsapi.FormatError(err)
		status = http.StatusBadGateway
	}
	data.Data = vm
	if err := h.templates.RenderStatus(w, status, "pages/narrative.html", data); err != nil {
		h.handleServerError(w, "render template", err)
	}
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var fErr *filters.FieldError
	if errors.As(err, &fErr) {
		http.Error(w, "Invalid filter: "+err.Error(), http.StatusBadRequest)
		return
	}
	h.handleServerError(w, "validate filters", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

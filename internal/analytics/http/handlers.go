package analytichttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/training-insights/dashboard/internal/analytics"
	"github.com/training-insights/dashboard/internal/analytics/export"
	"github.com/training-insights/dashboard/internal/analytics/ui"
	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
	"github.com/training-insights/dashboard/internal/platform/httpx"
	"github.com/training-insights/dashboard/internal/projector"
	"github.com/training-insights/dashboard/internal/query"
	"github.com/training-insights/dashboard/internal/shared"
	"github.com/training-insights/dashboard/internal/view"
)

const loadingRefreshSeconds = 2

// BoardSource hands out the per-session dashboard boards.
type BoardSource interface {
	Get(sessionID string) *analytics.Board
	Ready() bool
}

// InsightsService loads payloads for exports, bypassing the per-session boards.
type InsightsService interface {
	Insights(ctx context.Context, opts filters.Options) (*insightsapi.Payload, error)
	KnownDepartments(ctx context.Context) ([]string, error)
}

// PDFService renders dashboard content to PDF bytes.
type PDFService interface {
	RenderDashboard(ctx context.Context, payload export.DashboardPayload) ([]byte, error)
}

// TokenWriter stores the Insights API credential for a session.
type TokenWriter interface {
	Set(ctx context.Context, sessionID, token string) error
}

// Config tunes the handler.
type Config struct {
	AppName  string
	LoginURL string
	// ShowTimeout bounds how long a page request waits for the board before rendering the
	// loading page instead.
	ShowTimeout   time.Duration
	ExportTimeout time.Duration
	ExportLimit   int
}

// Handler coordinates HTTP requests for the training dashboard.
type Handler struct {
	logger    *slog.Logger
	boards    BoardSource
	service   InsightsService
	templates *view.Engine
	renderers ui.Renderers
	pdf       PDFService
	csrf      *shared.CSRFManager
	tokens    TokenWriter
	cfg       Config
	csvPool   sync.Pool
	now       func() time.Time
}

// NewHandler constructs the dashboard HTTP handler.
func NewHandler(logger *slog.Logger, boards BoardSource, service InsightsService, templates *view.Engine, renderers ui.Renderers, pdf PDFService, csrf *shared.CSRFManager, tokens TokenWriter, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "/login"
	}
	if cfg.ShowTimeout <= 0 {
		cfg.ShowTimeout = 5 * time.Second
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 30 * time.Second
	}
	if cfg.ExportLimit <= 0 {
		cfg.ExportLimit = 10
	}
	h := &Handler{
		logger:    logger,
		boards:    boards,
		service:   service,
		templates: templates,
		renderers: renderers,
		pdf:       pdf,
		csrf:      csrf,
		tokens:    tokens,
		cfg:       cfg,
		now:       time.Now,
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	applied, err := parseFilters(r.URL.Query())
	if err != nil {
		h.handleFilterError(w, err)
		return
	}

	store := filters.NewStore(nil, r.URL.Query(), filters.WithClock(h.now))
	restorePending(sess, store)

	board := h.boards.Get(sessionID(sess))
	h.mergeKnownDepartments(r.Context(), board)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ShowTimeout)
	defer cancel()
	snap, err := board.Show(ctx, applied)
	if r.Context().Err() != nil {
		return
	}
	if board.TakeAuthExpired() {
		http.Redirect(w, r, h.cfg.LoginURL, http.StatusSeeOther)
		return
	}

	form := ui.NewFilterForm(store.Applied(), store.Pending(), board.Catalog(), h.now())
	data := view.TemplateData{
		Title:       "Training Insights Dashboard",
		CSRFToken:   h.csrfToken(r.Context(), sess),
		CurrentPath: r.URL.Path,
	}
	if sess != nil {
		data.Flash = sess.PopFlash()
	}

	if err != nil {
		h.logger.Debug("dashboard not ready", slog.String("filter", applied.Summary()), slog.Any("error", err))
		h.renderLoading(w, data, form)
		return
	}

	switch snap.State {
	case query.StateSuccess:
		views := board.Views(snap)
		charts, err := ui.BuildCharts(views, h.renderers)
		if err != nil {
			h.handleServerError(w, "render charts", err)
			return
		}
		data.Data = ui.NewDashboardViewModel(form, views, charts, board.ErrorMessage())
		if err := h.templates.Render(w, "pages/dashboard.html", data); err != nil {
			h.handleServerError(w, "render template", err)
		}
	case query.StateError:
		message := board.ErrorMessage()
		if message == "" {
			message = analytics.ErrorPrefix + snap.Message
		}
		data.Title = "Failed to Load Dashboard"
		data.Data = ui.ErrorViewModel{Form: form, Message: message}
		if err := h.templates.RenderStatus(w, http.StatusBadGateway, "pages/error.html", data); err != nil {
			h.handleServerError(w, "render template", err)
		}
	default:
		h.renderLoading(w, data, form)
	}
}

func (h *Handler) renderLoading(w http.ResponseWriter, data view.TemplateData, form ui.FilterForm) {
	data.Title = "Loading Dashboard"
	data.Refresh = loadingRefreshSeconds
	data.Data = ui.LoadingViewModel{Form: form, Starting: !h.boards.Ready()}
	if err := h.templates.Render(w, "pages/loading.html", data); err != nil {
		h.handleServerError(w, "render template", err)
	}
}

func (h *Handler) handleFilters(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.handleFilterError(w, validationError{field: "form", reason: err.Error()})
		return
	}
	sess := shared.SessionFromContext(r.Context())
	store, loc, err := h.formStore(r, sess)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}

	switch action := r.PostFormValue("action"); action {
	case "clear":
		store.Clear()
		forgetPending(sess)
		http.Redirect(w, r, loc.URL("/dashboard"), http.StatusSeeOther)
		return
	case "edit", "apply", "":
		if err := applyFormEdits(store, r.PostForm); err != nil {
			h.handleFilterError(w, err)
			return
		}
		if action == "apply" {
			store.Commit()
			forgetPending(sess)
			http.Redirect(w, r, loc.URL("/dashboard"), http.StatusSeeOther)
			return
		}
		savePending(sess, store)
		http.Redirect(w, r, store.Applied().URL("/dashboard"), http.StatusSeeOther)
	default:
		h.handleFilterError(w, validationError{field: "action", reason: "unknown action " + action})
	}
}

func (h *Handler) handlePreset(w http.ResponseWriter, r *http.Request) {
	preset, err := filters.ParsePreset(chi.URLParam(r, "preset"))
	if err != nil {
		h.handleFilterError(w, validationError{field: "preset", reason: err.Error()})
		return
	}
	sess := shared.SessionFromContext(r.Context())
	store, loc, err := h.formStore(r, sess)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	if _, err := store.ApplyPreset(preset); err != nil {
		h.handleFilterError(w, validationError{field: "preset", reason: err.Error()})
		return
	}
	forgetPending(sess)
	http.Redirect(w, r, loc.URL("/dashboard"), http.StatusSeeOther)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	h.boards.Get(sessionID(sess)).Retry()
	target := "/dashboard"
	if q, err := url.ParseQuery(r.PostFormValue("applied")); err == nil {
		target = filters.FromQuery(q).URL("/dashboard")
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || h.tokens == nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if err := h.tokens.Set(r.Context(), sess.ID, r.PostFormValue("token")); err != nil {
		h.handleServerError(w, "store token", err)
		return
	}
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Access token saved."})
	h.boards.Get(sessionID(sess)).Retry()
	http.Redirect(w, r, safeNext(r.PostFormValue("next")), http.StatusSeeOther)
}

// dashboardResponse is the JSON shape of GET /api/dashboard.
type dashboardResponse struct {
	State        string           `json:"state"`
	Filters      filters.Options  `json:"filters"`
	Departments  []string         `json:"departments"`
	Views        *projector.Views `json:"views,omitempty"`
	Error        string           `json:"error,omitempty"`
	FailureCount int              `json:"failureCount"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

func (h *Handler) handleAPI(w http.ResponseWriter, r *http.Request) {
	applied, err := parseFilters(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	board := h.boards.Get(sessionID(shared.SessionFromContext(r.Context())))
	h.mergeKnownDepartments(r.Context(), board)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ShowTimeout)
	defer cancel()
	snap, err := board.Show(ctx, applied)
	if r.Context().Err() != nil {
		return
	}
	if board.TakeAuthExpired() {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrUnauthorized, snap.Message))
		return
	}

	resp := dashboardResponse{
		State:        snap.State.String(),
		Filters:      applied,
		Departments:  board.Catalog(),
		FailureCount: snap.FailureCount,
		UpdatedAt:    snap.UpdatedAt,
	}
	status := http.StatusOK
	switch {
	case err != nil:
		resp.State = query.StateLoading.String()
		status = http.StatusAccepted
	case snap.State == query.StateSuccess:
		views := board.Views(snap)
		resp.Views = &views
	case snap.State == query.StateError:
		resp.Error = board.ErrorMessage()
		status = http.StatusBadGateway
	default:
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	applied, views, ok := h.loadExport(w, r)
	if !ok {
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := export.WriteDashboardCSV(buf, views); err != nil {
		h.handleServerError(w, "write dashboard csv", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportFilename(applied, h.now(), "csv")))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	if h.pdf == nil {
		h.handleServerError(w, "pdf exporter", errors.New("pdf exporter not configured"))
		return
	}
	applied, views, ok := h.loadExport(w, r)
	if !ok {
		return
	}
	charts, err := ui.BuildCharts(views, h.renderers)
	if err != nil {
		h.handleServerError(w, "render charts", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ExportTimeout)
	defer cancel()
	pdfBytes, err := h.pdf.RenderDashboard(ctx, export.DashboardPayload{
		AppName: h.cfg.AppName,
		Views:   views,
		Charts:  []template.HTML{charts.Trend, charts.PassRate, charts.Radar},
	})
	if err != nil {
		h.handleUpstreamError(w, "render pdf", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportFilename(applied, h.now(), "pdf")))
	if _, err := w.Write(pdfBytes); err != nil {
		h.logError("stream pdf", err)
	}
}

// loadExport resolves the payload for the URL filter straight from the cached service, so an
// export never waits on or disturbs the session's board.
func (h *Handler) loadExport(w http.ResponseWriter, r *http.Request) (filters.Options, projector.Views, bool) {
	applied, err := parseFilters(r.URL.Query())
	if err != nil {
		h.handleFilterError(w, err)
		return filters.Options{}, projector.Views{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ExportTimeout)
	defer cancel()
	ctx = shared.ContextWithSessionID(ctx, sessionID(shared.SessionFromContext(r.Context())))

	payload, err := h.service.Insights(ctx, applied)
	if err != nil {
		if insightsapi.IsAuthExpired(err) {
			http.Redirect(w, r, h.cfg.LoginURL, http.StatusSeeOther)
			return filters.Options{}, projector.Views{}, false
		}
		h.handleUpstreamError(w, "load export", err)
		return filters.Options{}, projector.Views{}, false
	}
	return applied, projector.Project(payload, applied), true
}

// formStore rebuilds the filter store for a form post. The applied filter travels in a hidden
// field so the post does not depend on the Referer.
func (h *Handler) formStore(r *http.Request, sess *shared.Session) (*filters.Store, *redirectLocation, error) {
	q, err := url.ParseQuery(r.PostFormValue("applied"))
	if err != nil {
		return nil, nil, validationError{field: "applied", reason: err.Error()}
	}
	if _, err := parseFilters(q); err != nil {
		return nil, nil, err
	}
	loc := &redirectLocation{}
	store := filters.NewStore(loc, q, filters.WithClock(h.now))
	restorePending(sess, store)
	return store, loc, nil
}

// applyFormEdits feeds changed form fields into the store's pending filter.
func applyFormEdits(store *filters.Store, form url.Values) error {
	pending := store.Pending()
	if dept, ok := formValue(form, filters.ParamDepartment); ok && dept != pending.Department {
		if err := (filters.Options{Department: dept}).Validate(); err != nil {
			return err
		}
		store.SetPendingDepartment(dept)
	}
	edits := []struct {
		param string
		field filters.DateField
		old   string
	}{
		{filters.ParamStartDate, filters.FieldStart, pending.DateRange.Start},
		{filters.ParamEndDate, filters.FieldEnd, pending.DateRange.End},
	}
	for _, edit := range edits {
		value, ok := formValue(form, edit.param)
		if !ok || value == edit.old {
			continue
		}
		if err := (filters.Options{DateRange: filters.DateRange{Start: value}}).Validate(); err != nil {
			return validationError{field: edit.param, reason: "expected yyyy-MM-dd"}
		}
		store.SetPendingDate(edit.field, value)
	}
	return nil
}

func formValue(form url.Values, key string) (string, bool) {
	values, ok := form[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(values[0]), true
}

func parseFilters(q url.Values) (filters.Options, error) {
	opts := filters.FromQuery(q)
	if err := opts.Validate(); err != nil {
		return filters.Options{}, err
	}
	return opts, nil
}

func (h *Handler) mergeKnownDepartments(ctx context.Context, board *analytics.Board) {
	if h.service == nil {
		return
	}
	names, err := h.service.KnownDepartments(ctx)
	if err != nil {
		h.logger.Debug("known departments", slog.Any("error", err))
		return
	}
	board.MergeCatalog(names)
}

func (h *Handler) csrfToken(ctx context.Context, sess *shared.Session) string {
	if h.csrf == nil || sess == nil {
		return ""
	}
	token, err := h.csrf.EnsureToken(ctx, sess)
	if err != nil {
		h.logError("csrf token", err)
	}
	return token
}

func exportFilename(opts filters.Options, now time.Time, ext string) string {
	name := "training-insights"
	if opts.HasDepartment() {
		name += "-" + slug(opts.Department)
	}
	if opts.DateRange.Start != "" || opts.DateRange.End != "" {
		name += "-" + orAll(opts.DateRange.Start) + "-to-" + orAll(opts.DateRange.End)
	}
	return fmt.Sprintf("%s-%s.%s", name, now.UTC().Format("20060102"), ext)
}

func slug(v string) string {
	return strings.Trim(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, v), "-")
}

func orAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var vErr validationError
	var fErr *filters.FieldError
	switch {
	case errors.As(err, &vErr), errors.As(err, &fErr):
		http.Error(w, "Invalid filter: "+err.Error(), http.StatusBadRequest)
	default:
		h.handleServerError(w, "parse filters", err)
	}
}

func (h *Handler) handleUpstreamError(w http.ResponseWriter, context string, err error) {
	h.logError(context, err)
	http.Error(w, analytics.ErrorPrefix+insightsapi.FormatError(err), http.StatusBadGateway)
}

func (h *Handler) handleServerError(w http.ResponseWriter, context string, err error) {
	h.logError(context, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) logError(context string, err error) {
	if h.logger != nil {
		h.logger.Error(context, slog.Any("error", err))
	}
}

type validationError struct {
	field  string
	reason string
}

func (v validationError) Error() string {
	if v.reason == "" {
		return fmt.Sprintf("invalid %s", v.field)
	}
	return fmt.Sprintf("invalid %s: %s", v.field, v.reason)
}

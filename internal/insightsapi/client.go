// Package insightsapi is the HTTP client for the training Insights API.
package insightsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/training-insights/dashboard/internal/filters"
)

const (
	// DefaultTimeout applies when Config.Timeout is zero.
	DefaultTimeout = 10 * time.Second

	insightsPath  = "/insights"
	narrativePath = "/natural-language-insights"
	maxBodyBytes  = 4 << 20
)

// TokenProvider looks up the bearer credential for the current caller. An empty token means
// the request is sent without Authorization.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same credential.
func StaticToken(token string) TokenProvider {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// Classifier maps a non-2xx response to an Error.
type Classifier func(status int, statusText string, body []byte) *Error

// Observer receives one call per finished request.
type Observer func(endpoint string, kind Kind, status int, elapsed time.Duration)

// Config wires a Client. Only BaseURL is required.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Token      TokenProvider
	Classify   Classifier
	Observe    Observer
	Logger     *slog.Logger
	// RequestHooks run in order on every outgoing request after auth is attached.
	RequestHooks []func(*http.Request) error
}

// Client issues requests against the Insights API.
type Client struct {
	baseURL  string
	http     *http.Client
	token    TokenProvider
	classify Classifier
	observe  Observer
	logger   *slog.Logger
	hooks    []func(*http.Request) error
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("insightsapi: base url required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("insightsapi: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	classify := cfg.Classify
	if classify == nil {
		classify = statusError
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  base,
		http:     httpClient,
		token:    cfg.Token,
		classify: classify,
		observe:  cfg.Observe,
		logger:   logger.With(slog.String("component", "insightsapi")),
		hooks:    cfg.RequestHooks,
	}, nil
}

// Insights fetches the aggregated training payload for opts.
func (c *Client) Insights(ctx context.Context, opts filters.Options) (*Payload, error) {
	var payload Payload
	if err := c.get(ctx, insightsPath, opts.Query(), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Narrative fetches the natural-language summary for opts.
func (c *Client) Narrative(ctx context.Context, opts filters.Options) (*Narrative, error) {
	var narrative Narrative
	if err := c.get(ctx, narrativePath, opts.Query(), &narrative); err != nil {
		return nil, err
	}
	return &narrative, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dest any) error {
	target := c.baseURL + path
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if err := c.prepare(ctx, req); err != nil {
		return err
	}

	start := time.Now()
	c.logger.Debug("api request", slog.String("method", req.Method), slog.String("url", req.URL.String()))
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		apiErr := networkError(err)
		c.finish(path, apiErr.Kind, 0, start)
		c.logger.Warn("api request failed", slog.String("url", req.URL.String()), slog.Any("error", err))
		return apiErr
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		apiErr := networkError(err)
		c.finish(path, apiErr.Kind, resp.StatusCode, start)
		return apiErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := c.classify(resp.StatusCode, statusText(resp), body)
		c.finish(path, apiErr.Kind, resp.StatusCode, start)
		c.logger.Error(apiErr.Message, slog.Int("status", resp.StatusCode), slog.String("kind", apiErr.Kind.String()), slog.String("body", truncate(body, 200)))
		return apiErr
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		apiErr := &Error{
			Kind:       KindUnknown,
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Body:       body,
			Message:    fmt.Sprintf("Expected JSON response but got: %s", resp.Header.Get("Content-Type")),
		}
		c.finish(path, apiErr.Kind, resp.StatusCode, start)
		return apiErr
	}
	if err := json.Unmarshal(body, dest); err != nil {
		apiErr := &Error{Kind: KindUnknown, Status: resp.StatusCode, StatusText: statusText(resp), Body: body, Message: "Malformed response from Insights API", Err: err}
		c.finish(path, apiErr.Kind, resp.StatusCode, start)
		return apiErr
	}
	c.finish(path, KindNone, resp.StatusCode, start)
	c.logger.Debug("api response", slog.Int("status", resp.StatusCode), slog.String("url", req.URL.String()), slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Client) prepare(ctx context.Context, req *http.Request) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	reqID := chimw.GetReqID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", reqID)
	if c.token != nil {
		token, err := c.token.Token(ctx)
		if err != nil {
			return fmt.Errorf("insightsapi: lookup token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for _, hook := range c.hooks {
		if err := hook(req); err != nil {
			return fmt.Errorf("insightsapi: request hook: %w", err)
		}
	}
	return nil
}

func (c *Client) finish(path string, kind Kind, status int, start time.Time) {
	if c.observe == nil {
		return
	}
	c.observe(strings.TrimPrefix(path, "/"), kind, status, time.Since(start))
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}

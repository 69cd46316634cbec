// Package report talks to Gotenberg, which turns dashboard HTML into PDF.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	convertPath = "/forms/chromium/convert/html"
	healthPath  = "/health"
	// maxPDFBytes bounds how much of a Gotenberg response is read.
	maxPDFBytes = 32 << 20
)

// StatusError is returned when Gotenberg answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gotenberg returned status %d", e.Status)
	}
	return fmt.Sprintf("gotenberg returned status %d: %s", e.Status, e.Body)
}

// Page sets the printed page layout. Sizes are in inches, zero values keep Gotenberg defaults.
type Page struct {
	Landscape       bool
	PaperWidth      float64
	PaperHeight     float64
	PrintBackground bool
}

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	page       Page
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPage sets the page layout sent with every conversion.
func WithPage(p Page) ClientOption {
	return func(c *Client) { c.page = p }
}

// NewClient constructs a new client. Dashboards print landscape A4 with backgrounds by default.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		page: Page{Landscape: true, PaperWidth: 11.7, PaperHeight: 8.27, PrintBackground: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

// RenderHTML converts a complete HTML document into a PDF document.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	if err := c.writePage(writer); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertPath, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gotenberg convert: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
}

func (c *Client) writePage(w *multipart.Writer) error {
	fields := map[string]string{}
	if c.page.Landscape {
		fields["landscape"] = "true"
	}
	if c.page.PrintBackground {
		fields["printBackground"] = "true"
	}
	if c.page.PaperWidth > 0 {
		fields["paperWidth"] = fmt.Sprintf("%g", c.page.PaperWidth)
	}
	if c.page.PaperHeight > 0 {
		fields["paperHeight"] = fmt.Sprintf("%g", c.page.PaperHeight)
	}
	for _, name := range []string{"landscape", "printBackground", "paperWidth", "paperHeight"} {
		value, ok := fields[name]
		if !ok {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return err
		}
	}
	return nil
}

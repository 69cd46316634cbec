package view

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/training-insights/dashboard/internal/shared"
	"github.com/training-insights/dashboard/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
	app       AppInfo
}

// AppInfo identifies the application in the layout.
type AppInfo struct {
	Name    string
	Version string
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	App         AppInfo
	// Refresh makes the page reload itself after the given number of seconds.
	Refresh int
	Data    any
}

var printer = message.NewPrinter(language.English)

// FormatInt groups thousands the way the dashboard displays counts (1,234).
func FormatInt(n int) string {
	return printer.Sprintf("%d", n)
}

// FormatFloat renders v with the given number of decimals and grouped thousands.
func FormatFloat(v float64, decimals int) string {
	return printer.Sprintf("%.*f", decimals, v)
}

// Funcs returns the helpers available to every template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatInt": FormatInt,
		"formatFloat": func(v float64) string {
			return FormatFloat(v, 1)
		},
		"percent": func(v float64) string {
			return FormatFloat(v, 1) + "%"
		},
		"optional": func(v *float64, suffix string) string {
			if v == nil {
				return "N/A"
			}
			return FormatFloat(*v, 1) + suffix
		},
	}
}

// NewEngine parses templates at build-time.
func NewEngine(app AppInfo) (*Engine, error) {
	tpl, err := template.New("root").Funcs(Funcs()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl, app: app}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus is Render with an explicit status code. The template runs into a buffer first so
// a failure never leaves a half-written page behind.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	if data.App == (AppInfo{}) {
		data.App = e.app
	}
	buf := bufPool.Get()
	defer bufPool.Put(buf)
	if err := e.templates.ExecuteTemplate(buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

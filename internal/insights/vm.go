package insights

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

// FactViewModel is one headline number next to the narrative.
type FactViewModel struct {
	Label string
	Value float64
	Unit  string
}

// ViewModel backs the narrative page.
type ViewModel struct {
	Filters       filters.Options
	Summary       string
	TotalSessions int
	Facts         []FactViewModel
	Body          template.HTML
	GeneratedAt   string
	DashboardURL  string
	ErrorMessage  string
}

// NewViewModel shapes a narrative for rendering.
func NewViewModel(opts filters.Options, n *insightsapi.Narrative) ViewModel {
	vm := ViewModel{
		Filters:      opts,
		Summary:      opts.Summary(),
		DashboardURL: opts.URL("/dashboard"),
	}
	if n == nil {
		return vm
	}
	vm.TotalSessions = n.Summary.TotalSessions
	vm.Facts = []FactViewModel{
		{Label: "Pass Rate", Value: n.Summary.PassRate, Unit: "%"},
		{Label: "Average Score", Value: n.Summary.OverallSkillAverage},
		{Label: "Avg. Completion", Value: n.Summary.AverageCompletionTime, Unit: " min"},
	}
	vm.Body = RenderText(n.Text)
	if t, err := time.Parse(time.RFC3339, n.Metadata.GeneratedAt); err == nil {
		vm.GeneratedAt = t.Format("02 Jan 2006 15:04 MST")
	} else {
		vm.GeneratedAt = n.Metadata.GeneratedAt
	}
	return vm
}

// Raw HTML in the narrative is dropped, not passed through. Single newlines break lines the way
// the text was written.
var narrativeMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Table),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

// RenderText converts narrative markdown to HTML. Text that fails to convert is shown escaped,
// one paragraph per blank-line separated block.
func RenderText(text string) template.HTML {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := narrativeMarkdown.Convert([]byte(text), &buf); err != nil {
		var b strings.Builder
		for _, block := range strings.Split(text, "\n\n") {
			if block = strings.TrimSpace(block); block != "" {
				b.WriteString("<p>" + template.HTMLEscapeString(block) + "</p>")
			}
		}
		return template.HTML(b.String())
	}
	return template.HTML(buf.String())
}

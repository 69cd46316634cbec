package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/training-insights/dashboard/internal/projector"
)

// DashboardPayload aggregates dashboard data destined for PDF rendering.
type DashboardPayload struct {
	AppName string
	Views   projector.Views
	// Charts are inlined SVG documents, rendered in order below the summary.
	Charts []template.HTML
}

// HTMLRenderer converts an HTML document to PDF, typically through Gotenberg.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// PDFExporter wraps Gotenberg interactions for dashboard exports.
type PDFExporter struct {
	Renderer HTMLRenderer
}

// NewPDFExporter builds an exporter on top of renderer.
func NewPDFExporter(renderer HTMLRenderer) *PDFExporter {
	return &PDFExporter{Renderer: renderer}
}

// RenderDashboard sends HTML content to Gotenberg and returns the PDF bytes.
func (p *PDFExporter) RenderDashboard(ctx context.Context, payload DashboardPayload) ([]byte, error) {
	if p == nil || p.Renderer == nil {
		return nil, fmt.Errorf("pdf exporter not initialised")
	}
	data, err := p.Renderer.RenderHTML(ctx, BuildHTML(payload))
	if err != nil {
		return nil, fmt.Errorf("render dashboard pdf: %w", err)
	}
	return data, nil
}

// BuildHTML renders the printable dashboard document.
func BuildHTML(payload DashboardPayload) string {
	views := payload.Views
	name := payload.AppName
	if name == "" {
		name = "Training Insights"
	}

	var b strings.Builder
	b.WriteString("<html><head><meta charset=\"utf-8\"><style>")
	b.WriteString("body{font-family:sans-serif;margin:24px;}h1{font-size:20px;}table{width:100%;border-collapse:collapse;margin-bottom:16px;}th,td{border:1px solid #ddd;padding:6px;text-align:right;}th{text-align:left;background:#f5f5f5;}section{margin-bottom:24px;} .metric-label{text-align:left;} .chart svg{width:100%;height:auto;}")
	b.WriteString("</style></head><body>")
	b.WriteString(fmt.Sprintf("<h1>%s – %s</h1>", templateEscape(name), templateEscape(views.Filters.Summary())))
	if views.Metadata.GeneratedAt != "" {
		b.WriteString(fmt.Sprintf("<p>Generated at %s</p>", templateEscape(views.Metadata.GeneratedAt)))
	}

	b.WriteString("<section><h2>Summary</h2><table><tbody>")
	writeMetricRow(&b, "Total Sessions", fmt.Sprintf("%d", views.Summary.TotalSessions))
	writeMetricRow(&b, "Pass Rate", formatFloat(views.Summary.PassRate)+"%")
	writeMetricRow(&b, "Average Score", orNA(views.Summary.AverageScore))
	writeMetricRow(&b, "Average Completion Time", orNA(views.Summary.AverageCompletionTime))
	b.WriteString("</tbody></table></section>")

	for _, chart := range payload.Charts {
		if chart == "" {
			continue
		}
		b.WriteString("<section class=\"chart\">")
		b.WriteString(string(chart))
		b.WriteString("</section>")
	}

	if len(views.ByPassRate) > 0 {
		b.WriteString("<section><h2>Departments</h2><table><thead><tr><th>Department</th><th>Pass Rate</th><th>Average</th><th>Communication</th><th>Problem Solving</th><th>Product Knowledge</th><th>Customer Service</th></tr></thead><tbody>")
		for _, dept := range views.ByPassRate {
			b.WriteString("<tr><td class=\"metric-label\">")
			b.WriteString(templateEscape(dept.Department))
			for _, v := range []float64{dept.PassRate, dept.Average, dept.CommunicationAvg, dept.ProblemSolvingAvg, dept.ProductKnowledgeAvg, dept.CustomerServiceAvg} {
				b.WriteString("</td><td>")
				b.WriteString(formatFloat(v))
			}
			b.WriteString("</td></tr>")
		}
		b.WriteString("</tbody></table></section>")
	}

	if len(views.Trend) > 0 {
		b.WriteString("<section><h2>Performance Trend</h2><table><thead><tr><th>Date</th><th>Average Score</th><th>Sessions</th></tr></thead><tbody>")
		for _, point := range views.Trend {
			b.WriteString("<tr><td class=\"metric-label\">")
			b.WriteString(templateEscape(point.Date))
			b.WriteString("</td><td>")
			b.WriteString(formatFloat(point.AverageScore))
			b.WriteString("</td><td>")
			b.WriteString(fmt.Sprintf("%d", point.SessionCount))
			b.WriteString("</td></tr>")
		}
		b.WriteString("</tbody></table></section>")
	}

	if len(views.TopSkills) > 0 {
		b.WriteString("<section><h2>Top Skills</h2><table><tbody>")
		for _, skill := range views.TopSkills {
			writeMetricRow(&b, skill.Skill, formatFloat(skill.Average))
		}
		b.WriteString("</tbody></table></section>")
	}

	b.WriteString("</body></html>")
	return b.String()
}

func writeMetricRow(b *strings.Builder, label, value string) {
	b.WriteString("<tr><td class=\"metric-label\">")
	b.WriteString(templateEscape(label))
	b.WriteString("</td><td>")
	b.WriteString(templateEscape(value))
	b.WriteString("</td></tr>")
}

func orNA(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return formatFloat(*v)
}

func templateEscape(v string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(v)
}

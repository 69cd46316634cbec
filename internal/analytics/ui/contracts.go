package ui

import (
	"fmt"
	"html/template"
	"math"
	"time"

	"github.com/training-insights/dashboard/internal/analytics/svg"
	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/projector"
	"github.com/training-insights/dashboard/internal/view"
)

// PresetOption is one quick date range button.
type PresetOption struct {
	Name   filters.Preset
	Label  string
	Active bool
}

// FilterForm backs the filter controls: the applied filter drives the data, the pending one
// fills the inputs.
type FilterForm struct {
	Applied           filters.Options
	Pending           filters.Options
	AppliedQuery      string
	Departments       []string
	Presets           []PresetOption
	HasPendingChanges bool
	Summary           string
}

// StatCard is one headline figure above the charts.
type StatCard struct {
	Label string
	Value string
	Hint  string
}

// Charts holds the rendered SVG charts. A chart without data is left empty.
type Charts struct {
	Trend    template.HTML
	PassRate template.HTML
	Radar    template.HTML
}

// DashboardViewModel combines all dashboard data for rendering.
type DashboardViewModel struct {
	Form         FilterForm
	Views        projector.Views
	Cards        []StatCard
	Charts       Charts
	ErrorMessage string
	GeneratedAt  string
	ExportCSV    string
	ExportPDF    string
	Narrative    string
}

// LoadingViewModel is shown while the first payload for a filter is on its way.
type LoadingViewModel struct {
	Form     FilterForm
	Starting bool
}

// ErrorViewModel is the "Failed to Load Dashboard" page.
type ErrorViewModel struct {
	Form    FilterForm
	Message string
}

// LineRenderer abstracts SVG line chart rendering for the dashboard.
type LineRenderer interface {
	Line(width, height int, series []svg.Series, labels []string, opts svg.LineOpts) (template.HTML, error)
}

// BarRenderer abstracts SVG bar chart rendering for the dashboard.
type BarRenderer interface {
	Bars(width, height int, seriesA, seriesB []float64, labels []string, opts svg.BarOpts) (template.HTML, error)
}

// RadarRenderer abstracts SVG radar chart rendering for the dashboard.
type RadarRenderer interface {
	Radar(width, height int, axes []string, series []svg.Series, opts svg.RadarOpts) (template.HTML, error)
}

// Renderers groups the chart renderers used by the dashboard.
type Renderers struct {
	Line  LineRenderer
	Bar   BarRenderer
	Radar RadarRenderer
}

// NewFilterForm builds the form state for the given filters.
func NewFilterForm(applied, pending filters.Options, departments []string, today time.Time) FilterForm {
	return FilterForm{
		Applied:           applied,
		Pending:           pending,
		AppliedQuery:      applied.Encode(),
		Departments:       departments,
		Presets:           PresetOptions(applied.DateRange, today),
		HasPendingChanges: pending != applied,
		Summary:           applied.Summary(),
	}
}

// PresetOptions lists the presets, marking the one whose range equals current.
func PresetOptions(current filters.DateRange, today time.Time) []PresetOption {
	presets := filters.Presets()
	out := make([]PresetOption, 0, len(presets))
	for _, p := range presets {
		r, err := filters.PresetRange(p, today)
		out = append(out, PresetOption{
			Name:   p,
			Label:  p.Label(),
			Active: err == nil && r == current,
		})
	}
	return out
}

// Cards formats the summary figures for the stats cards.
func Cards(summary projector.Summary) []StatCard {
	cards := []StatCard{
		{Label: "Total Sessions", Value: view.FormatInt(summary.TotalSessions), Hint: "Training sessions in range"},
		{Label: "Pass Rate", Value: fmt.Sprintf("%.0f%%", summary.PassRate), Hint: "Sessions meeting the pass mark"},
		{Label: "Average Score", Value: "N/A", Hint: "Across all skills"},
		{Label: "Avg. Completion", Value: "N/A", Hint: "Minutes per session"},
	}
	if summary.AverageScore != nil {
		cards[2].Value = fmt.Sprintf("%.0f", *summary.AverageScore)
	}
	if summary.AverageCompletionTime != nil {
		cards[3].Value = view.FormatFloat(*summary.AverageCompletionTime, 1) + " min"
	}
	return cards
}

// BuildCharts renders the trend, pass rate and skills charts for views.
func BuildCharts(views projector.Views, r Renderers) (Charts, error) {
	if r.Line == nil || r.Bar == nil || r.Radar == nil {
		return Charts{}, fmt.Errorf("svg renderer missing")
	}
	var charts Charts
	percent := svg.Domain{Min: 0, Max: 100}

	if len(views.Trend) > 0 {
		labels := make([]string, 0, len(views.Trend))
		scores := make([]float64, 0, len(views.Trend))
		passRates := make([]float64, 0, len(views.Trend))
		for _, point := range views.Trend {
			labels = append(labels, point.Date)
			scores = append(scores, point.AverageScore)
			passRates = append(passRates, point.PassRate)
		}
		html, err := r.Line.Line(svg.DefaultWidth, svg.DefaultHeight, []svg.Series{
			{Name: "Average Score", Values: scores, Color: svg.ColorScore},
			{Name: "Pass Rate", Values: passRates, Color: svg.ColorPassRate},
		}, labels, svg.LineOpts{
			Title:       "Performance Trends",
			Description: "Average score and pass rate over time",
			ShowDots:    true,
			Domain:      percent,
		})
		if err != nil {
			return Charts{}, err
		}
		charts.Trend = html
	}

	if len(views.ByPassRate) > 0 {
		labels := make([]string, 0, len(views.ByPassRate))
		passRates := make([]float64, 0, len(views.ByPassRate))
		averages := make([]float64, 0, len(views.ByPassRate))
		for _, dept := range views.ByPassRate {
			labels = append(labels, dept.Department)
			passRates = append(passRates, dept.PassRate)
			averages = append(averages, dept.Average)
		}
		html, err := r.Bar.Bars(svg.DefaultWidth, svg.DefaultHeight, passRates, averages, labels, svg.BarOpts{
			Title:        "Pass Rate by Department",
			Description:  "Pass rate and average score per department",
			SeriesALabel: "Pass Rate",
			SeriesBLabel: "Average Score",
			ColorA:       svg.ColorPassRate,
			ColorB:       svg.ColorScore,
			Domain:       percent,
		})
		if err != nil {
			return Charts{}, err
		}
		charts.PassRate = html
	}

	if len(views.Radar.Departments) > 0 {
		axes := make([]string, 0, len(views.Radar.Rows))
		for _, row := range views.Radar.Rows {
			axes = append(axes, row.Skill)
		}
		series := make([]svg.Series, 0, len(views.Radar.Departments))
		for idx, dept := range views.Radar.Departments {
			values := make([]float64, 0, len(views.Radar.Rows))
			for _, row := range views.Radar.Rows {
				values = append(values, roundTenth(row.Scores[dept]))
			}
			series = append(series, svg.Series{Name: dept, Values: values, Color: svg.DepartmentColor(dept, idx)})
		}
		html, err := r.Radar.Radar(svg.DefaultWidth, 360, axes, series, svg.RadarOpts{
			Title:       "Skills Comparison",
			Description: "Average skill scores by department",
			Max:         100,
		})
		if err != nil {
			return Charts{}, err
		}
		charts.Radar = html
	}
	return charts, nil
}

// NewDashboardViewModel assembles the success page.
func NewDashboardViewModel(form FilterForm, views projector.Views, charts Charts, errMessage string) DashboardViewModel {
	vm := DashboardViewModel{
		Form:         form,
		Views:        views,
		Cards:        Cards(views.Summary),
		Charts:       charts,
		ErrorMessage: errMessage,
		GeneratedAt:  views.Metadata.GeneratedAt,
		ExportCSV:    form.Applied.URL("/dashboard/export.csv"),
		ExportPDF:    form.Applied.URL("/dashboard/pdf"),
		Narrative:    form.Applied.URL("/insights/narrative"),
	}
	if ts, err := time.Parse(time.RFC3339, views.Metadata.GeneratedAt); err == nil {
		vm.GeneratedAt = ts.UTC().Format("02 Jan 2006 15:04 MST")
	}
	return vm
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

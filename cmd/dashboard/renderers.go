package main

import (
	"html/template"

	"github.com/training-insights/dashboard/internal/analytics/svg"
	"github.com/training-insights/dashboard/internal/analytics/ui"
)

type lineRenderer struct{}

func (lineRenderer) Line(width, height int, series []svg.Series, labels []string, opts svg.LineOpts) (template.HTML, error) {
	return svg.Line(width, height, series, labels, opts)
}

type barRenderer struct{}

func (barRenderer) Bars(width, height int, seriesA, seriesB []float64, labels []string, opts svg.BarOpts) (template.HTML, error) {
	return svg.Bars(width, height, seriesA, seriesB, labels, opts)
}

type radarRenderer struct{}

func (radarRenderer) Radar(width, height int, axes []string, series []svg.Series, opts svg.RadarOpts) (template.HTML, error) {
	return svg.Radar(width, height, axes, series, opts)
}

func chartRenderers() ui.Renderers {
	return ui.Renderers{Line: lineRenderer{}, Bar: barRenderer{}, Radar: radarRenderer{}}
}

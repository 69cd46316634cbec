package svg

import (
	"fmt"
	"html/template"
	"math"
	"strings"
)

// Radar renders one polygon per series over evenly spaced axes. Series values are indexed like
// axes.
func Radar(width, height int, axes []string, series []Series, opts RadarOpts) (template.HTML, error) {
	if len(axes) < 3 {
		return "", fmt.Errorf("svg: radar needs at least three axes")
	}
	if len(series) == 0 {
		return "", fmt.Errorf("svg: series required")
	}
	for _, s := range series {
		if len(s.Values) != len(axes) {
			return "", fmt.Errorf("svg: series %q must have one value per axis", s.Name)
		}
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	padding := opts.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	rings := opts.Rings
	if rings <= 0 {
		rings = DefaultRings
	}
	maxVal := opts.Max
	if maxVal <= 0 {
		maxVal = 100
	}
	axisColor := fallback(opts.AxisColor, "#6b7280")
	gridColor := fallback(opts.GridColor, "#e5e7eb")

	cx := float64(width) / 2
	cy := float64(height)/2 + padding/4
	radius := math.Min(float64(width), float64(height))/2 - padding
	if radius <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}

	point := func(axis int, value float64) (float64, float64) {
		angle := -math.Pi/2 + 2*math.Pi*float64(axis)/float64(len(axes))
		r := radius * math.Max(0, math.Min(value, maxVal)) / maxVal
		return cx + r*math.Cos(angle), cy + r*math.Sin(angle)
	}
	polygon := func(values []float64) string {
		coords := make([]string, 0, len(values))
		for i, v := range values {
			x, y := point(i, v)
			coords = append(coords, fmt.Sprintf("%.2f,%.2f", x, y))
		}
		return strings.Join(coords, " ")
	}

	titleID := makeID(opts.Title, "radar-title")
	descID := makeID(opts.Title, "radar-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Radar chart"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Comparison across axes"))))

	full := make([]float64, len(axes))
	for ring := 1; ring <= rings; ring++ {
		level := maxVal * float64(ring) / float64(rings)
		for i := range full {
			full[i] = level
		}
		b.WriteString(fmt.Sprintf("<polygon points=\"%s\" fill=\"none\" stroke=\"%s\" stroke-width=\"1\" aria-hidden=\"true\"></polygon>", polygon(full), gridColor))
	}
	for i, axis := range axes {
		x, y := point(i, maxVal)
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1\" aria-hidden=\"true\"></line>", cx, cy, x, y, gridColor))
		lx, ly := point(i, maxVal*1.12)
		anchor := "middle"
		switch {
		case lx < cx-1:
			anchor = "end"
		case lx > cx+1:
			anchor = "start"
		}
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"11\" text-anchor=\"%s\">%s</text>", lx, ly+4, axisColor, anchor, template.HTMLEscapeString(axis)))
	}

	defaults := make([]string, len(series))
	for idx, s := range series {
		color := fallback(s.Color, DepartmentColor(s.Name, idx))
		defaults[idx] = color
		b.WriteString(fmt.Sprintf("<polygon points=\"%s\" fill=\"%s\" fill-opacity=\"0.1\" stroke=\"%s\" stroke-width=\"2\" aria-label=\"%s\"></polygon>", polygon(s.Values), color, color, template.HTMLEscapeString(s.Name)))
		for i, v := range s.Values {
			x, y := point(i, v)
			b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"3\" fill=\"%s\"><title>%s %s: %s</title></circle>", x, y, color, template.HTMLEscapeString(s.Name), template.HTMLEscapeString(axes[i]), formatTick(v)))
		}
	}

	writeLegend(&b, series, padding, axisColor, defaults)

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}

package svg

import (
	"fmt"
	"html/template"
	"math"
	"strings"
)

var lineDefaults = []string{ColorScore, ColorPassRate, "#8b5cf6", "#f59e0b"}

// Line renders a responsive SVG line chart with one path per series over shared labels.
func Line(width, height int, series []Series, labels []string, opts LineOpts) (template.HTML, error) {
	if len(series) == 0 || len(labels) == 0 {
		return "", fmt.Errorf("svg: series required")
	}
	for _, s := range series {
		if len(s.Values) != len(labels) {
			return "", fmt.Errorf("svg: labels length must match series %q", s.Name)
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
	tickCount := opts.TickCount
	if tickCount <= 0 {
		tickCount = DefaultTicks
	}
	axisColor := fallback(opts.AxisColor, "#6b7280")
	gridColor := fallback(opts.GridColor, "#f0f0f0")

	chartWidth := float64(width) - 2*padding
	chartHeight := float64(height) - 2*padding
	if chartWidth <= 0 || chartHeight <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}

	minVal, maxVal := opts.Domain.Min, opts.Domain.Max
	if !opts.Domain.fixed() {
		minVal, maxVal = seriesBounds(series)
		if minVal > 0 {
			minVal = 0
		}
		if maxVal < 0 {
			maxVal = 0
		}
		if almostEqual(maxVal, minVal) {
			maxVal = minVal + 1
		}
	}
	scale := chartHeight / (maxVal - minVal)

	step := 0.0
	if len(labels) > 1 {
		step = chartWidth / float64(len(labels)-1)
	}
	xAt := func(i int) float64 {
		if len(labels) > 1 {
			return padding + float64(i)*step
		}
		return padding + chartWidth/2
	}
	yAt := func(v float64) float64 {
		v = math.Max(minVal, math.Min(maxVal, v))
		return padding + chartHeight - (v-minVal)*scale
	}

	titleID := makeID(opts.Title, "line-title")
	descID := makeID(opts.Title, "line-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Line chart"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Trend data"))))

	for i := 0; i <= tickCount; i++ {
		ratio := float64(i) / float64(tickCount)
		y := padding + chartHeight - ratio*chartHeight
		value := minVal + (maxVal-minVal)*ratio
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"0.5\" stroke-dasharray=\"3,3\" aria-hidden=\"true\"></line>", padding, y, padding+chartWidth, y, gridColor))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"end\">%s</text>", padding-6, y+4, axisColor, template.HTMLEscapeString(formatTick(value))))
	}

	b.WriteString(fmt.Sprintf("<g stroke=\"%s\" aria-label=\"Axes\">", axisColor))
	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding, padding, padding+chartHeight))
	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding+chartHeight, padding+chartWidth, padding+chartHeight))
	b.WriteString("</g>")

	for idx, s := range series {
		color := fallback(s.Color, lineDefaults[idx%len(lineDefaults)])
		var path strings.Builder
		for i, value := range s.Values {
			cmd := "L"
			if i == 0 {
				cmd = "M"
			} else {
				path.WriteByte(' ')
			}
			path.WriteString(fmt.Sprintf("%s%.2f %.2f", cmd, xAt(i), yAt(value)))
		}
		if idx == 0 && opts.FillColor != "" {
			base := padding + chartHeight
			area := fmt.Sprintf("%s L%.2f %.2f L%.2f %.2f Z", path.String(), xAt(len(s.Values)-1), base, xAt(0), base)
			b.WriteString(fmt.Sprintf("<path d=\"%s\" fill=\"%s\" stroke=\"none\" aria-hidden=\"true\"></path>", area, opts.FillColor))
		}
		b.WriteString(fmt.Sprintf("<path d=\"%s\" fill=\"none\" stroke=\"%s\" stroke-width=\"2\" stroke-linejoin=\"round\" stroke-linecap=\"round\" aria-label=\"%s\"></path>", path.String(), color, template.HTMLEscapeString(s.Name)))
		if opts.ShowDots {
			for i, value := range s.Values {
				b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"3\" fill=\"%s\"><title>%s: %s</title></circle>", xAt(i), yAt(value), color, template.HTMLEscapeString(s.Name), template.HTMLEscapeString(formatTick(value))))
			}
		}
	}

	labelEvery := 1
	if maxLabels := int(chartWidth / 60); maxLabels > 0 && len(labels) > maxLabels {
		labelEvery = int(math.Ceil(float64(len(labels)) / float64(maxLabels)))
	}
	for i, label := range labels {
		if i%labelEvery != 0 && i != len(labels)-1 {
			continue
		}
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"middle\">%s</text>", xAt(i), padding+chartHeight+14, axisColor, template.HTMLEscapeString(label)))
	}

	writeLegend(&b, series, padding, axisColor, lineDefaults)

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}

func writeLegend(b *strings.Builder, series []Series, padding float64, textColor string, defaults []string) {
	legendY := padding - 12
	if legendY < 12 {
		legendY = 12
	}
	legendX := padding
	for idx, s := range series {
		if s.Name == "" {
			continue
		}
		color := fallback(s.Color, defaults[idx%len(defaults)])
		b.WriteString(fmt.Sprintf("<rect x=\"%.2f\" y=\"%.2f\" width=\"10\" height=\"10\" fill=\"%s\"></rect>", legendX, legendY-8, color))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"start\">%s</text>", legendX+14, legendY, textColor, template.HTMLEscapeString(s.Name)))
		legendX += 24 + 6*float64(len(s.Name))
	}
}

func fallback(value, defaultValue string) string {
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	return value
}

func bounds(series []float64) (float64, float64) {
	minVal := series[0]
	maxVal := series[0]
	for _, v := range series[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func seriesBounds(series []Series) (float64, float64) {
	first := true
	var minVal, maxVal float64
	for _, s := range series {
		if len(s.Values) == 0 {
			continue
		}
		lo, hi := bounds(s.Values)
		if first || lo < minVal {
			minVal = lo
		}
		if first || hi > maxVal {
			maxVal = hi
		}
		first = false
	}
	return minVal, maxVal
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func makeID(base, suffix string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == '-' || r == '_' {
			return r
		}
		return '-'
	}, strings.ToLower(strings.TrimSpace(base)))
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "chart"
	}
	return fmt.Sprintf("%s-%s", cleaned, suffix)
}

func formatTick(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case abs >= 10_000:
		return fmt.Sprintf("%.1fk", v/1_000)
	default:
		if almostEqual(v, math.Round(v)) {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprintf("%.1f", v)
	}
}

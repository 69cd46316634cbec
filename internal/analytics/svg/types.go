package svg

import "fmt"

// Series is one named set of values drawn in a single colour.
type Series struct {
	Name   string
	Values []float64
	Color  string
}

// Domain pins the value axis. A zero Domain lets the renderer derive bounds from the data.
type Domain struct {
	Min float64
	Max float64
}

func (d Domain) fixed() bool {
	return d.Max > d.Min
}

// LineOpts customises the line chart renderer.
type LineOpts struct {
	Title       string
	Description string
	FillColor   string
	AxisColor   string
	GridColor   string
	Padding     float64
	ShowDots    bool
	TickCount   int
	Domain      Domain
}

// BarOpts customises the bar chart renderer.
type BarOpts struct {
	Title        string
	Description  string
	SeriesALabel string
	SeriesBLabel string
	ColorA       string
	ColorB       string
	AxisColor    string
	GridColor    string
	Padding      float64
	TickCount    int
	Domain       Domain
	// RotateLabelsAfter tilts category labels once there are more than this many. Zero means 4.
	RotateLabelsAfter int
}

// RadarOpts customises the radar chart renderer.
type RadarOpts struct {
	Title       string
	Description string
	AxisColor   string
	GridColor   string
	Padding     float64
	Rings       int
	Max         float64
}

// Defaults for the dashboard charts.
const (
	DefaultWidth   = 720
	DefaultHeight  = 280
	DefaultPadding = 32.0
	DefaultTicks   = 5
	DefaultRings   = 5
)

// Chart colours.
const (
	ColorScore    = "#3b82f6"
	ColorPassRate = "#10b981"
)

var departmentColors = map[string]string{
	"Sales":     "#3b82f6",
	"Support":   "#10b981",
	"Marketing": "#8b5cf6",
}

// DepartmentColor returns the fixed colour for well-known departments and spreads the rest
// around the hue circle by index.
func DepartmentColor(name string, index int) string {
	if color, ok := departmentColors[name]; ok {
		return color
	}
	return fmt.Sprintf("hsl(%.1f, 70%%, 50%%)", float64(index)*137.5)
}

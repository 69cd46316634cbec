// Package filters holds the dashboard filter model and keeps it in sync with the URL query.
package filters

import (
	"net/url"
	"strings"
)

// AllDepartments is the department sentinel meaning "no department filter".
const AllDepartments = "All"

// Query parameters recognised in dashboard URLs. Anything else is ignored.
const (
	ParamDepartment = "department"
	ParamStartDate  = "startDate"
	ParamEndDate    = "endDate"
)

// DateLayout is the yyyy-MM-dd format used on the URL and towards the Insights API.
const DateLayout = "2006-01-02"

// DateRange bounds the dataset. Empty values mean unbounded.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Options is the filter applied to the dashboard. Two Options are the same filter iff they
// compare equal with ==.
type Options struct {
	DateRange  DateRange `json:"dateRange"`
	Department string    `json:"department"`
}

// Default returns the unfiltered state.
func Default() Options {
	return Options{Department: AllDepartments}
}

// IsDefault reports whether o selects the full dataset.
func (o Options) IsDefault() bool {
	return o.normalized() == Default()
}

// HasDepartment reports whether a concrete department is selected.
func (o Options) HasDepartment() bool {
	return o.Department != "" && o.Department != AllDepartments
}

// FromQuery derives Options from URL query values. A missing department means All and
// missing dates mean unbounded. Values are taken literally so FromQuery(o.Query()) == o;
// edits are trimmed where they enter the Store.
func FromQuery(q url.Values) Options {
	opts := Default()
	if dept := q.Get(ParamDepartment); dept != "" {
		opts.Department = dept
	}
	opts.DateRange.Start = q.Get(ParamStartDate)
	opts.DateRange.End = q.Get(ParamEndDate)
	return opts
}

// Query serialises the non-default fields of o.
func (o Options) Query() url.Values {
	q := url.Values{}
	if o.HasDepartment() {
		q.Set(ParamDepartment, o.Department)
	}
	if o.DateRange.Start != "" {
		q.Set(ParamStartDate, o.DateRange.Start)
	}
	if o.DateRange.End != "" {
		q.Set(ParamEndDate, o.DateRange.End)
	}
	return q
}

// Encode returns the query string for o; the default filter encodes to "".
func (o Options) Encode() string {
	return o.Query().Encode()
}

// URL returns path with o's query string attached.
func (o Options) URL(path string) string {
	if encoded := o.Encode(); encoded != "" {
		return path + "?" + encoded
	}
	return path
}

// KeyParts returns stable, non-empty segments identifying o, suitable for cache keys.
func (o Options) KeyParts() []string {
	n := o.normalized()
	return []string{
		url.PathEscape(n.Department),
		orDash(n.DateRange.Start),
		orDash(n.DateRange.End),
	}
}

// Summary renders a human readable description of the filter.
func (o Options) Summary() string {
	parts := make([]string, 0, 3)
	if o.HasDepartment() {
		parts = append(parts, "Department: "+o.Department)
	}
	if o.DateRange.Start != "" {
		parts = append(parts, "From: "+o.DateRange.Start)
	}
	if o.DateRange.End != "" {
		parts = append(parts, "To: "+o.DateRange.End)
	}
	if len(parts) == 0 {
		return "All data"
	}
	return strings.Join(parts, " • ")
}

func (o Options) normalized() Options {
	if o.Department == "" {
		o.Department = AllDepartments
	}
	return o
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

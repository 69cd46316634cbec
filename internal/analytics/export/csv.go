package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/training-insights/dashboard/internal/projector"
)

// WriteSummaryCSV serialises the stats card figures to a CSV representation.
func WriteSummaryCSV(w io.Writer, views projector.Views) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Metric", "Value"}); err != nil {
		return err
	}
	records := [][]string{
		{"Filters", views.Filters.Summary()},
		{"Total Sessions", strconv.Itoa(views.Summary.TotalSessions)},
		{"Pass Rate", formatFloat(views.Summary.PassRate)},
		{"Average Score", formatOptional(views.Summary.AverageScore)},
		{"Average Completion Time", formatOptional(views.Summary.AverageCompletionTime)},
		{"Generated At", views.Metadata.GeneratedAt},
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTrendCSV emits the performance trend points as CSV.
func WriteTrendCSV(w io.Writer, points []projector.TrendPoint) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Date", "Average Score", "Pass Rate", "Sessions"}); err != nil {
		return err
	}
	for _, point := range points {
		if err := writer.Write([]string{
			point.Date,
			formatFloat(point.AverageScore),
			formatFloat(point.PassRate),
			strconv.Itoa(point.SessionCount),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDepartmentsCSV prints per-department scores, highest pass rate first.
func WriteDepartmentsCSV(w io.Writer, views projector.Views) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Department", "Pass Rate", "Average", "Communication", "Problem Solving", "Product Knowledge", "Customer Service"}); err != nil {
		return err
	}
	for _, dept := range views.ByPassRate {
		if err := writer.Write([]string{
			dept.Department,
			formatFloat(dept.PassRate),
			formatFloat(dept.Average),
			formatFloat(dept.CommunicationAvg),
			formatFloat(dept.ProblemSolvingAvg),
			formatFloat(dept.ProductKnowledgeAvg),
			formatFloat(dept.CustomerServiceAvg),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTopSkillsCSV prints the top skills list.
func WriteTopSkillsCSV(w io.Writer, views projector.Views) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Skill", "Average"}); err != nil {
		return err
	}
	for _, skill := range views.TopSkills {
		if err := writer.Write([]string{skill.Skill, formatFloat(skill.Average)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteDashboardCSV writes every section separated by blank lines.
func WriteDashboardCSV(w io.Writer, views projector.Views) error {
	sections := []func(io.Writer) error{
		func(w io.Writer) error { return WriteSummaryCSV(w, views) },
		func(w io.Writer) error { return WriteTrendCSV(w, views.Trend) },
		func(w io.Writer) error { return WriteDepartmentsCSV(w, views) },
		func(w io.Writer) error { return WriteTopSkillsCSV(w, views) },
	}
	for i, section := range sections {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := section(w); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

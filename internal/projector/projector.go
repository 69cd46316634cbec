// Package projector reshapes an Insights payload into the series each dashboard view renders.
// Every function is pure; callers may share results because payloads are never mutated.
package projector

import (
	"math"
	"sort"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

// TrendPoint is one day on the performance trend chart.
type TrendPoint struct {
	Date         string  `json:"date"`
	AverageScore float64 `json:"averageScore"`
	PassRate     float64 `json:"passRate"`
	SessionCount int     `json:"sessionCount"`
}

// PassRateView backs the pass-rate chart.
type PassRateView struct {
	PassRate                  float64                       `json:"passRate"`
	TotalSessions             int                           `json:"totalSessions"`
	AverageScoresByDepartment []insightsapi.DepartmentScore `json:"averageScoresByDepartment"`
}

// SkillRow is one axis of the skills radar with a score per department.
type SkillRow struct {
	Skill  string             `json:"skill"`
	Scores map[string]float64 `json:"scores"`
}

// SkillsRadar pivots department sub-scores into radar axes.
type SkillsRadar struct {
	Departments []string   `json:"departments"`
	Rows        []SkillRow `json:"rows"`
}

// Summary feeds the stats cards.
type Summary struct {
	TotalSessions         int      `json:"totalSessions"`
	PassRate              float64  `json:"passRate"`
	AverageScore          *float64 `json:"averageScore,omitempty"`
	AverageCompletionTime *float64 `json:"averageCompletionTime,omitempty"`
}

// Skill axis labels, in display order.
const (
	SkillCommunication    = "Communication"
	SkillProblemSolving   = "Problem Solving"
	SkillProductKnowledge = "Product Knowledge"
	SkillCustomerService  = "Customer Service"
)

// ToTrendPoints maps performance trends to chart points sorted by date. PassRate is the overall
// rate repeated on every point and SessionCount spreads totalSessions evenly; the API exposes
// neither per day.
func ToTrendPoints(p *insightsapi.Payload) []TrendPoint {
	if p == nil || len(p.PerformanceTrends) == 0 {
		return []TrendPoint{}
	}
	perPoint := int(math.Round(float64(p.TotalSessions) / float64(len(p.PerformanceTrends))))
	points := make([]TrendPoint, 0, len(p.PerformanceTrends))
	for _, entry := range p.PerformanceTrends {
		points = append(points, TrendPoint{
			Date:         entry.Date,
			AverageScore: entry.AverageScore,
			PassRate:     p.PassRate,
			SessionCount: perPoint,
		})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}

// ToPassRateView projects the pass-rate fields unchanged.
func ToPassRateView(p *insightsapi.Payload) PassRateView {
	if p == nil {
		return PassRateView{AverageScoresByDepartment: []insightsapi.DepartmentScore{}}
	}
	return PassRateView{
		PassRate:                  p.PassRate,
		TotalSessions:             p.TotalSessions,
		AverageScoresByDepartment: p.AverageScoresByDepartment,
	}
}

// ToDepartmentCatalog unions previous with the payload's departments. The result starts with
// filters.AllDepartments followed by the names in ascending order; nothing seen before is lost.
func ToDepartmentCatalog(p *insightsapi.Payload, previous []string) []string {
	seen := make(map[string]struct{}, len(previous))
	names := make([]string, 0, len(previous)+1)
	add := func(name string) {
		if name == "" || name == filters.AllDepartments {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, name := range previous {
		add(name)
	}
	for _, name := range p.Departments() {
		add(name)
	}
	sort.Strings(names)
	return append([]string{filters.AllDepartments}, names...)
}

// ToSkillsRadar pivots per-department sub-scores into the four skill axes.
func ToSkillsRadar(p *insightsapi.Payload) SkillsRadar {
	radar := SkillsRadar{
		Departments: p.Departments(),
		Rows: []SkillRow{
			{Skill: SkillCommunication, Scores: map[string]float64{}},
			{Skill: SkillProblemSolving, Scores: map[string]float64{}},
			{Skill: SkillProductKnowledge, Scores: map[string]float64{}},
			{Skill: SkillCustomerService, Scores: map[string]float64{}},
		},
	}
	if radar.Departments == nil {
		radar.Departments = []string{}
		return radar
	}
	for _, dept := range p.AverageScoresByDepartment {
		radar.Rows[0].Scores[dept.Department] = dept.CommunicationAvg
		radar.Rows[1].Scores[dept.Department] = dept.ProblemSolvingAvg
		radar.Rows[2].Scores[dept.Department] = dept.ProductKnowledgeAvg
		radar.Rows[3].Scores[dept.Department] = dept.CustomerServiceAvg
	}
	return radar
}

// DepartmentsByPassRate orders departments by pass rate, highest first, ties by name.
func DepartmentsByPassRate(p *insightsapi.Payload) []insightsapi.DepartmentScore {
	if p == nil {
		return []insightsapi.DepartmentScore{}
	}
	out := make([]insightsapi.DepartmentScore, len(p.AverageScoresByDepartment))
	copy(out, p.AverageScoresByDepartment)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PassRate != out[j].PassRate {
			return out[i].PassRate > out[j].PassRate
		}
		return out[i].Department < out[j].Department
	})
	return out
}

// ToSummary extracts the stats card figures. Pass rate and average score are rounded to whole
// numbers the way the cards display them.
func ToSummary(p *insightsapi.Payload) Summary {
	if p == nil {
		return Summary{}
	}
	summary := Summary{
		TotalSessions:         p.TotalSessions,
		PassRate:              math.Round(p.PassRate),
		AverageCompletionTime: p.AverageCompletionTime,
	}
	if p.OverallSkillAverage != nil {
		avg := math.Round(*p.OverallSkillAverage)
		summary.AverageScore = &avg
	}
	return summary
}

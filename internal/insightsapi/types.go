package insightsapi

// Metadata describes how a payload was produced.
type Metadata struct {
	GeneratedAt string `json:"generatedAt"`
	Version     string `json:"version"`
}

// DepartmentScore aggregates scores for a single department.
type DepartmentScore struct {
	Department          string  `json:"department"`
	Average             float64 `json:"average"`
	CommunicationAvg    float64 `json:"communicationAvg"`
	ProblemSolvingAvg   float64 `json:"problemSolvingAvg"`
	ProductKnowledgeAvg float64 `json:"productKnowledgeAvg"`
	CustomerServiceAvg  float64 `json:"customerServiceAvg"`
	PassRate            float64 `json:"passRate"`
}

// SkillAverage is the mean score of one skill.
type SkillAverage struct {
	Skill   string  `json:"skill"`
	Average float64 `json:"average"`
}

// TrendEntry is the average score observed on one day.
type TrendEntry struct {
	Date         string  `json:"date"`
	AverageScore float64 `json:"averageScore"`
}

// Payload is the /insights response. Treat it as immutable once decoded.
type Payload struct {
	Metadata                  Metadata          `json:"metadata"`
	TotalSessions             int               `json:"totalSessions"`
	PassRate                  float64           `json:"passRate"`
	AverageCompletionTime     *float64          `json:"averageCompletionTime,omitempty"`
	OverallSkillAverage       *float64          `json:"overallSkillAverage,omitempty"`
	AverageScoresByDepartment []DepartmentScore `json:"averageScoresByDepartment"`
	TopSkills                 []SkillAverage    `json:"topSkills"`
	PerformanceTrends         []TrendEntry      `json:"performanceTrends"`
}

// Departments returns the department names present in the payload, in payload order.
func (p *Payload) Departments() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.AverageScoresByDepartment))
	for _, d := range p.AverageScoresByDepartment {
		out = append(out, d.Department)
	}
	return out
}

// NarrativeFilters echoes the filters the narrative was generated for.
type NarrativeFilters struct {
	Department string `json:"department"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
}

// NarrativeMetadata extends Metadata with the echoed filters.
type NarrativeMetadata struct {
	GeneratedAt string           `json:"generatedAt"`
	Version     string           `json:"version"`
	Filters     NarrativeFilters `json:"filters"`
}

// NarrativeSummary holds the headline numbers behind a narrative.
type NarrativeSummary struct {
	TotalSessions         int     `json:"totalSessions"`
	PassRate              float64 `json:"passRate"`
	AverageCompletionTime float64 `json:"averageCompletionTime"`
	OverallSkillAverage   float64 `json:"overallSkillAverage"`
}

// Narrative is the /natural-language-insights response.
type Narrative struct {
	Metadata NarrativeMetadata `json:"metadata"`
	Summary  NarrativeSummary  `json:"summary"`
	Text     string            `json:"naturalLanguageInsights"`
}

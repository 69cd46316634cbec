package projector

import (
	"sync"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/insightsapi"
)

// Views bundles every projection of one payload.
type Views struct {
	Filters    filters.Options               `json:"filters"`
	Summary    Summary                       `json:"summary"`
	Trend      []TrendPoint                  `json:"trend"`
	PassRate   PassRateView                  `json:"passRate"`
	ByPassRate []insightsapi.DepartmentScore `json:"departmentsByPassRate"`
	Radar      SkillsRadar                   `json:"skillsRadar"`
	TopSkills  []insightsapi.SkillAverage    `json:"topSkills"`
	Metadata   insightsapi.Metadata          `json:"metadata"`
}

// Project computes all views for payload under key.
func Project(p *insightsapi.Payload, key filters.Options) Views {
	views := Views{
		Filters:    key,
		Summary:    ToSummary(p),
		Trend:      ToTrendPoints(p),
		PassRate:   ToPassRateView(p),
		ByPassRate: DepartmentsByPassRate(p),
		Radar:      ToSkillsRadar(p),
		TopSkills:  []insightsapi.SkillAverage{},
	}
	if p != nil {
		views.Metadata = p.Metadata
		if p.TopSkills != nil {
			views.TopSkills = p.TopSkills
		}
	}
	return views
}

// Memo caches the last projection keyed by payload identity and filter.
type Memo struct {
	mu      sync.Mutex
	payload *insightsapi.Payload
	key     filters.Options
	views   Views
	valid   bool
	misses  int
}

// Views returns the projection for (p, key), recomputing only when either changed.
func (m *Memo) Views(p *insightsapi.Payload, key filters.Options) Views {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid && m.payload == p && m.key == key {
		return m.views
	}
	m.payload, m.key = p, key
	m.views = Project(p, key)
	m.valid = true
	m.misses++
	return m.views
}

// Computations reports how many times the memo recomputed.
func (m *Memo) Computations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses
}

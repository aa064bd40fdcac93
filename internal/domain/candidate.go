package domain

import "time"

// Candidate is a piece of content eligible for selection into a module.
type Candidate struct {
	ID             string
	PublicationID  string
	Family         Family
	Code           string
	Title          string
	Summary        string
	Content        string
	SourceURL      string
	PublishedAt    time.Time
	Priority       int
	Excluded       bool
	ModuleEligible bool

	AssignedIssueID  string
	AssignedModuleID string

	SuppressedIssueID string
	DuplicateOf       string

	Rating *Rating
}

// SortKey is the stable natural key used by sequential rotation.
func (c Candidate) SortKey() string {
	if c.Code != "" {
		return c.Code
	}
	return c.ID
}

// Rating captures per-criterion AI scores and the weighted total.
type Rating struct {
	Scores  map[int]float64 `json:"scores"`
	Weights map[int]float64 `json:"weights,omitempty"`
	Total   float64         `json:"total"`
	RatedAt time.Time       `json:"rated_at"`
}

// Clone returns a deep copy so callers can merge without aliasing stored maps.
func (r Rating) Clone() Rating {
	out := Rating{Total: r.Total, RatedAt: r.RatedAt}
	if r.Scores != nil {
		out.Scores = make(map[int]float64, len(r.Scores))
		for k, v := range r.Scores {
			out.Scores[k] = v
		}
	}
	if r.Weights != nil {
		out.Weights = make(map[int]float64, len(r.Weights))
		for k, v := range r.Weights {
			out.Weights[k] = v
		}
	}
	return out
}

package domain

import "time"

// ModuleSelection is the issue x module join row holding the chosen candidate ids.
type ModuleSelection struct {
	IssueID      string
	ModuleID     string
	Mode         SelectionMode
	CandidateIDs []string
	// PoolSize is the eligible-set size seen at selection time; sequential cursors wrap on it.
	PoolSize int
	Cursor   int
	// CursorAdvanced is set once the finalizer has moved the module's rotation cursor.
	CursorAdvanced bool
	SelectedAt     time.Time
	UsedAt         *time.Time
}

// Manual reports whether an operator supplied this selection.
func (s ModuleSelection) Manual() bool {
	return s.Mode == ModeManual
}

// ModuleItem is the per-issue working row for one selected candidate.
type ModuleItem struct {
	ID          string
	IssueID     string
	ModuleID    string
	CandidateID string
	Position    int
	Headline    string
	Body        string
	WordCount   int
	FactCheck   *FactCheck
	Rank        int
	Active      bool
}

// FactCheck stores the advisory fidelity scores of generated content.
type FactCheck struct {
	Accuracy   float64
	Compliance float64
	Quality    float64
	Passed     bool
	Reason     string
	CheckedAt  time.Time
}

// Total sums the three sub-scores.
func (f FactCheck) Total() float64 {
	return f.Accuracy + f.Compliance + f.Quality
}

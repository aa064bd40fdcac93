package httpapi

import (
	"time"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/usecase"
)

type selectionRequest struct {
	CandidateIDs []string `json:"candidate_ids"`
}

type factCheckResponse struct {
	Accuracy   float64   `json:"accuracy"`
	Compliance float64   `json:"compliance"`
	Quality    float64   `json:"quality"`
	Total      float64   `json:"total"`
	Passed     bool      `json:"passed"`
	Reason     string    `json:"reason,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

type itemResponse struct {
	ID          string             `json:"id"`
	CandidateID string             `json:"candidate_id"`
	Position    int                `json:"position"`
	Headline    string             `json:"headline,omitempty"`
	Body        string             `json:"body,omitempty"`
	WordCount   int                `json:"word_count"`
	FactCheck   *factCheckResponse `json:"fact_check,omitempty"`
	Rank        int                `json:"rank"`
	Active      bool               `json:"active"`
}

type selectionResponse struct {
	IssueID      string     `json:"issue_id"`
	ModuleID     string     `json:"module_id"`
	Mode         string     `json:"mode"`
	CandidateIDs []string   `json:"candidate_ids"`
	PoolSize     int        `json:"pool_size"`
	Cursor       int        `json:"cursor,omitempty"`
	SelectedAt   time.Time  `json:"selected_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

type moduleResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Family       string             `json:"family"`
	Mode         string             `json:"mode"`
	Count        int                `json:"count"`
	DisplayOrder int                `json:"display_order"`
	Selection    *selectionResponse `json:"selection,omitempty"`
	Items        []itemResponse     `json:"items"`
}

type issueResponse struct {
	ID            string             `json:"id"`
	PublicationID string             `json:"publication_id"`
	Date          string             `json:"date"`
	Status        string             `json:"status"`
	Checkpoint    string             `json:"checkpoint"`
	WorkflowError string             `json:"workflow_error,omitempty"`
	SubjectLine   string             `json:"subject_line,omitempty"`
	Welcome       domain.WelcomeText `json:"welcome"`
	Modules       []moduleResponse   `json:"modules"`
}

func toSelection(sel domain.ModuleSelection) selectionResponse {
	return selectionResponse{
		IssueID:      sel.IssueID,
		ModuleID:     sel.ModuleID,
		Mode:         sel.Mode.String(),
		CandidateIDs: sel.CandidateIDs,
		PoolSize:     sel.PoolSize,
		Cursor:       sel.Cursor,
		SelectedAt:   sel.SelectedAt,
		UsedAt:       sel.UsedAt,
	}
}

func toIssue(view usecase.IssueView) issueResponse {
	out := issueResponse{
		ID:            view.Issue.ID,
		PublicationID: view.Issue.PublicationID,
		Date:          view.Issue.DateKey(),
		Status:        string(view.Issue.Status),
		Checkpoint:    view.Issue.Checkpoint.String(),
		WorkflowError: view.Issue.WorkflowError,
		SubjectLine:   view.Issue.SubjectLine,
		Welcome:       view.Issue.Welcome,
		Modules:       make([]moduleResponse, 0, len(view.Modules)),
	}
	for _, mv := range view.Modules {
		m := moduleResponse{
			ID:           mv.Module.ID,
			Name:         mv.Module.Name,
			Family:       string(mv.Module.Family),
			Mode:         mv.Module.Mode.String(),
			Count:        mv.Module.Count,
			DisplayOrder: mv.Module.DisplayOrder,
			Items:        make([]itemResponse, 0, len(mv.Items)),
		}
		if mv.Selection != nil {
			sel := toSelection(*mv.Selection)
			m.Selection = &sel
		}
		for _, it := range mv.Items {
			item := itemResponse{
				ID:          it.ID,
				CandidateID: it.CandidateID,
				Position:    it.Position,
				Headline:    it.Headline,
				Body:        it.Body,
				WordCount:   it.WordCount,
				Rank:        it.Rank,
				Active:      it.Active,
			}
			if fc := it.FactCheck; fc != nil {
				item.FactCheck = &factCheckResponse{
					Accuracy:   fc.Accuracy,
					Compliance: fc.Compliance,
					Quality:    fc.Quality,
					Total:      fc.Total(),
					Passed:     fc.Passed,
					Reason:     fc.Reason,
					CheckedAt:  fc.CheckedAt,
				}
			}
			m.Items = append(m.Items, item)
		}
		out.Modules = append(out.Modules, m)
	}
	return out
}

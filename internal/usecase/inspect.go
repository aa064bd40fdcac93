package usecase

import (
	"context"
	"fmt"

	"IssueAssembler/internal/domain"
)

// ModuleView is one module's selection and items as stored.
type ModuleView struct {
	Module    domain.ContentModule    `json:"module"`
	Selection *domain.ModuleSelection `json:"selection,omitempty"`
	Items     []domain.ModuleItem     `json:"items"`
}

// IssueView is the operator read model of an issue.
type IssueView struct {
	Issue   domain.Issue `json:"issue"`
	Modules []ModuleView `json:"modules"`
}

// Inspect loads an issue with every active module's selection and items.
func (o *Orchestrator) Inspect(ctx context.Context, issueID string) (IssueView, error) {
	issue, err := o.store.GetIssue(ctx, issueID)
	if err != nil {
		return IssueView{}, fmt.Errorf("load issue %s: %w", issueID, err)
	}
	mods, err := o.registry.ActiveModules(ctx, issue.PublicationID)
	if err != nil {
		return IssueView{}, err
	}
	view := IssueView{Issue: issue, Modules: make([]ModuleView, 0, len(mods))}
	for _, m := range mods {
		mv := ModuleView{Module: m}
		sel, ok, err := o.store.GetSelection(ctx, issue.ID, m.ID)
		if err != nil {
			return IssueView{}, fmt.Errorf("load selection %s: %w", m.ID, err)
		}
		if ok {
			mv.Selection = &sel
		}
		if mv.Items, err = o.store.ListItems(ctx, issue.ID, m.ID); err != nil {
			return IssueView{}, fmt.Errorf("load items %s: %w", m.ID, err)
		}
		view.Modules = append(view.Modules, mv)
	}
	return view, nil
}

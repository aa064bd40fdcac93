package usecase

import (
	"context"
	"fmt"

	"IssueAssembler/internal/domain"
)

// OverrideSelection replaces a module's selection for an issue with an operator-supplied
// id list and switches it to manual mode. It holds the same per-module lock as the
// selection step, so it never interleaves with auto-selection of that module.
func (o *Orchestrator) OverrideSelection(ctx context.Context, issueID, moduleID string, ids []string) (domain.ModuleSelection, error) {
	issue, err := o.store.GetIssue(ctx, issueID)
	if err != nil {
		return domain.ModuleSelection{}, fmt.Errorf("load issue %s: %w", issueID, err)
	}
	if issue.Status == domain.IssueStatusSent {
		return domain.ModuleSelection{}, fmt.Errorf("override issue %s: %w", issueID, domain.ErrIssueSent)
	}
	module, err := o.store.GetModule(ctx, moduleID)
	if err != nil {
		return domain.ModuleSelection{}, fmt.Errorf("load module %s: %w", moduleID, err)
	}
	if module.PublicationID != issue.PublicationID {
		return domain.ModuleSelection{}, fmt.Errorf("module %s is not part of publication %s: %w", moduleID, issue.PublicationID, domain.ErrModuleNotFound)
	}
	policy, err := o.registry.Resolve(module.Family)
	if err != nil {
		return domain.ModuleSelection{}, err
	}

	byID, err := o.validateOverride(ctx, issue, module, ids, policy.RequiresModuleEligible)
	if err != nil {
		return domain.ModuleSelection{}, err
	}

	release, err := o.locker.Acquire(ctx, selectionLockKey(issue.ID, module.ID), lockTTL)
	if err != nil {
		return domain.ModuleSelection{}, fmt.Errorf("lock module %s: %w", module.ID, err)
	}
	defer release()

	if _, err := o.store.Release(ctx, issue.ID, module.ID, ids); err != nil {
		return domain.ModuleSelection{}, fmt.Errorf("release previous selection: %w", err)
	}
	claimed, err := o.claimInOrder(ctx, issue.ID, module.ID, ids)
	if err != nil {
		return domain.ModuleSelection{}, err
	}
	if len(claimed) != len(ids) {
		return domain.ModuleSelection{}, fmt.Errorf("candidates claimed concurrently by another module: %w", domain.ErrInvalidSelection)
	}

	items := buildItems(issue.ID, module.ID, policy, claimed, byID)
	if err := o.store.ReplaceItems(ctx, issue.ID, module.ID, items); err != nil {
		return domain.ModuleSelection{}, fmt.Errorf("write items: %w", err)
	}
	if issue.Status.Assembled() {
		itemIDs := make([]string, 0, len(items))
		for _, it := range items {
			itemIDs = append(itemIDs, it.ID)
		}
		if err := o.store.RankItems(ctx, issue.ID, module.ID, itemIDs); err != nil {
			return domain.ModuleSelection{}, fmt.Errorf("rank items: %w", err)
		}
	}

	sel := domain.ModuleSelection{
		IssueID:      issue.ID,
		ModuleID:     module.ID,
		Mode:         domain.ModeManual,
		CandidateIDs: claimed,
		PoolSize:     len(claimed),
		SelectedAt:   o.now(),
	}
	if err := o.store.SaveSelection(ctx, sel); err != nil {
		return domain.ModuleSelection{}, fmt.Errorf("save selection: %w", err)
	}
	o.logger.Info("selection overridden", "issue_id", issue.ID, "module_id", module.ID, "selected", len(claimed))
	return sel, nil
}

func (o *Orchestrator) validateOverride(ctx context.Context, issue domain.Issue, module domain.ContentModule, ids []string, needsEligible bool) (map[string]domain.Candidate, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no candidates listed: %w", domain.ErrInvalidSelection)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("empty candidate id: %w", domain.ErrInvalidSelection)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("candidate %s listed twice: %w", id, domain.ErrInvalidSelection)
		}
		seen[id] = struct{}{}
	}
	cands, err := o.store.GetCandidates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	byID := make(map[string]domain.Candidate, len(cands))
	for _, c := range cands {
		byID[c.ID] = c
	}
	for _, id := range ids {
		c, ok := byID[id]
		switch {
		case !ok:
			return nil, fmt.Errorf("candidate %s does not exist: %w", id, domain.ErrInvalidSelection)
		case c.PublicationID != issue.PublicationID || c.Family != module.Family:
			return nil, fmt.Errorf("candidate %s cannot be used by module %s: %w", id, module.ID, domain.ErrInvalidSelection)
		case c.Excluded:
			return nil, fmt.Errorf("candidate %s is excluded: %w", id, domain.ErrInvalidSelection)
		case needsEligible && !c.ModuleEligible:
			return nil, fmt.Errorf("candidate %s is not module-eligible: %w", id, domain.ErrInvalidSelection)
		case c.AssignedIssueID != "" && (c.AssignedIssueID != issue.ID || c.AssignedModuleID != module.ID):
			return nil, fmt.Errorf("candidate %s is already claimed: %w", id, domain.ErrInvalidSelection)
		}
	}
	return byID, nil
}

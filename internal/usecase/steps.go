package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"IssueAssembler/internal/content"
	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/generation"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/scoring"
	"IssueAssembler/internal/selection"
)

// stepFunc executes the work of one checkpoint. It must be idempotent: a retry after a
// partial failure re-derives what is left from persisted rows.
type stepFunc func(ctx context.Context, r *run, cp domain.Checkpoint) error

func (o *Orchestrator) registerSteps() map[domain.WorkflowState]stepFunc {
	return map[domain.WorkflowState]stepFunc{
		domain.StateDeduplicating:          o.stepDeduplicate,
		domain.StateSelectingModules:       o.stepSelect,
		domain.StateGeneratingTitles:       o.stepTitles,
		domain.StateGeneratingBodiesBatch1: o.stepBodies(generation.FirstHalf),
		domain.StateGeneratingBodiesBatch2: o.stepBodies(generation.SecondHalf),
		domain.StateFactChecking:           o.stepFactCheck,
		domain.StateFinalizing:             o.stepFinalize,
	}
}

func (o *Orchestrator) stepDeduplicate(ctx context.Context, r *run, _ domain.Checkpoint) error {
	res, err := o.dedup.Run(ctx, r.issue)
	if err != nil {
		return fmt.Errorf("deduplicate: %w", err)
	}
	r.record(ctx, func() {
		r.summary.Pool = res.Candidates
		r.summary.Groups = res.Groups
		r.summary.Suppressed = res.Suppressed
	})
	return nil
}

func (o *Orchestrator) stepSelect(ctx context.Context, r *run, cp domain.Checkpoint) error {
	module, ms := r.module(cp.ModuleIndex)
	release, err := o.locker.Acquire(ctx, selectionLockKey(r.issue.ID, module.ID), lockTTL)
	if err != nil {
		return fmt.Errorf("lock module %s: %w", module.ID, err)
	}
	defer release()

	existing, ok, err := o.store.GetSelection(ctx, r.issue.ID, module.ID)
	if err != nil {
		return fmt.Errorf("load selection: %w", err)
	}
	if ok {
		r.record(ctx, func() { ms.Selected = len(existing.CandidateIDs) })
		r.logger.Info("selection kept", "module_id", module.ID, "mode", existing.Mode.String(), "selected", len(existing.CandidateIDs))
		return nil
	}

	if module.Mode == domain.ModeManual {
		return o.store.SaveSelection(ctx, domain.ModuleSelection{
			IssueID:      r.issue.ID,
			ModuleID:     module.ID,
			Mode:         domain.ModeManual,
			CandidateIDs: []string{},
			SelectedAt:   o.now(),
		})
	}

	eligible, err := o.registry.Eligible(ctx, r.issue, module)
	if err != nil {
		return err
	}
	var criteria []domain.Criterion
	if module.Mode == domain.ModeScoreBased {
		if criteria, err = o.store.ListCriteria(ctx, module.ID); err != nil {
			return fmt.Errorf("load criteria: %w", err)
		}
	}
	byID := make(map[string]domain.Candidate, len(eligible))
	pool := make([]selection.Candidate, 0, len(eligible))
	for _, c := range eligible {
		byID[c.ID] = c
		pool = append(pool, selection.Candidate{
			ID:       c.ID,
			Key:      c.SortKey(),
			Score:    scoring.CandidateScore(c, criteria),
			Priority: c.Priority,
		})
	}

	res, err := o.selector.Select(module, pool)
	if err != nil {
		return err
	}
	ids, err := o.claimInOrder(ctx, r.issue.ID, module.ID, res.IDs)
	if err != nil {
		return err
	}

	policy, err := o.registry.Resolve(module.Family)
	if err != nil {
		return err
	}
	if err := o.store.ReplaceItems(ctx, r.issue.ID, module.ID, buildItems(r.issue.ID, module.ID, policy, ids, byID)); err != nil {
		return fmt.Errorf("write items: %w", err)
	}
	err = o.store.SaveSelection(ctx, domain.ModuleSelection{
		IssueID:      r.issue.ID,
		ModuleID:     module.ID,
		Mode:         module.Mode,
		CandidateIDs: ids,
		PoolSize:     res.PoolSize,
		Cursor:       res.Cursor,
		SelectedAt:   o.now(),
	})
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}

	r.record(ctx, func() { ms.Selected = len(ids) })
	r.logger.Info("module selected",
		"module_id", module.ID,
		"mode", module.Mode.String(),
		"eligible", res.PoolSize,
		"selected", len(ids))
	return nil
}

func (o *Orchestrator) stepTitles(ctx context.Context, r *run, cp domain.Checkpoint) error {
	module, ms := r.module(cp.ModuleIndex)
	n, err := o.writer.GenerateTitles(ctx, r.issue, module)
	r.record(ctx, func() { ms.Titles += n })
	return err
}

func (o *Orchestrator) stepBodies(half generation.Half) stepFunc {
	return func(ctx context.Context, r *run, cp domain.Checkpoint) error {
		module, ms := r.module(cp.ModuleIndex)
		n, err := o.writer.GenerateBodies(ctx, r.issue, module, half)
		r.record(ctx, func() { ms.Bodies += n })
		return err
	}
}

func (o *Orchestrator) stepFactCheck(ctx context.Context, r *run, cp domain.Checkpoint) error {
	module, ms := r.module(cp.ModuleIndex)
	policy, err := o.registry.Resolve(module.Family)
	if err != nil {
		return err
	}
	if !policy.NeedsGeneration {
		return nil
	}
	res, err := o.checker.Check(ctx, r.issue, module)
	r.record(ctx, func() {
		ms.FactChecked += res.Checked
		ms.FactCheckFailed += res.Failed
	})
	return err
}

func (o *Orchestrator) stepFinalize(ctx context.Context, r *run, _ domain.Checkpoint) error {
	res, err := o.finalizer.Finalize(ctx, r.issue, r.modules)
	if err != nil {
		return err
	}
	r.record(ctx, func() {
		for i, outcome := range res.Modules {
			if i < len(r.summary.Modules) {
				r.summary.Modules[i].Winners = outcome.Winners
				r.summary.Modules[i].Released = outcome.Released
			}
		}
		r.summary.SubjectLine = res.SubjectLine
	})
	return nil
}

// claimInOrder claims ids for the module and drops any lost to a concurrent claim,
// preserving selection order.
func (o *Orchestrator) claimInOrder(ctx context.Context, issueID, moduleID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	claimed, err := o.store.Claim(ctx, issueID, moduleID, ids)
	if err != nil {
		return nil, fmt.Errorf("claim candidates: %w", err)
	}
	owned := make(map[string]struct{}, len(claimed))
	for _, id := range claimed {
		owned[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := owned[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// buildItems creates working rows in selection order. Families that are not AI-written
// carry their authored title and text straight into the item.
func buildItems(issueID, moduleID string, policy modules.FamilyPolicy, ids []string, byID map[string]domain.Candidate) []domain.ModuleItem {
	items := make([]domain.ModuleItem, 0, len(ids))
	for i, id := range ids {
		item := domain.ModuleItem{
			ID:          uuid.NewString(),
			IssueID:     issueID,
			ModuleID:    moduleID,
			CandidateID: id,
			Position:    i + 1,
		}
		if !policy.NeedsGeneration {
			c := byID[id]
			item.Headline = strings.TrimSpace(c.Title)
			item.Body = content.PlainText(c.Summary)
			if item.Body == "" {
				item.Body = content.PlainText(c.Content)
			}
			item.WordCount = len(strings.Fields(item.Body))
		}
		items = append(items, item)
	}
	return items
}

func selectionLockKey(issueID, moduleID string) string {
	return "selection:" + issueID + ":" + moduleID
}

// Package finalize picks per-module winners, writes the issue's subject line and welcome
// text, and moves the issue to draft.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/factcheck"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/ports"
	"IssueAssembler/internal/scoring"
	"IssueAssembler/internal/selection"
)

const (
	SubjectPromptKey = "subject_line"
	WelcomePromptKey = "welcome"

	subjectHeadlines = 3
	cursorAttempts   = 3
)

// SubjectRequest is the prompt context for the subject line.
type SubjectRequest struct {
	Publication string   `json:"publication"`
	Date        string   `json:"date"`
	Headlines   []string `json:"headlines"`
}

// SubjectResponse is the AI reply for the subject line.
type SubjectResponse struct {
	SubjectLine string `json:"subject_line"`
}

// WelcomeSection lists one module's winning headlines.
type WelcomeSection struct {
	Module    string   `json:"module"`
	Headlines []string `json:"headlines"`
}

// WelcomeRequest is the prompt context for the welcome summary.
type WelcomeRequest struct {
	Date     string           `json:"date"`
	Sections []WelcomeSection `json:"sections"`
}

// ModuleOutcome reports the winners kept for one module.
type ModuleOutcome struct {
	ModuleID string
	Winners  []string
	Released int
}

// Result summarizes the finalize step.
type Result struct {
	Modules     []ModuleOutcome
	SubjectLine string
}

// Finalizer ranks generated items and completes the issue.
type Finalizer struct {
	store     ports.Store
	registry  *modules.Registry
	generator ports.Generator
	policy    factcheck.Policy
	logger    *slog.Logger
}

// New wires the finalizer.
func New(store ports.Store, registry *modules.Registry, generator ports.Generator, policy factcheck.Policy, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: store, registry: registry, generator: generator, policy: policy, logger: logger}
}

type winner struct {
	item     domain.ModuleItem
	score    float64
	priority int
}

// Finalize processes modules in the given (display) order and flips the issue to draft.
func (f *Finalizer) Finalize(ctx context.Context, issue domain.Issue, mods []domain.ContentModule) (Result, error) {
	var res Result
	var sections []WelcomeSection
	for _, module := range mods {
		outcome, headlines, err := f.finalizeModule(ctx, issue, module)
		if err != nil {
			return Result{}, fmt.Errorf("finalize module %s: %w", module.ID, err)
		}
		res.Modules = append(res.Modules, outcome)
		if len(headlines) > 0 {
			sections = append(sections, WelcomeSection{Module: module.Name, Headlines: headlines})
		}
	}

	var welcome domain.WelcomeText
	if len(sections) > 0 {
		subject, err := f.subjectLine(ctx, issue, sections[0].Headlines)
		if err != nil {
			return Result{}, err
		}
		res.SubjectLine = subject
		welcome, err = f.welcome(ctx, issue, sections)
		if err != nil {
			return Result{}, err
		}
	}

	if err := f.store.SaveIssueContent(ctx, issue.ID, res.SubjectLine, welcome); err != nil {
		return Result{}, fmt.Errorf("save issue content: %w", err)
	}
	if err := f.store.SaveCheckpoint(ctx, issue.ID, domain.IssueStatusDraft, domain.Checkpoint{State: domain.StateDraft}); err != nil {
		return Result{}, fmt.Errorf("mark draft: %w", err)
	}
	return res, nil
}

func (f *Finalizer) finalizeModule(ctx context.Context, issue domain.Issue, module domain.ContentModule) (ModuleOutcome, []string, error) {
	outcome := ModuleOutcome{ModuleID: module.ID}
	sel, ok, err := f.store.GetSelection(ctx, issue.ID, module.ID)
	if err != nil {
		return outcome, nil, fmt.Errorf("load selection: %w", err)
	}
	if !ok {
		return outcome, nil, nil
	}

	ranked, err := f.rank(ctx, module, sel)
	if err != nil {
		return outcome, nil, err
	}
	if limit := max(module.Count, 0); !sel.Manual() && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	itemIDs := make([]string, 0, len(ranked))
	winners := make([]string, 0, len(ranked))
	headlines := make([]string, 0, len(ranked))
	for _, w := range ranked {
		itemIDs = append(itemIDs, w.item.ID)
		winners = append(winners, w.item.CandidateID)
		if h := strings.TrimSpace(w.item.Headline); h != "" {
			headlines = append(headlines, h)
		}
	}
	if err := f.store.RankItems(ctx, issue.ID, module.ID, itemIDs); err != nil {
		return outcome, nil, fmt.Errorf("rank items: %w", err)
	}

	if module.Mode == domain.ModeSequential && !sel.CursorAdvanced {
		if err := f.advanceCursor(ctx, issue.ID, module.ID, len(winners), sel.PoolSize); err != nil {
			return outcome, nil, err
		}
		sel.CursorAdvanced = true
	}

	sel.CandidateIDs = winners
	if err := f.store.SaveSelection(ctx, sel); err != nil {
		return outcome, nil, fmt.Errorf("save selection: %w", err)
	}
	released, err := f.store.Release(ctx, issue.ID, module.ID, winners)
	if err != nil {
		return outcome, nil, fmt.Errorf("release unused: %w", err)
	}

	outcome.Winners = winners
	outcome.Released = released
	f.logger.Info("module finalized",
		"issue_id", issue.ID,
		"module_id", module.ID,
		"winners", len(winners),
		"released", released)
	return outcome, headlines, nil
}

// rank orders usable items: score_based by weighted score, priority by operator priority,
// every other mode keeps selection order.
func (f *Finalizer) rank(ctx context.Context, module domain.ContentModule, sel domain.ModuleSelection) ([]winner, error) {
	policy, err := f.registry.Resolve(module.Family)
	if err != nil {
		return nil, err
	}
	items, err := f.store.ListItems(ctx, sel.IssueID, module.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	usable := make([]winner, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if policy.NeedsGeneration && it.Body == "" {
			continue
		}
		if f.policy == factcheck.PolicyExclude && it.FactCheck != nil && !it.FactCheck.Passed {
			continue
		}
		usable = append(usable, winner{item: it})
		ids = append(ids, it.CandidateID)
	}
	sort.SliceStable(usable, func(i, j int) bool { return usable[i].item.Position < usable[j].item.Position })

	if sel.Mode != domain.ModeScoreBased && sel.Mode != domain.ModePriority {
		return usable, nil
	}

	cands, err := f.store.GetCandidates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	criteria, err := f.store.ListCriteria(ctx, module.ID)
	if err != nil {
		return nil, fmt.Errorf("load criteria: %w", err)
	}
	byID := make(map[string]domain.Candidate, len(cands))
	for _, c := range cands {
		byID[c.ID] = c
	}
	for i := range usable {
		c := byID[usable[i].item.CandidateID]
		usable[i].score = scoring.CandidateScore(c, criteria)
		usable[i].priority = c.Priority
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if sel.Mode == domain.ModePriority {
			return usable[i].priority > usable[j].priority
		}
		return usable[i].score > usable[j].score
	})
	return usable, nil
}

// advanceCursor moves the rotation cursor by the count actually used with a
// compare-and-swap on the module's cursor version. The selection is stamped in the same
// write, so a replayed finalize never moves the cursor twice.
func (f *Finalizer) advanceCursor(ctx context.Context, issueID, moduleID string, used, poolSize int) error {
	for attempt := 1; ; attempt++ {
		current, err := f.store.GetModule(ctx, moduleID)
		if err != nil {
			return fmt.Errorf("load module cursor: %w", err)
		}
		next := selection.NextCursor(current.NextPosition, used, poolSize)
		advanced, err := f.store.AdvanceCursor(ctx, issueID, moduleID, current.CursorVersion, next)
		if err == nil {
			if advanced {
				f.logger.Debug("rotation cursor advanced", "module_id", moduleID, "from", current.NextPosition, "to", next)
			} else {
				f.logger.Debug("rotation cursor already advanced for issue", "module_id", moduleID, "issue_id", issueID)
			}
			return nil
		}
		if !errors.Is(err, domain.ErrCursorConflict) || attempt >= cursorAttempts {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
}

func (f *Finalizer) subjectLine(ctx context.Context, issue domain.Issue, headlines []string) (string, error) {
	if len(headlines) > subjectHeadlines {
		headlines = headlines[:subjectHeadlines]
	}
	var resp SubjectResponse
	req := SubjectRequest{Publication: issue.PublicationID, Date: issue.DateKey(), Headlines: headlines}
	if err := f.generator.Generate(ctx, SubjectPromptKey, req, &resp); err != nil {
		return "", fmt.Errorf("generate subject line: %w", err)
	}
	subject := strings.TrimSpace(resp.SubjectLine)
	if subject == "" {
		return "", fmt.Errorf("generate subject line: %w", domain.ErrMalformedResponse)
	}
	return subject, nil
}

func (f *Finalizer) welcome(ctx context.Context, issue domain.Issue, sections []WelcomeSection) (domain.WelcomeText, error) {
	var resp domain.WelcomeText
	if err := f.generator.Generate(ctx, WelcomePromptKey, WelcomeRequest{Date: issue.DateKey(), Sections: sections}, &resp); err != nil {
		return domain.WelcomeText{}, fmt.Errorf("generate welcome: %w", err)
	}
	if strings.TrimSpace(resp.Intro) == "" && strings.TrimSpace(resp.Summary) == "" {
		return domain.WelcomeText{}, fmt.Errorf("generate welcome: %w", domain.ErrMalformedResponse)
	}
	return resp, nil
}

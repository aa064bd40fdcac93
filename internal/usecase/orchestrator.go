package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"IssueAssembler/internal/dedup"
	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/factcheck"
	"IssueAssembler/internal/finalize"
	"IssueAssembler/internal/generation"
	"IssueAssembler/internal/infrastructure/lock"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/ports"
	"IssueAssembler/internal/selection"
	"IssueAssembler/internal/workflow"
)

const (
	lockTTL      = 2 * time.Minute
	alertTimeout = 10 * time.Second
)

// OrchestratorDeps wires all collaborators into the assembly workflow.
type OrchestratorDeps struct {
	Store        ports.Store
	Registry     *modules.Registry
	Deduplicator *dedup.Deduplicator
	Selector     *selection.Selector
	Writer       *generation.Writer
	Checker      *factcheck.Checker
	Finalizer    *finalize.Finalizer
	Alerter      ports.Alerter
	Locker       ports.Locker
	Harness      workflow.Harness
	Logger       *slog.Logger
}

// Orchestrator drives one issue through the assembly state machine.
type Orchestrator struct {
	store     ports.Store
	registry  *modules.Registry
	dedup     *dedup.Deduplicator
	selector  *selection.Selector
	writer    *generation.Writer
	checker   *factcheck.Checker
	finalizer *finalize.Finalizer
	alerter   ports.Alerter
	locker    ports.Locker
	harness   workflow.Harness
	logger    *slog.Logger
	now       func() time.Time
	steps     map[domain.WorkflowState]stepFunc
}

// ModuleSummary carries per-module phase counts.
type ModuleSummary struct {
	ModuleID        string   `json:"module_id"`
	Name            string   `json:"name"`
	Mode            string   `json:"mode"`
	Selected        int      `json:"selected"`
	Titles          int      `json:"titles"`
	Bodies          int      `json:"bodies"`
	FactChecked     int      `json:"fact_checked"`
	FactCheckFailed int      `json:"fact_check_failed"`
	Winners         []string `json:"winners,omitempty"`
	Released        int      `json:"released"`
}

// Summary is the success payload of an assembly run.
type Summary struct {
	IssueID     string             `json:"issue_id"`
	RunID       string             `json:"run_id,omitempty"`
	Status      domain.IssueStatus `json:"status"`
	Checkpoint  string             `json:"checkpoint"`
	Pool        int                `json:"pool"`
	Groups      int                `json:"groups"`
	Suppressed  int                `json:"suppressed"`
	Modules     []*ModuleSummary   `json:"modules"`
	SubjectLine string             `json:"subject_line,omitempty"`
}

// NewOrchestrator constructs the orchestration component.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	harness := deps.Harness
	if harness.Logger == nil {
		harness.Logger = logger
	}
	o := &Orchestrator{
		store:     deps.Store,
		registry:  deps.Registry,
		dedup:     deps.Deduplicator,
		selector:  deps.Selector,
		writer:    deps.Writer,
		checker:   deps.Checker,
		finalizer: deps.Finalizer,
		alerter:   deps.Alerter,
		locker:    locker,
		harness:   harness,
		logger:    logger,
		now:       time.Now,
	}
	o.steps = o.registerSteps()
	return o
}

// Run starts or resumes assembly for an issue from its persisted checkpoint.
func (o *Orchestrator) Run(ctx context.Context, issueID string) (Summary, error) {
	issue, err := o.store.GetIssue(ctx, issueID)
	if err != nil {
		return Summary{}, fmt.Errorf("load issue %s: %w", issueID, err)
	}
	switch {
	case issue.Status == domain.IssueStatusFailed:
		return Summary{}, fmt.Errorf("issue %s: %w", issueID, domain.ErrIssueFailed)
	case issue.Status.Assembled():
		o.logger.Info("issue already assembled", "issue_id", issue.ID, "status", issue.Status)
		return Summary{
			IssueID:     issue.ID,
			Status:      issue.Status,
			Checkpoint:  issue.Checkpoint.String(),
			SubjectLine: issue.SubjectLine,
		}, nil
	}
	return o.execute(ctx, issue)
}

// Reprocess clears every piece of working data for the issue and replays the workflow
// from deduplication. It is safe on failed and draft issues.
func (o *Orchestrator) Reprocess(ctx context.Context, issueID string) (Summary, error) {
	issue, err := o.store.GetIssue(ctx, issueID)
	if err != nil {
		return Summary{}, fmt.Errorf("load issue %s: %w", issueID, err)
	}
	if issue.Status == domain.IssueStatusSent {
		return Summary{}, fmt.Errorf("reprocess issue %s: %w", issueID, domain.ErrIssueSent)
	}

	if err := o.store.DeleteIssueSelections(ctx, issue.ID); err != nil {
		return Summary{}, fmt.Errorf("delete selections: %w", err)
	}
	released, err := o.store.ReleaseIssue(ctx, issue.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("release candidates: %w", err)
	}
	if err := o.store.ClearSuppressions(ctx, issue.ID); err != nil {
		return Summary{}, fmt.Errorf("clear suppressions: %w", err)
	}
	if err := o.store.ResetWorkflow(ctx, issue.ID); err != nil {
		return Summary{}, fmt.Errorf("reset workflow: %w", err)
	}
	o.logger.Info("issue reset for reprocess", "issue_id", issue.ID, "released", released)

	issue, err = o.store.GetIssue(ctx, issue.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("reload issue %s: %w", issueID, err)
	}
	return o.execute(ctx, issue)
}

// run is the per-invocation context handed to step functions. Steps read their
// remaining work from the datastore, never from fields carried between steps.
type run struct {
	mu      sync.Mutex
	id      string
	issue   domain.Issue
	modules []domain.ContentModule
	summary *Summary
	logger  *slog.Logger
}

func (r *run) module(idx int) (domain.ContentModule, *ModuleSummary) {
	return r.modules[idx], r.summary.Modules[idx]
}

// record applies a summary update unless the attempt that produced it was abandoned.
func (r *run) record(ctx context.Context, update func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() == nil {
		update()
	}
}

func (o *Orchestrator) execute(ctx context.Context, issue domain.Issue) (Summary, error) {
	runID := newRunID()
	logger := o.logger.With("issue_id", issue.ID, "run_id", runID)
	summary := &Summary{IssueID: issue.ID, RunID: runID, Status: domain.IssueStatusProcessing}
	r := &run{id: runID, issue: issue, summary: summary, logger: logger}

	cp := issue.Checkpoint
	err := o.harness.Execute(ctx, cp, "", func(ctx context.Context) error {
		mods, err := o.registry.ActiveModules(ctx, issue.PublicationID)
		if err != nil {
			return err
		}
		r.modules = mods
		return nil
	})
	if err != nil {
		return o.fail(ctx, r, cp, err)
	}
	summary.Modules = make([]*ModuleSummary, len(r.modules))
	for i, m := range r.modules {
		summary.Modules[i] = &ModuleSummary{ModuleID: m.ID, Name: m.Name, Mode: m.Mode.String()}
	}

	cp = workflow.Normalize(cp, len(r.modules))
	if err := o.store.SaveCheckpoint(ctx, issue.ID, domain.IssueStatusProcessing, cp); err != nil {
		return o.fail(ctx, r, cp, fmt.Errorf("save checkpoint: %w", err))
	}
	logger.Info("assembly started", "checkpoint", cp.String(), "modules", len(r.modules))

	for !cp.State.Terminal() {
		cp = workflow.Normalize(cp, len(r.modules))
		step, ok := o.steps[cp.State]
		if !ok {
			return o.fail(ctx, r, cp, fmt.Errorf("no step registered for state %s", cp.State))
		}
		moduleID := ""
		if cp.State.PerModule() {
			moduleID = r.modules[cp.ModuleIndex].ID
		}

		next := workflow.Next(cp, len(r.modules))
		status := domain.IssueStatusProcessing
		if next.State == domain.StateDraft {
			status = domain.IssueStatusDraft
		}
		current := cp
		err := o.harness.Execute(ctx, current, moduleID, func(ctx context.Context) error {
			if err := step(ctx, r, current); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return o.store.SaveCheckpoint(ctx, issue.ID, status, next)
		})
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn("assembly interrupted", "checkpoint", cp.String(), "error", err)
				return *summary, err
			}
			return o.fail(ctx, r, cp, err)
		}
		logger.Info("step committed", "state", cp.String(), "next", next.String())
		cp = next
	}

	summary.Status = domain.IssueStatusDraft
	summary.Checkpoint = cp.String()
	logger.Info("assembly finished", "status", summary.Status, "subject_line", summary.SubjectLine)
	return *summary, nil
}

// fail marks the issue failed with the causal message and alerts operators once.
// Neither the status write nor the alert may mask the original error.
func (o *Orchestrator) fail(ctx context.Context, r *run, cp domain.Checkpoint, cause error) (Summary, error) {
	failCtx := context.WithoutCancel(ctx)
	msg := cause.Error()
	if err := o.store.MarkFailed(failCtx, r.issue.ID, cp, msg); err != nil {
		r.logger.Error("mark issue failed", "error", err)
	}
	r.logger.Error("assembly failed", "checkpoint", cp.String(), "error", cause)

	o.notify(failCtx, ports.Alert{
		IssueID:       r.issue.ID,
		PublicationID: r.issue.PublicationID,
		State:         cp.String(),
		Message:       msg,
		At:            o.now(),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Status = domain.IssueStatusFailed
	r.summary.Checkpoint = cp.String()
	return *r.summary, cause
}

// notify is best-effort: alerter errors and panics are logged, never propagated.
func (o *Orchestrator) notify(ctx context.Context, alert ports.Alert) {
	if o.alerter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("operator alert panicked", "issue_id", alert.IssueID, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	if err := o.alerter.Notify(ctx, alert); err != nil {
		o.logger.Error("operator alert failed", "issue_id", alert.IssueID, "error", err)
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

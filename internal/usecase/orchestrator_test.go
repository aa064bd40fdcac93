package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/dedup"
	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/factcheck"
	"IssueAssembler/internal/finalize"
	"IssueAssembler/internal/generation"
	"IssueAssembler/internal/infrastructure/lock"
	"IssueAssembler/internal/infrastructure/storage"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/selection"
	"IssueAssembler/internal/testutil"
	"IssueAssembler/internal/workflow"
)

var (
	testDay     = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	storiesMod  = domain.ContentModule{ID: "stories", PublicationID: "pub", Family: domain.FamilyArticle, Name: "Top stories", DisplayOrder: 1, Active: true, Mode: domain.ModeScoreBased, Count: 2, SelectionBuffer: 1}
	promptsMod  = domain.ContentModule{ID: "prompts", PublicationID: "pub", Family: domain.FamilyPrompt, Name: "Prompt of the day", DisplayOrder: 2, Active: true, Mode: domain.ModeSequential, Count: 1}
	relevance   = 2.0
	articleRows = []struct {
		id     string
		title  string
		scores map[int]float64
	}{
		{"a1", "OpenAI ships new reasoning model", map[int]float64{1: 9, 2: 5}},
		{"a2", "Nvidia earnings beat estimates", map[int]float64{1: 3, 2: 3}},
		{"a3", "EU passes landmark chip subsidy law", map[int]float64{1: 8, 2: 8}},
		{"a4", "Startup raises seed round for robots", map[int]float64{1: 1, 2: 1}},
		{"a5", "OpenAI ships a new reasoning model", map[int]float64{1: 2, 2: 2}},
	}
)

type pipelineFixture struct {
	store   *storage.SQLStore
	gen     *testutil.Generator
	alerter *testutil.Alerter
	orch    *Orchestrator
	issue   domain.Issue
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewStore(t)

	require.NoError(t, store.SaveModule(ctx, storiesMod))
	require.NoError(t, store.SaveModule(ctx, promptsMod))
	require.NoError(t, store.SaveCriterion(ctx, domain.Criterion{ModuleID: storiesMod.ID, Number: 1, Name: "relevance", Weight: &relevance}))
	require.NoError(t, store.SaveCriterion(ctx, domain.Criterion{ModuleID: storiesMod.ID, Number: 2, Name: "novelty"}))

	published := testDay.Add(6 * time.Hour)
	for _, row := range articleRows {
		total := row.scores[1]*relevance + row.scores[2]
		require.NoError(t, store.SaveCandidate(ctx, domain.Candidate{
			ID: row.id, PublicationID: "pub", Family: domain.FamilyArticle, Title: row.title,
			Content: "<p>" + row.title + " in detail.</p>", PublishedAt: published,
			Rating: &domain.Rating{Scores: row.scores, Total: total},
		}))
	}
	for _, code := range []string{"P-01", "P-02", "P-03"} {
		require.NoError(t, store.SaveCandidate(ctx, domain.Candidate{
			ID: "prompt-" + code, PublicationID: "pub", Family: domain.FamilyPrompt, Code: code,
			Title: "Prompt " + code, Summary: "<p>Try asking about " + code + "</p>",
		}))
	}

	issue := domain.Issue{ID: "issue-1", PublicationID: "pub", Date: testDay, Status: domain.IssueStatusPending}
	require.NoError(t, store.CreateIssue(ctx, issue))

	gen := testutil.NewGenerator().
		Reply(dedup.PromptKey, map[string]any{"groups": []any{}}).
		On(generation.TitlePromptKey, func(raw json.RawMessage) (any, error) {
			var req generation.ItemRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return generation.TitleResponse{Headline: "Headline: " + req.Title}, nil
		}).
		On(generation.BodyPromptKey, func(raw json.RawMessage) (any, error) {
			var req generation.ItemRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, err
			}
			return generation.BodyResponse{Content: "Summary of " + req.Title}, nil
		}).
		Reply(factcheck.PromptKey, map[string]any{"accuracy": 9, "compliance": 9, "quality": 9, "reason": "faithful"}).
		Reply(finalize.SubjectPromptKey, finalize.SubjectResponse{SubjectLine: "Chip law and new models"}).
		Reply(finalize.WelcomePromptKey, domain.WelcomeText{Intro: "Morning", Tagline: "Today", Summary: "Two big stories"})

	alerter := &testutil.Alerter{}
	return &pipelineFixture{
		store:   store,
		gen:     gen,
		alerter: alerter,
		orch:    newTestOrchestrator(store, gen, alerter),
		issue:   issue,
	}
}

func newTestOrchestrator(store *storage.SQLStore, gen *testutil.Generator, alerter *testutil.Alerter) *Orchestrator {
	logger := testutil.Logger()
	registry := modules.NewRegistry(store, 36*time.Hour)
	batcher := generation.Batcher{Size: 2}
	return NewOrchestrator(OrchestratorDeps{
		Store:        store,
		Registry:     registry,
		Deduplicator: dedup.New(store, registry, gen, dedup.DefaultThreshold, logger),
		Selector:     selection.New(rand.New(rand.NewPCG(1, 2))),
		Writer:       generation.NewWriter(store, registry, gen, batcher, logger),
		Checker:      factcheck.NewChecker(store, gen, batcher, factcheck.DefaultPassThreshold, logger),
		Finalizer:    finalize.New(store, registry, gen, factcheck.PolicyAdvisory, logger),
		Alerter:      alerter,
		Locker:       lock.NewLocal(),
		Harness:      workflow.Harness{MaxRetries: 2, StepTimeout: 5 * time.Second},
		Logger:       logger,
	})
}

func (f *pipelineFixture) selection(t *testing.T, moduleID string) domain.ModuleSelection {
	t.Helper()
	sel, ok, err := f.store.GetSelection(context.Background(), f.issue.ID, moduleID)
	require.NoError(t, err)
	require.True(t, ok, "no selection for %s", moduleID)
	return sel
}

func (f *pipelineFixture) candidate(t *testing.T, id string) domain.Candidate {
	t.Helper()
	got, err := f.store.GetCandidates(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0]
}

func TestRunAssemblesADraft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, summary.Status)
	assert.Equal(t, "draft", summary.Checkpoint)
	assert.Equal(t, 5, summary.Pool)
	assert.Equal(t, 1, summary.Suppressed)
	assert.Equal(t, "Chip law and new models", summary.SubjectLine)
	require.Len(t, summary.Modules, 2)
	assert.Equal(t, 3, summary.Modules[0].Selected)
	assert.Equal(t, []string{"a3", "a1"}, summary.Modules[0].Winners)
	assert.Equal(t, []string{"prompt-P-01"}, summary.Modules[1].Winners)

	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, issue.Status)
	assert.Equal(t, domain.StateDraft, issue.Checkpoint.State)
	assert.Equal(t, "Chip law and new models", issue.SubjectLine)
	assert.Equal(t, "Morning", issue.Welcome.Intro)

	assert.Equal(t, []string{"a3", "a1"}, f.selection(t, storiesMod.ID).CandidateIDs)
	assert.Equal(t, "a1", f.candidate(t, "a5").DuplicateOf)
	assert.Empty(t, f.candidate(t, "a2").AssignedIssueID, "buffer pick released")
	assert.Equal(t, storiesMod.ID, f.candidate(t, "a3").AssignedModuleID)

	prompts, err := f.store.GetModule(ctx, promptsMod.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, prompts.NextPosition)

	items, err := f.store.ListItems(ctx, f.issue.ID, promptsMod.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Prompt P-01", items[0].Headline)
	assert.Equal(t, "Try asking about P-01", items[0].Body)

	assert.Equal(t, 3, f.gen.Calls(generation.TitlePromptKey))
	assert.Equal(t, 3, f.gen.Calls(generation.BodyPromptKey))
	assert.Equal(t, 3, f.gen.Calls(factcheck.PromptKey))
	assert.Empty(t, f.alerter.Alerts())
}

func TestRunOnAssembledIssueIsANoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)
	calls := f.gen.Calls(generation.TitlePromptKey)

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, summary.Status)
	assert.Equal(t, "Chip law and new models", summary.SubjectLine)
	assert.Equal(t, calls, f.gen.Calls(generation.TitlePromptKey))

	prompts, err := f.store.GetModule(ctx, promptsMod.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, prompts.NextPosition, "cursor moves once per issue")
}

func TestRunRetriesOnlyUnfinishedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var failed atomic.Bool
	f.gen.On(generation.TitlePromptKey, func(raw json.RawMessage) (any, error) {
		var req generation.ItemRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		if req.Title == articleRows[0].title && failed.CompareAndSwap(false, true) {
			return nil, errors.New("rate limited")
		}
		return generation.TitleResponse{Headline: "Headline: " + req.Title}, nil
	})

	summary, err := f.orch.Run(context.Background(), f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, summary.Status)
	// Selection order is a3, a1, a2: the first batch saves a3 and fails a1, the retry
	// only asks for a1 and a2.
	assert.Equal(t, 4, f.gen.Calls(generation.TitlePromptKey))
	assert.Empty(t, f.alerter.Alerts())
}

func TestRunResumesFromThePersistedCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveCheckpoint(ctx, f.issue.ID, domain.IssueStatusProcessing, domain.Checkpoint{State: domain.StateFinalizing}))

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, summary.Status)
	assert.Zero(t, f.gen.Calls(dedup.PromptKey))
	assert.Zero(t, f.gen.Calls(generation.TitlePromptKey))
	assert.Empty(t, f.candidate(t, "a5").SuppressedIssueID, "deduplication already ran before the checkpoint")
}

func TestRunFailureMarksIssueAndAlertsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.gen.On(generation.BodyPromptKey, func(json.RawMessage) (any, error) {
		return nil, errors.New("model overloaded")
	})

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, domain.IssueStatusFailed, summary.Status)
	se, ok := workflow.AsStepError(err)
	require.True(t, ok)
	assert.Equal(t, 3, se.Attempts)

	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusFailed, issue.Status)
	assert.Contains(t, issue.WorkflowError, "generating_bodies_batch1[0]")
	assert.Contains(t, issue.WorkflowError, "model overloaded")

	alerts := f.alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, f.issue.ID, alerts[0].IssueID)
	assert.Equal(t, "generating_bodies_batch1[0]", alerts[0].State)

	_, err = f.orch.Run(ctx, f.issue.ID)
	assert.ErrorIs(t, err, domain.ErrIssueFailed)
	assert.Len(t, f.alerter.Alerts(), 1)
}

func TestRunTimedOutStepCannotCommitAfterFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.orch.harness = workflow.Harness{MaxRetries: 1, StepTimeout: 100 * time.Millisecond, Logger: testutil.Logger()}
	f.gen.On(generation.TitlePromptKey, func(raw json.RawMessage) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return generation.TitleResponse{Headline: "Too late"}, nil
	})

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.Error(t, err)
	assert.True(t, workflow.IsTimeout(err))
	assert.Equal(t, domain.IssueStatusFailed, summary.Status)

	// Let the abandoned attempts finish their slow requests.
	time.Sleep(600 * time.Millisecond)

	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusFailed, issue.Status)
	assert.Equal(t, domain.StateFailed, issue.Checkpoint.State)
	assert.Len(t, f.alerter.Alerts(), 1)
	assert.Equal(t, 4, f.gen.Calls(generation.TitlePromptKey), "two attempts of the first batch")

	items, err := f.store.ListItems(ctx, f.issue.ID, storiesMod.ID)
	require.NoError(t, err)
	for _, it := range items {
		assert.Empty(t, it.Headline, "late response saved for %s", it.CandidateID)
	}
}

func TestRunModuleWithoutCandidatesStillAssembles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	partners := domain.ContentModule{ID: "partners", PublicationID: "pub", Family: domain.FamilyPartnerRecommendation, Name: "Partners", DisplayOrder: 0, Active: true, Mode: domain.ModeRandom, Count: 2}
	require.NoError(t, f.store.SaveModule(ctx, partners))

	summary, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, summary.Status)
	require.Len(t, summary.Modules, 3)
	assert.Zero(t, summary.Modules[0].Selected)
	assert.Empty(t, summary.Modules[0].Winners)
	assert.Equal(t, []string{"a3", "a1"}, summary.Modules[1].Winners)
	assert.Equal(t, []string{"prompt-P-01"}, summary.Modules[2].Winners)

	sel := f.selection(t, partners.ID)
	assert.Empty(t, sel.CandidateIDs)
	assert.Empty(t, f.alerter.Alerts())
}

func TestAlerterErrorsDoNotMaskTheFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.alerter.Err = errors.New("telegram down")
	f.gen.On(factcheck.PromptKey, func(json.RawMessage) (any, error) {
		return map[string]any{"accuracy": 9}, nil
	})

	_, err := f.orch.Run(context.Background(), f.issue.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Len(t, f.alerter.Alerts(), 1)
}

func TestReprocessRebuildsAFailedIssue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.gen.On(finalize.SubjectPromptKey, func(json.RawMessage) (any, error) {
		return nil, errors.New("quota exceeded")
	})

	_, err := f.orch.Run(ctx, f.issue.ID)
	require.Error(t, err)
	assert.Equal(t, storiesMod.ID, f.candidate(t, "a3").AssignedModuleID)

	f.gen.Reply(finalize.SubjectPromptKey, finalize.SubjectResponse{SubjectLine: "Second try"})
	summary, err := f.orch.Reprocess(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, summary.Status)
	assert.Equal(t, "Second try", summary.SubjectLine)

	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, issue.Status)
	assert.Empty(t, issue.WorkflowError)
	assert.Equal(t, []string{"a3", "a1"}, f.selection(t, storiesMod.ID).CandidateIDs)
}

func TestReprocessRefusesSentIssues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveCheckpoint(ctx, f.issue.ID, domain.IssueStatusSent, domain.Checkpoint{State: domain.StateDraft}))

	_, err := f.orch.Reprocess(ctx, f.issue.ID)
	assert.ErrorIs(t, err, domain.ErrIssueSent)
}

func TestRunUnknownIssue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrIssueNotFound)
	assert.Empty(t, f.alerter.Alerts())
}

func TestInspectReturnsEveryActiveModule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.orch.Run(ctx, f.issue.ID)
	require.NoError(t, err)

	view, err := f.orch.Inspect(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, view.Issue.Status)
	require.Len(t, view.Modules, 2)
	assert.Equal(t, storiesMod.ID, view.Modules[0].Module.ID)
	require.NotNil(t, view.Modules[0].Selection)
	assert.Len(t, view.Modules[0].Items, 3)
}

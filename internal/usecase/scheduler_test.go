package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/generation"
	"IssueAssembler/internal/testutil"
)

type stubSource struct {
	cands []domain.Candidate
	err   error
	since time.Time
}

func (s *stubSource) Fetch(_ context.Context, _ string, since time.Time) ([]domain.Candidate, error) {
	s.since = since
	return s.cands, s.err
}

func (f *pipelineFixture) scheduler() *Scheduler {
	return NewScheduler(nil, f.orch, f.store, []string{"pub"}, time.UTC, testutil.Logger())
}

func TestEnsureIssueCreatesOncePerDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler()

	existing, err := s.EnsureIssue(ctx, "pub", testDay)
	require.NoError(t, err)
	assert.Equal(t, f.issue.ID, existing.ID)

	next := testDay.AddDate(0, 0, 1)
	created, err := s.EnsureIssue(ctx, "pub", next)
	require.NoError(t, err)
	assert.NotEqual(t, f.issue.ID, created.ID)
	assert.Equal(t, domain.IssueStatusPending, created.Status)
	assert.Equal(t, "2025-03-15", created.DateKey())

	again, err := s.EnsureIssue(ctx, "pub", next)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestRunDayAssemblesTheDaysIssue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.scheduler().RunDay(ctx, testDay.Add(10*time.Hour)))

	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, issue.Status)
}

func TestRunDaySkipsFailedIssues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.MarkFailed(ctx, f.issue.ID, domain.Checkpoint{State: domain.StateFinalizing}, "earlier failure"))

	require.NoError(t, f.scheduler().RunDay(ctx, testDay.Add(10*time.Hour)))
	assert.Zero(t, f.gen.Calls(generation.TitlePromptKey))
	assert.Empty(t, f.alerter.Alerts())
}

func TestRunDayIngestsBeforeAssembling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	src := &stubSource{cands: []domain.Candidate{{
		ID: "fresh", PublicationID: "pub", Family: domain.FamilyArticle, Title: "Quantum chip breaks record",
		PublishedAt: testDay.Add(8 * time.Hour),
	}}}
	trigger := testDay.Add(10 * time.Hour)

	s := f.scheduler().WithIngester(NewIngester(src, f.store, 36*time.Hour, testutil.Logger()))
	require.NoError(t, s.RunDay(ctx, trigger))

	assert.Equal(t, trigger.Add(-36*time.Hour), src.since)
	assert.Equal(t, "Quantum chip breaks record", f.candidate(t, "fresh").Title)
	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, issue.Status)
}

func TestRunDayContinuesWhenIngestionFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	src := &stubSource{err: errors.New("listing unavailable")}

	s := f.scheduler().WithIngester(NewIngester(src, f.store, time.Hour, nil))
	require.NoError(t, s.RunDay(ctx, testDay.Add(10*time.Hour)))

	issue, err := f.store.GetIssue(ctx, f.issue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IssueStatusDraft, issue.Status)
}

func TestIngestCountsOnlyNewCandidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	src := &stubSource{cands: []domain.Candidate{
		{ID: "n1", PublicationID: "pub", Family: domain.FamilyArticle, Title: "One"},
		{ID: "n2", PublicationID: "pub", Family: domain.FamilyArticle, Title: "Two"},
	}}
	ing := NewIngester(src, store, time.Hour, nil)

	n, err := ing.Ingest(ctx, "pub", testDay)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ing.Ingest(ctx, "pub", testDay)
	require.NoError(t, err)
	assert.Zero(t, n)

	src.err = errors.New("timeout")
	_, err = ing.Ingest(ctx, "pub", testDay)
	assert.ErrorContains(t, err, "fetch candidates")
}

func TestCalendarDayUsesTheSchedulerZone(t *testing.T) {
	t.Parallel()

	plus3 := time.FixedZone("UTC+3", 3*60*60)
	trigger := time.Date(2025, 3, 14, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), calendarDay(trigger, plus3))
	assert.Equal(t, testDay, calendarDay(trigger, time.UTC))
}

func TestSchedulerWithoutDriverIsInert(t *testing.T) {
	t.Parallel()
	s := NewScheduler(nil, nil, nil, nil, nil, nil)

	assert.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

package modules_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/testutil"
)

var issue = domain.Issue{ID: "issue-1", PublicationID: "pub", Date: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)}

func TestActiveModulesSkipsInactiveAndSortsByDisplayOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	for _, m := range []domain.ContentModule{
		{ID: "zeta", DisplayOrder: 1, Active: true},
		{ID: "alpha", DisplayOrder: 1, Active: true},
		{ID: "first", DisplayOrder: 0, Active: true},
		{ID: "hidden", DisplayOrder: 0, Active: false},
	} {
		m.PublicationID = "pub"
		m.Family = domain.FamilyPrompt
		m.Name = m.ID
		m.Mode = domain.ModeRandom
		m.Count = 1
		require.NoError(t, store.SaveModule(ctx, m))
	}
	require.NoError(t, store.SaveModule(ctx, domain.ContentModule{
		ID: "other-pub", PublicationID: "elsewhere", Family: domain.FamilyPrompt, Name: "x", Active: true, Mode: domain.ModeRandom,
	}))

	mods, err := modules.NewRegistry(store, 0).ActiveModules(ctx, "pub")
	require.NoError(t, err)
	ids := make([]string, 0, len(mods))
	for _, m := range mods {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"first", "alpha", "zeta"}, ids)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := modules.NewRegistry(nil, 0)

	article, err := r.Resolve(domain.FamilyArticle)
	require.NoError(t, err)
	assert.True(t, article.NeedsGeneration)
	assert.True(t, article.UsesLookback)

	partner, err := r.Resolve(domain.FamilyPartnerRecommendation)
	require.NoError(t, err)
	assert.True(t, partner.RequiresModuleEligible)
	assert.False(t, partner.NeedsGeneration)

	_, err = r.Resolve(domain.Family("podcast"))
	assert.ErrorContains(t, err, "not registered")

	r.Register(modules.FamilyPolicy{Family: "podcast"})
	_, err = r.Resolve(domain.Family("podcast"))
	assert.NoError(t, err)
}

func TestWindowStartAndPooledFamilies(t *testing.T) {
	t.Parallel()

	r := modules.NewRegistry(nil, 36*time.Hour)
	assert.Equal(t, time.Date(2025, 3, 13, 12, 0, 0, 0, time.UTC), r.WindowStart(issue))
	assert.Equal(t, []domain.Family{domain.FamilyArticle}, r.PooledFamilies())
	assert.True(t, modules.NewRegistry(nil, 0).WindowStart(issue).IsZero())
}

func TestEligibleAppliesFamilyPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	fresh := issue.Date.Add(2 * time.Hour)
	stale := issue.Date.AddDate(0, 0, -3)
	for _, c := range []domain.Candidate{
		{ID: "a-fresh", Family: domain.FamilyArticle, PublishedAt: fresh},
		{ID: "a-stale", Family: domain.FamilyArticle, PublishedAt: stale},
		{ID: "a-excluded", Family: domain.FamilyArticle, PublishedAt: fresh, Excluded: true},
		{ID: "r-eligible", Family: domain.FamilyPartnerRecommendation, PublishedAt: stale, ModuleEligible: true},
		{ID: "r-plain", Family: domain.FamilyPartnerRecommendation, PublishedAt: stale},
	} {
		c.PublicationID = "pub"
		require.NoError(t, store.SaveCandidate(ctx, c))
	}
	r := modules.NewRegistry(store, 36*time.Hour)

	articles, err := r.Eligible(ctx, issue, domain.ContentModule{ID: "stories", Family: domain.FamilyArticle})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "a-fresh", articles[0].ID)

	partners, err := r.Eligible(ctx, issue, domain.ContentModule{ID: "partners", Family: domain.FamilyPartnerRecommendation})
	require.NoError(t, err)
	require.Len(t, partners, 1)
	assert.Equal(t, "r-eligible", partners[0].ID)
}

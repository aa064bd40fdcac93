package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/domain"
)

func TestNormalizeTitleFoldsCaseAccentsAndStopwords(t *testing.T) {
	t.Parallel()

	got := normalizeTitle("The Café Über-Release: Apple's New Chip!")
	want := map[string]struct{}{
		"cafe": {}, "uber": {}, "release": {}, "apple": {}, "s": {}, "new": {}, "chip": {},
	}
	assert.Equal(t, want, got)
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	a := normalizeTitle("OpenAI ships new reasoning model")
	b := normalizeTitle("OpenAI ships a new reasoning model")
	c := normalizeTitle("Nvidia quarterly earnings beat estimates")

	assert.Equal(t, 1.0, jaccard(a, b))
	assert.Zero(t, jaccard(a, c))
	assert.Zero(t, jaccard(normalizeTitle("the of"), normalizeTitle("and")))
}

func TestPartitionGroupsSimilarTitlesWithinAFamily(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	rated := func(total float64) *domain.Rating { return &domain.Rating{Total: total} }
	cands := []domain.Candidate{
		{ID: "a1", Family: domain.FamilyArticle, Title: "OpenAI ships new reasoning model", PublishedAt: base, Rating: rated(12)},
		{ID: "a2", Family: domain.FamilyArticle, Title: "Nvidia earnings beat estimates", PublishedAt: base},
		{ID: "a3", Family: domain.FamilyArticle, Title: "OpenAI Ships New Reasoning Model!", PublishedAt: base, Rating: rated(20)},
		{ID: "a4", Family: domain.FamilyArticle, Title: "OpenAI ships new reasoning model", PublishedAt: base.Add(-time.Hour), Rating: rated(12)},
		{ID: "p1", Family: domain.FamilyPrompt, Title: "OpenAI ships new reasoning model", PublishedAt: base},
	}

	groups := Partition(cands, DefaultThreshold)
	require.Len(t, groups, 3)

	assert.Equal(t, "a3", groups[0].Representative.ID, "highest score wins")
	dups := []string{}
	for _, d := range groups[0].Duplicates {
		dups = append(dups, d.ID)
	}
	assert.Equal(t, []string{"a4", "a1"}, dups, "ties fall back to earliest publish time")
	assert.Len(t, groups[0].Members(), 3)

	assert.Equal(t, "a2", groups[1].Representative.ID)
	assert.Empty(t, groups[1].Duplicates)
	assert.Equal(t, "p1", groups[2].Representative.ID, "families never merge")
}

func TestUnionFindIsTransitive(t *testing.T) {
	t.Parallel()

	uf := newUnionFind(4)
	uf.union(0, 1)
	uf.union(2, 3)
	uf.union(1, 3)
	for i := 1; i < 4; i++ {
		assert.Equal(t, uf.find(0), uf.find(i))
	}
}

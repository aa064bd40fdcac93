package dedup

import (
	"sort"

	"IssueAssembler/internal/domain"
)

// Group is one cluster of near-duplicate candidates.
type Group struct {
	Representative domain.Candidate
	Duplicates     []domain.Candidate
}

// Members returns the representative followed by its duplicates.
func (g Group) Members() []domain.Candidate {
	out := make([]domain.Candidate, 0, len(g.Duplicates)+1)
	out = append(out, g.Representative)
	return append(out, g.Duplicates...)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// linkSimilar merges candidates of the same family whose titles are near-identical.
func linkSimilar(cands []domain.Candidate, uf *unionFind, threshold float64) {
	tokens := make([]map[string]struct{}, len(cands))
	for i, c := range cands {
		tokens[i] = normalizeTitle(c.Title)
	}
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			if cands[i].Family != cands[j].Family {
				continue
			}
			if jaccard(tokens[i], tokens[j]) >= threshold {
				uf.union(i, j)
			}
		}
	}
}

// collect turns union-find roots into groups with a deterministic representative.
func collect(cands []domain.Candidate, uf *unionFind) []Group {
	buckets := map[int][]domain.Candidate{}
	var roots []int
	for i, c := range cands {
		r := uf.find(i)
		if _, ok := buckets[r]; !ok {
			roots = append(roots, r)
		}
		buckets[r] = append(buckets[r], c)
	}
	sort.Ints(roots)

	groups := make([]Group, 0, len(roots))
	for _, r := range roots {
		members := buckets[r]
		sort.SliceStable(members, func(i, j int) bool {
			return preferred(members[i], members[j])
		})
		groups = append(groups, Group{Representative: members[0], Duplicates: members[1:]})
	}
	return groups
}

// preferred orders by score desc, then earliest publish time, then id.
func preferred(a, b domain.Candidate) bool {
	sa, sb := ratingTotal(a), ratingTotal(b)
	if sa != sb {
		return sa > sb
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.Before(b.PublishedAt)
	}
	return a.ID < b.ID
}

func ratingTotal(c domain.Candidate) float64 {
	if c.Rating == nil {
		return 0
	}
	return c.Rating.Total
}

// Partition clusters candidates by title similarity without consulting the AI capability.
func Partition(cands []domain.Candidate, threshold float64) []Group {
	uf := newUnionFind(len(cands))
	linkSimilar(cands, uf, threshold)
	return collect(cands, uf)
}

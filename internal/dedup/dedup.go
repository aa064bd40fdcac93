// Package dedup clusters near-duplicate candidates before module selection so the
// same story is not scored or generated twice in one issue.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/ports"
)

// PromptKey is the generation prompt used for the similarity pass.
const PromptKey = "dedup"

// DefaultThreshold is the title-token Jaccard similarity treated as the same story.
const DefaultThreshold = 0.8

type aiItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

type aiRequest struct {
	Items []aiItem `json:"items"`
}

type aiGroup struct {
	Representative string   `json:"representative"`
	Duplicates     []string `json:"duplicates"`
}

type aiResponse struct {
	Groups *[]aiGroup `json:"groups"`
}

// Result reports how the candidate pool was partitioned.
type Result struct {
	Candidates int
	Groups     int
	Suppressed int
}

// Deduplicator partitions an issue's candidate pool and suppresses non-representatives.
type Deduplicator struct {
	store     ports.Store
	registry  *modules.Registry
	generator ports.Generator
	threshold float64
	logger    *slog.Logger
}

// New wires a deduplicator; generator may be nil to run the local title pass only.
func New(store ports.Store, registry *modules.Registry, generator ports.Generator, threshold float64, logger *slog.Logger) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		store:     store,
		registry:  registry,
		generator: generator,
		threshold: threshold,
		logger:    logger,
	}
}

// Run recomputes the issue's suppressions from scratch. Similarity-check errors fail the
// run so the orchestrator can retry instead of shipping duplicate stories.
func (d *Deduplicator) Run(ctx context.Context, issue domain.Issue) (Result, error) {
	if err := d.store.ClearSuppressions(ctx, issue.ID); err != nil {
		return Result{}, fmt.Errorf("clear suppressions: %w", err)
	}

	families := d.registry.PooledFamilies()
	if len(families) == 0 {
		return Result{}, nil
	}
	cands, err := d.store.ListCandidates(ctx, ports.CandidateFilter{
		PublicationID:  issue.PublicationID,
		Families:       families,
		PublishedSince: d.registry.WindowStart(issue),
		IssueID:        issue.ID,
		AvailableOnly:  true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("list pool: %w", err)
	}

	uf := newUnionFind(len(cands))
	linkSimilar(cands, uf, d.threshold)
	if d.generator != nil {
		if err := d.linkWithAI(ctx, cands, uf); err != nil {
			return Result{}, err
		}
	}

	groups := collect(cands, uf)
	var suppressions []ports.Suppression
	for _, g := range groups {
		for _, dup := range g.Duplicates {
			suppressions = append(suppressions, ports.Suppression{
				CandidateID:    dup.ID,
				Representative: g.Representative.ID,
			})
		}
	}
	if len(suppressions) > 0 {
		if err := d.store.Suppress(ctx, issue.ID, suppressions); err != nil {
			return Result{}, fmt.Errorf("persist suppressions: %w", err)
		}
	}

	d.logger.Info("deduplicated pool",
		"issue_id", issue.ID,
		"candidates", len(cands),
		"groups", len(groups),
		"suppressed", len(suppressions))
	return Result{Candidates: len(cands), Groups: len(groups), Suppressed: len(suppressions)}, nil
}

// linkWithAI asks the generator to cluster the current representatives of each family.
func (d *Deduplicator) linkWithAI(ctx context.Context, cands []domain.Candidate, uf *unionFind) error {
	index := make(map[string]int, len(cands))
	for i, c := range cands {
		index[c.ID] = i
	}

	byFamily := map[domain.Family][]aiItem{}
	var order []domain.Family
	for _, g := range collect(cands, uf) {
		rep := g.Representative
		if _, ok := byFamily[rep.Family]; !ok {
			order = append(order, rep.Family)
		}
		byFamily[rep.Family] = append(byFamily[rep.Family], aiItem{ID: rep.ID, Title: rep.Title, Summary: rep.Summary})
	}

	for _, family := range order {
		items := byFamily[family]
		if len(items) < 2 {
			continue
		}
		var resp aiResponse
		if err := d.generator.Generate(ctx, PromptKey, aiRequest{Items: items}, &resp); err != nil {
			return fmt.Errorf("similarity check for %s: %w", family, err)
		}
		if resp.Groups == nil {
			return fmt.Errorf("similarity check for %s: %w", family, domain.ErrMalformedResponse)
		}
		for _, g := range *resp.Groups {
			rep, ok := index[g.Representative]
			if !ok || cands[rep].Family != family {
				continue
			}
			for _, id := range g.Duplicates {
				dup, ok := index[id]
				if !ok || cands[dup].Family != family {
					continue
				}
				uf.union(rep, dup)
			}
		}
	}
	return nil
}

package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

// criterionRequest is the prompt context for scoring one criterion.
type criterionRequest struct {
	Criterion string `json:"criterion"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	SourceURL string `json:"source_url,omitempty"`
}

// CriterionResponse is the expected AI reply for one criterion.
type CriterionResponse struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

// Backfiller re-scores selected criteria of stored ratings.
type Backfiller struct {
	store     ports.Store
	generator ports.Generator
	logger    *slog.Logger
	now       func() time.Time
}

// NewBackfiller wires the datastore and AI capability.
func NewBackfiller(store ports.Store, generator ports.Generator, logger *slog.Logger) *Backfiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{store: store, generator: generator, logger: logger, now: time.Now}
}

// Rescore asks the generator only for the listed criterion numbers and recombines them
// with every stored score. It returns the number of candidates updated.
func (b *Backfiller) Rescore(ctx context.Context, moduleID string, candidateIDs []string, numbers []int) (int, error) {
	if b.generator == nil {
		return 0, fmt.Errorf("rescore: generator is not configured")
	}

	criteria, err := b.store.ListCriteria(ctx, moduleID)
	if err != nil {
		return 0, fmt.Errorf("load criteria: %w", err)
	}
	byNumber := make(map[int]domain.Criterion, len(criteria))
	for _, c := range criteria {
		byNumber[c.Number] = c
	}
	for _, n := range numbers {
		if _, ok := byNumber[n]; !ok {
			return 0, fmt.Errorf("criterion %d of module %s: %w", n, moduleID, domain.ErrCriterionNotFound)
		}
	}

	candidates, err := b.store.GetCandidates(ctx, candidateIDs)
	if err != nil {
		return 0, fmt.Errorf("load candidates: %w", err)
	}

	updated := 0
	for _, cand := range candidates {
		revised := make(map[int]float64, len(numbers))
		for _, n := range numbers {
			crit := byNumber[n]
			var resp CriterionResponse
			req := criterionRequest{
				Criterion: crit.Name,
				Title:     cand.Title,
				Summary:   cand.Summary,
				SourceURL: cand.SourceURL,
			}
			if err := b.generator.Generate(ctx, crit.PromptKey, req, &resp); err != nil {
				return updated, fmt.Errorf("score candidate %s criterion %d: %w", cand.ID, n, err)
			}
			if resp.Score == nil {
				return updated, fmt.Errorf("score candidate %s criterion %d: %w", cand.ID, n, domain.ErrMalformedResponse)
			}
			revised[n] = *resp.Score
		}

		var stored domain.Rating
		if cand.Rating != nil {
			stored = *cand.Rating
		}
		rating := Merge(stored, revised, criteria)
		rating.RatedAt = b.now()
		if err := b.store.SaveRating(ctx, cand.ID, rating); err != nil {
			return updated, fmt.Errorf("save rating %s: %w", cand.ID, err)
		}
		b.logger.Debug("candidate rescored", "candidate_id", cand.ID, "total", rating.Total)
		updated++
	}
	return updated, nil
}

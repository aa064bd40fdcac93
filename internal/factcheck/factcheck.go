// Package factcheck scores generated module content against its source candidate.
package factcheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"IssueAssembler/internal/content"
	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/generation"
	"IssueAssembler/internal/ports"
	"IssueAssembler/internal/scoring"
)

const (
	PromptKey = "fact_check"
	// DefaultPassThreshold is the minimum accuracy+compliance+quality out of 30.
	DefaultPassThreshold = 20.0
)

// Policy decides what a failed check means for final selection.
type Policy string

const (
	// PolicyAdvisory records the score and keeps the item.
	PolicyAdvisory Policy = "advisory"
	// PolicyExclude drops failed items during finalization.
	PolicyExclude Policy = "exclude"
)

// ParsePolicy defaults unknown values to advisory.
func ParsePolicy(value string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(value))) == PolicyExclude {
		return PolicyExclude
	}
	return PolicyAdvisory
}

// Request is the prompt context comparing generated text to its source.
type Request struct {
	Headline   string `json:"headline"`
	Generated  string `json:"generated"`
	Title      string `json:"source_title"`
	SourceText string `json:"source_text"`
	SourceURL  string `json:"source_url,omitempty"`
}

// Response is the AI reply; every sub-score is required.
type Response struct {
	Accuracy   *float64 `json:"accuracy"`
	Compliance *float64 `json:"compliance"`
	Quality    *float64 `json:"quality"`
	Reason     string   `json:"reason"`
}

// Result summarizes one fact-check step.
type Result struct {
	Checked int
	Passed  int
	Failed  int
}

// Checker runs fact-checks for a module's generated items.
type Checker struct {
	store     ports.Store
	generator ports.Generator
	batcher   generation.Batcher
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewChecker wires the fact checker.
func NewChecker(store ports.Store, generator ports.Generator, batcher generation.Batcher, threshold float64, logger *slog.Logger) *Checker {
	if threshold <= 0 {
		threshold = DefaultPassThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		store:     store,
		generator: generator,
		batcher:   batcher,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate converts a response into a stored fact-check.
func (c *Checker) Evaluate(resp Response) (domain.FactCheck, error) {
	if resp.Accuracy == nil || resp.Compliance == nil || resp.Quality == nil {
		return domain.FactCheck{}, domain.ErrMalformedResponse
	}
	fc := domain.FactCheck{
		Accuracy:   scoring.Clamp(*resp.Accuracy),
		Compliance: scoring.Clamp(*resp.Compliance),
		Quality:    scoring.Clamp(*resp.Quality),
		Reason:     strings.TrimSpace(resp.Reason),
		CheckedAt:  c.now(),
	}
	fc.Passed = fc.Total() >= c.threshold
	return fc, nil
}

// Check fact-checks every item that has a body but no recorded check. Failed checks are
// logged and stored; they never fail the step.
func (c *Checker) Check(ctx context.Context, issue domain.Issue, module domain.ContentModule) (Result, error) {
	items, err := c.store.ListItems(ctx, issue.ID, module.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list items: %w", err)
	}
	var pending []domain.ModuleItem
	var ids []string
	for _, it := range items {
		if it.Body != "" && it.FactCheck == nil {
			pending = append(pending, it)
			ids = append(ids, it.CandidateID)
		}
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	cands, err := c.store.GetCandidates(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("load sources: %w", err)
	}
	sources := make(map[string]domain.Candidate, len(cands))
	for _, cand := range cands {
		sources[cand.ID] = cand
	}

	var passed, failed atomic.Int64
	err = c.batcher.Run(ctx, len(pending), func(ctx context.Context, i int) error {
		item := pending[i]
		src := sources[item.CandidateID]
		req := Request{
			Headline:   item.Headline,
			Generated:  item.Body,
			Title:      src.Title,
			SourceText: content.Excerpt(src.Content, content.DefaultMaxRunes),
			SourceURL:  src.SourceURL,
		}
		if req.SourceText == "" {
			req.SourceText = content.PlainText(src.Summary)
		}

		var resp Response
		if err := c.generator.Generate(ctx, PromptKey, req, &resp); err != nil {
			return fmt.Errorf("fact-check %s: %w", item.CandidateID, err)
		}
		fc, err := c.Evaluate(resp)
		if err != nil {
			return fmt.Errorf("fact-check %s: %w", item.CandidateID, err)
		}
		if err := c.store.SaveFactCheck(ctx, item.ID, fc); err != nil {
			return fmt.Errorf("save fact-check %s: %w", item.CandidateID, err)
		}
		if fc.Passed {
			passed.Add(1)
			return nil
		}
		failed.Add(1)
		c.logger.Warn("fact-check failed",
			"issue_id", issue.ID,
			"module_id", module.ID,
			"candidate_id", item.CandidateID,
			"total", fc.Total(),
			"reason", fc.Reason)
		return nil
	})

	res := Result{Passed: int(passed.Load()), Failed: int(failed.Load())}
	res.Checked = res.Passed + res.Failed
	return res, err
}

// Package generation writes headlines and bodies for selected module items.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"IssueAssembler/internal/content"
	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/modules"
	"IssueAssembler/internal/ports"
)

const (
	TitlePromptKey = "article_title"
	BodyPromptKey  = "article_body"
)

// Half selects which slice of the pending bodies a step handles.
type Half int

const (
	FirstHalf Half = iota + 1
	SecondHalf
)

// ItemRequest is the prompt context for one module item.
type ItemRequest struct {
	Module    string `json:"module"`
	Headline  string `json:"headline,omitempty"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	Source    string `json:"source_text,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// TitleResponse is the AI reply for a headline.
type TitleResponse struct {
	Headline string `json:"headline"`
}

// BodyResponse is the AI reply for a full article.
type BodyResponse struct {
	Headline  string `json:"headline"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// Writer produces generated fields and persists each one as soon as it is returned, so
// a restarted step only sees items whose fields are still empty.
type Writer struct {
	store     ports.Store
	registry  *modules.Registry
	generator ports.Generator
	batcher   Batcher
	maxRunes  int
	logger    *slog.Logger
}

// NewWriter wires the content generator.
func NewWriter(store ports.Store, registry *modules.Registry, generator ports.Generator, batcher Batcher, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:     store,
		registry:  registry,
		generator: generator,
		batcher:   batcher,
		maxRunes:  content.DefaultMaxRunes,
		logger:    logger,
	}
}

// GenerateTitles fills every missing headline of the module's items.
func (w *Writer) GenerateTitles(ctx context.Context, issue domain.Issue, module domain.ContentModule) (int, error) {
	pending, sources, err := w.pending(ctx, issue, module, func(it domain.ModuleItem) bool {
		return it.Headline == ""
	})
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	var done atomic.Int64
	err = w.batcher.Run(ctx, len(pending), func(ctx context.Context, i int) error {
		item := pending[i]
		var resp TitleResponse
		if err := w.generator.Generate(ctx, TitlePromptKey, w.request(module, item, sources[item.CandidateID]), &resp); err != nil {
			return fmt.Errorf("generate title for %s: %w", item.CandidateID, err)
		}
		headline := strings.TrimSpace(resp.Headline)
		if headline == "" {
			return fmt.Errorf("generate title for %s: %w", item.CandidateID, domain.ErrMalformedResponse)
		}
		if err := w.store.SaveHeadline(ctx, item.ID, headline); err != nil {
			return fmt.Errorf("save title for %s: %w", item.CandidateID, err)
		}
		done.Add(1)
		return nil
	})
	return int(done.Load()), err
}

// GenerateBodies fills missing bodies. FirstHalf handles the first ⌈n/2⌉ pending items in
// selection order; SecondHalf handles everything still pending.
func (w *Writer) GenerateBodies(ctx context.Context, issue domain.Issue, module domain.ContentModule, half Half) (int, error) {
	pending, sources, err := w.pending(ctx, issue, module, func(it domain.ModuleItem) bool {
		return it.Body == ""
	})
	if err != nil || len(pending) == 0 {
		return 0, err
	}
	if half == FirstHalf {
		pending = pending[:(len(pending)+1)/2]
	}

	var done atomic.Int64
	err = w.batcher.Run(ctx, len(pending), func(ctx context.Context, i int) error {
		item := pending[i]
		var resp BodyResponse
		if err := w.generator.Generate(ctx, BodyPromptKey, w.request(module, item, sources[item.CandidateID]), &resp); err != nil {
			return fmt.Errorf("generate body for %s: %w", item.CandidateID, err)
		}
		body := strings.TrimSpace(resp.Content)
		if body == "" {
			return fmt.Errorf("generate body for %s: %w", item.CandidateID, domain.ErrMalformedResponse)
		}
		headline := item.Headline
		if headline == "" {
			headline = strings.TrimSpace(resp.Headline)
		}
		words := resp.WordCount
		if words <= 0 {
			words = len(strings.Fields(body))
		}
		if err := w.store.SaveBody(ctx, item.ID, headline, body, words); err != nil {
			return fmt.Errorf("save body for %s: %w", item.CandidateID, err)
		}
		done.Add(1)
		return nil
	})
	return int(done.Load()), err
}

// pending re-derives remaining work from the datastore rather than from memory.
func (w *Writer) pending(ctx context.Context, issue domain.Issue, module domain.ContentModule, missing func(domain.ModuleItem) bool) ([]domain.ModuleItem, map[string]domain.Candidate, error) {
	policy, err := w.registry.Resolve(module.Family)
	if err != nil {
		return nil, nil, err
	}
	if !policy.NeedsGeneration {
		return nil, nil, nil
	}

	items, err := w.store.ListItems(ctx, issue.ID, module.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list items: %w", err)
	}
	var pending []domain.ModuleItem
	var ids []string
	for _, it := range items {
		if missing(it) {
			pending = append(pending, it)
			ids = append(ids, it.CandidateID)
		}
	}
	if len(pending) == 0 {
		return nil, nil, nil
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Position < pending[j].Position })

	cands, err := w.store.GetCandidates(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load sources: %w", err)
	}
	sources := make(map[string]domain.Candidate, len(cands))
	for _, c := range cands {
		sources[c.ID] = c
	}
	return pending, sources, nil
}

func (w *Writer) request(module domain.ContentModule, item domain.ModuleItem, src domain.Candidate) ItemRequest {
	return ItemRequest{
		Module:    module.Name,
		Headline:  item.Headline,
		Title:     src.Title,
		Summary:   content.PlainText(src.Summary),
		Source:    content.Excerpt(src.Content, w.maxRunes),
		SourceURL: src.SourceURL,
	}
}

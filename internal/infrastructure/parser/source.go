package parser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"IssueAssembler/internal/config"
	"IssueAssembler/internal/domain"
)

// Category is one listing URL of a source.
type Category struct {
	Name string
	URL  string
}

// Request is the input handed to a scanner strategy.
type Request struct {
	SourceName    string
	PublicationID string
	Since         time.Time
	Categories    []Category
	Options       map[string]string
}

// Scanner is a site-specific extraction strategy.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Candidate, error)
}

// Source runs the configured scanners for every source of a publication.
type Source struct {
	scanners map[string]Scanner
	sources  []config.SourceConfig
	logger   *slog.Logger
}

// NewSource wires scanner strategies with config-defined sources.
func NewSource(sources []config.SourceConfig, logger *slog.Logger, scanners ...Scanner) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Scanner, len(scanners))
	for _, sc := range scanners {
		byName[sc.Name()] = sc
	}
	return &Source{scanners: byName, sources: sources, logger: logger}
}

// Fetch returns candidates for publicationID published since the given time.
func (s *Source) Fetch(ctx context.Context, publicationID string, since time.Time) ([]domain.Candidate, error) {
	var aggregated []domain.Candidate
	for _, src := range s.sources {
		if src.Publication != publicationID {
			continue
		}
		strategy, ok := s.scanners[src.Scanner]
		if !ok {
			return nil, fmt.Errorf("source %s: unknown scanner %q", src.Name, src.Scanner)
		}

		cats := make([]Category, 0, len(src.Categories))
		for _, c := range src.Categories {
			cats = append(cats, Category{Name: c.Name, URL: c.URL})
		}
		results, err := strategy.Scan(ctx, Request{
			SourceName:    src.Name,
			PublicationID: publicationID,
			Since:         since,
			Categories:    cats,
			Options:       src.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("scan source %s: %w", src.Name, err)
		}
		s.logger.Debug("source produced candidates", "source", src.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}
	return aggregated, nil
}

package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

// CandidateSource yields fresh candidates for a publication.
type CandidateSource interface {
	Fetch(ctx context.Context, publicationID string, since time.Time) ([]domain.Candidate, error)
}

// Ingester feeds scanned listings into the candidate pool.
type Ingester struct {
	source   CandidateSource
	sink     ports.CandidateSink
	lookback time.Duration
	logger   *slog.Logger
}

// NewIngester wires a source to the store.
func NewIngester(source CandidateSource, sink ports.CandidateSink, lookback time.Duration, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{source: source, sink: sink, lookback: lookback, logger: logger}
}

// Ingest stores candidates published within the lookback before now and returns how many were new.
func (i *Ingester) Ingest(ctx context.Context, publicationID string, now time.Time) (int, error) {
	cands, err := i.source.Fetch(ctx, publicationID, now.Add(-i.lookback))
	if err != nil {
		return 0, fmt.Errorf("fetch candidates: %w", err)
	}
	added := 0
	for _, c := range cands {
		isNew, err := i.sink.IngestCandidate(ctx, c)
		if err != nil {
			return added, err
		}
		if isNew {
			added++
		}
	}
	i.logger.Info("candidates ingested", "publication_id", publicationID, "fetched", len(cands), "added", added)
	return added, nil
}

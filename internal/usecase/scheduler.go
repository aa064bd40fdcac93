package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

// Scheduler wires the cron-like driver with daily issue creation and assembly.
type Scheduler struct {
	driver       ports.Scheduler
	orchestrator *Orchestrator
	issues       ports.IssueRepository
	publications []string
	location     *time.Location
	logger       *slog.Logger
	ingester     *Ingester
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, orchestrator *Orchestrator, issues ports.IssueRepository, publications []string, location *time.Location, logger *slog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:       driver,
		orchestrator: orchestrator,
		issues:       issues,
		publications: publications,
		location:     location,
		logger:       logger,
	}
}

// WithIngester makes every run refresh the candidate pool before assembling.
func (s *Scheduler) WithIngester(ingester *Ingester) *Scheduler {
	s.ingester = ingester
	return s
}

// Start registers the daily job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.orchestrator == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if err := s.RunDay(ctx, trigger); err != nil {
			s.logger.Error("scheduled assembly", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

// RunDay ensures each publication has an issue for the day and assembles it.
// One publication failing does not stop the others.
func (s *Scheduler) RunDay(ctx context.Context, trigger time.Time) error {
	day := calendarDay(trigger, s.location)
	var errs []error
	for _, pub := range s.publications {
		if s.ingester != nil {
			if _, err := s.ingester.Ingest(ctx, pub, trigger); err != nil {
				s.logger.Warn("ingest failed, assembling from existing pool", "publication_id", pub, "error", err)
			}
		}
		issue, err := s.EnsureIssue(ctx, pub, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("publication %s: %w", pub, err))
			continue
		}
		if issue.Status == domain.IssueStatusFailed {
			s.logger.Warn("skipping failed issue until reprocessed", "issue_id", issue.ID, "publication_id", pub)
			continue
		}
		if _, err := s.orchestrator.Run(ctx, issue.ID); err != nil {
			errs = append(errs, fmt.Errorf("assemble issue %s: %w", issue.ID, err))
		}
	}
	return errors.Join(errs...)
}

// EnsureIssue returns the publication's issue for the day, creating it when absent.
func (s *Scheduler) EnsureIssue(ctx context.Context, publicationID string, day time.Time) (domain.Issue, error) {
	issue, err := s.issues.FindIssue(ctx, publicationID, day)
	if err == nil {
		return issue, nil
	}
	if !errors.Is(err, domain.ErrIssueNotFound) {
		return domain.Issue{}, fmt.Errorf("find issue: %w", err)
	}

	issue = domain.Issue{
		ID:            uuid.NewString(),
		PublicationID: publicationID,
		Date:          day,
		Status:        domain.IssueStatusPending,
		Checkpoint:    domain.Checkpoint{State: domain.StateNotStarted},
	}
	err = s.issues.CreateIssue(ctx, issue)
	switch {
	case err == nil:
		s.logger.Info("issue created", "issue_id", issue.ID, "publication_id", publicationID, "date", issue.DateKey())
		return issue, nil
	case errors.Is(err, domain.ErrDuplicateIssue):
		return s.issues.FindIssue(ctx, publicationID, day)
	default:
		return domain.Issue{}, fmt.Errorf("create issue: %w", err)
	}
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

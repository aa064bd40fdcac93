package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"IssueAssembler/internal/domain"
)

var issueColumns = []string{
	"id", "publication_id", "issue_date", "status", "workflow_state", "workflow_module",
	"workflow_error", "subject_line", "welcome_intro", "welcome_tagline", "welcome_summary",
	"poll_snapshot", "created_at", "updated_at",
}

// CreateIssue inserts a new issue row; a second open issue for the same day is rejected.
func (s *SQLStore) CreateIssue(ctx context.Context, issue domain.Issue) error {
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.Status == "" {
		issue.Status = domain.IssueStatusPending
	}
	if issue.Checkpoint.State == "" {
		issue.Checkpoint.State = domain.StateNotStarted
	}
	stmt := s.sb.Insert("issues").
		Columns(issueColumns...).
		Values(
			issue.ID, issue.PublicationID, issue.DateKey(), string(issue.Status),
			string(issue.Checkpoint.State), issue.Checkpoint.ModuleIndex,
			nullString(issue.WorkflowError), nullString(issue.SubjectLine),
			nullString(issue.Welcome.Intro), nullString(issue.Welcome.Tagline), nullString(issue.Welcome.Summary),
			nullString(issue.PollSnapshot), issue.CreatedAt.UTC(), now,
		)
	if _, err := execute(ctx, s.db, stmt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create issue %s for %s: %w", issue.PublicationID, issue.DateKey(), domain.ErrDuplicateIssue)
		}
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// GetIssue loads one issue by id.
func (s *SQLStore) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(issueColumns...).From("issues").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Issue{}, err
	}
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Issue{}, fmt.Errorf("issue %s: %w", id, domain.ErrIssueNotFound)
	}
	if err != nil {
		return domain.Issue{}, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

// FindIssue returns the open issue for a publication and calendar day.
func (s *SQLStore) FindIssue(ctx context.Context, publicationID string, day time.Time) (domain.Issue, error) {
	key := day.Format(time.DateOnly)
	stmt := s.sb.Select(issueColumns...).From("issues").
		Where(sq.Eq{"publication_id": publicationID, "issue_date": key}).
		Where(sq.NotEq{"status": string(domain.IssueStatusSent)}).
		OrderBy("created_at DESC").
		Limit(1)
	row, err := queryRow(ctx, s.db, stmt)
	if err != nil {
		return domain.Issue{}, err
	}
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Issue{}, fmt.Errorf("issue %s/%s: %w", publicationID, key, domain.ErrIssueNotFound)
	}
	if err != nil {
		return domain.Issue{}, fmt.Errorf("find issue: %w", err)
	}
	return issue, nil
}

// SaveCheckpoint records the workflow position together with the issue status. A failed
// issue is left untouched and reported as ErrIssueFailed; only ResetWorkflow revives it.
func (s *SQLStore) SaveCheckpoint(ctx context.Context, issueID string, status domain.IssueStatus, cp domain.Checkpoint) error {
	stmt := s.sb.Update("issues").
		Set("status", string(status)).
		Set("workflow_state", string(cp.State)).
		Set("workflow_module", cp.ModuleIndex).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": issueID}).
		Where(sq.NotEq{"status": string(domain.IssueStatusFailed)})
	res, err := execute(ctx, s.db, stmt)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", issueID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetIssue(ctx, issueID); err != nil {
		return err
	}
	return fmt.Errorf("issue %s: %w", issueID, domain.ErrIssueFailed)
}

// MarkFailed moves the issue to failed and keeps the step it failed in.
func (s *SQLStore) MarkFailed(ctx context.Context, issueID string, cp domain.Checkpoint, cause string) error {
	stmt := s.sb.Update("issues").
		Set("status", string(domain.IssueStatusFailed)).
		Set("workflow_state", string(domain.StateFailed)).
		Set("workflow_module", cp.ModuleIndex).
		Set("workflow_error", fmt.Sprintf("%s: %s", cp, cause)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": issueID})
	return s.updateIssue(ctx, issueID, stmt)
}

// ResetWorkflow rewinds the issue so the pipeline starts over.
func (s *SQLStore) ResetWorkflow(ctx context.Context, issueID string) error {
	stmt := s.sb.Update("issues").
		Set("status", string(domain.IssueStatusProcessing)).
		Set("workflow_state", string(domain.StateNotStarted)).
		Set("workflow_module", 0).
		Set("workflow_error", nil).
		Set("subject_line", nil).
		Set("welcome_intro", nil).
		Set("welcome_tagline", nil).
		Set("welcome_summary", nil).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": issueID})
	return s.updateIssue(ctx, issueID, stmt)
}

// SaveIssueContent stores the generated subject line and welcome text.
func (s *SQLStore) SaveIssueContent(ctx context.Context, issueID, subjectLine string, welcome domain.WelcomeText) error {
	stmt := s.sb.Update("issues").
		Set("subject_line", nullString(subjectLine)).
		Set("welcome_intro", nullString(welcome.Intro)).
		Set("welcome_tagline", nullString(welcome.Tagline)).
		Set("welcome_summary", nullString(welcome.Summary)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": issueID})
	return s.updateIssue(ctx, issueID, stmt)
}

func (s *SQLStore) updateIssue(ctx context.Context, issueID string, stmt sq.UpdateBuilder) error {
	res, err := execute(ctx, s.db, stmt)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", issueID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("issue %s: %w", issueID, domain.ErrIssueNotFound)
	}
	return nil
}

func scanIssue(row *sql.Row) (domain.Issue, error) {
	var (
		issue                   domain.Issue
		date, status, state     string
		errText, subject, poll  sql.NullString
		intro, tagline, summary sql.NullString
		createdAt, updatedAt    time.Time
	)
	if err := row.Scan(
		&issue.ID, &issue.PublicationID, &date, &status, &state, &issue.Checkpoint.ModuleIndex,
		&errText, &subject, &intro, &tagline, &summary, &poll, &createdAt, &updatedAt,
	); err != nil {
		return domain.Issue{}, err
	}
	day, err := parseDay(date)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.Date = day
	issue.Status = domain.IssueStatus(status)
	issue.Checkpoint.State = domain.WorkflowState(state)
	issue.WorkflowError = errText.String
	issue.SubjectLine = subject.String
	issue.Welcome = domain.WelcomeText{Intro: intro.String, Tagline: tagline.String, Summary: summary.String}
	issue.PollSnapshot = poll.String
	issue.CreatedAt = createdAt
	issue.UpdatedAt = updatedAt
	return issue, nil
}

func parseDay(value string) (time.Time, error) {
	if len(value) > len(time.DateOnly) {
		value = value[:len(time.DateOnly)]
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse issue date %q: %w", value, err)
	}
	return day, nil
}

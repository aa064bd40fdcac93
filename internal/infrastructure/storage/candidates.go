package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

var candidateColumns = []string{
	"c.id", "c.publication_id", "c.family", "c.code", "c.title", "c.summary", "c.content",
	"c.source_url", "c.published_at", "c.priority", "c.excluded", "c.module_eligible",
	"c.assigned_issue_id", "c.assigned_module_id", "c.suppressed_issue_id", "c.duplicate_of",
	"r.scores", "r.weights", "r.total", "r.rated_at",
}

func (s *SQLStore) candidateSelect() sq.SelectBuilder {
	return s.sb.Select(candidateColumns...).
		From("candidates c").
		LeftJoin("ratings r ON r.candidate_id = c.id")
}

// ListCandidates pages through the candidates matching filter ordered by id.
func (s *SQLStore) ListCandidates(ctx context.Context, filter ports.CandidateFilter) ([]domain.Candidate, error) {
	base := s.candidateSelect()
	if filter.PublicationID != "" {
		base = base.Where(sq.Eq{"c.publication_id": filter.PublicationID})
	}
	if len(filter.Families) > 0 {
		families := make([]string, len(filter.Families))
		for i, f := range filter.Families {
			families[i] = string(f)
		}
		base = base.Where(sq.Eq{"c.family": families})
	}
	if !filter.PublishedSince.IsZero() {
		base = base.Where(sq.GtOrEq{"c.published_at": filter.PublishedSince.UTC()})
	}
	if !filter.IncludeExcluded {
		base = base.Where(sq.Eq{"c.excluded": false})
	}
	if filter.ModuleEligibleOnly {
		base = base.Where(sq.Eq{"c.module_eligible": true})
	}
	if filter.AvailableOnly {
		if filter.IssueID != "" && filter.ModuleID != "" {
			base = base.Where(sq.Or{
				sq.Eq{"c.assigned_issue_id": nil},
				sq.Eq{"c.assigned_issue_id": filter.IssueID, "c.assigned_module_id": filter.ModuleID},
			})
		} else {
			base = base.Where(sq.Eq{"c.assigned_issue_id": nil})
		}
	}
	if filter.ExcludeSuppressed && filter.IssueID != "" {
		base = base.Where(sq.Or{
			sq.Eq{"c.suppressed_issue_id": nil},
			sq.NotEq{"c.suppressed_issue_id": filter.IssueID},
		})
	}

	var (
		out   []domain.Candidate
		after string
	)
	for {
		page := base.OrderBy("c.id").Limit(uint64(s.pageSize))
		if after != "" {
			page = page.Where(sq.Gt{"c.id": after})
		}
		batch, err := s.scanCandidates(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		out = append(out, batch...)
		if len(batch) < s.pageSize {
			return out, nil
		}
		after = batch[len(batch)-1].ID
	}
}

// GetCandidates loads candidates by id; unknown ids are skipped.
func (s *SQLStore) GetCandidates(ctx context.Context, ids []string) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for _, chunk := range s.chunks(ids) {
		batch, err := s.scanCandidates(ctx, s.candidateSelect().Where(sq.Eq{"c.id": chunk}).OrderBy("c.id"))
		if err != nil {
			return nil, fmt.Errorf("get candidates: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// ClearSuppressions forgets every duplicate mark recorded for the issue.
func (s *SQLStore) ClearSuppressions(ctx context.Context, issueID string) error {
	stmt := s.sb.Update("candidates").
		Set("suppressed_issue_id", nil).
		Set("duplicate_of", nil).
		Where(sq.Eq{"suppressed_issue_id": issueID})
	if _, err := execute(ctx, s.db, stmt); err != nil {
		return fmt.Errorf("clear suppressions for %s: %w", issueID, err)
	}
	return nil
}

// Suppress marks duplicates of the issue in one transaction.
func (s *SQLStore) Suppress(ctx context.Context, issueID string, suppressions []ports.Suppression) error {
	if len(suppressions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, sup := range suppressions {
			stmt := s.sb.Update("candidates").
				Set("suppressed_issue_id", issueID).
				Set("duplicate_of", sup.Representative).
				Where(sq.Eq{"id": sup.CandidateID})
			if _, err := execute(ctx, tx, stmt); err != nil {
				return fmt.Errorf("suppress %s: %w", sup.CandidateID, err)
			}
		}
		return nil
	})
}

// Claim assigns the free ids to the module and reports every id the module holds afterwards.
func (s *SQLStore) Claim(ctx context.Context, issueID, moduleID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	owned := make(map[string]struct{}, len(ids))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range s.chunks(ids) {
			stmt := s.sb.Update("candidates").
				Set("assigned_issue_id", issueID).
				Set("assigned_module_id", moduleID).
				Where(sq.Eq{"id": chunk}).
				Where(sq.Or{
					sq.Eq{"assigned_issue_id": nil},
					sq.Eq{"assigned_issue_id": issueID, "assigned_module_id": moduleID},
				})
			if _, err := execute(ctx, tx, stmt); err != nil {
				return fmt.Errorf("claim candidates: %w", err)
			}
			rows, err := query(ctx, tx, s.sb.Select("id").From("candidates").
				Where(sq.Eq{"id": chunk, "assigned_issue_id": issueID, "assigned_module_id": moduleID}))
			if err != nil {
				return fmt.Errorf("read claims: %w", err)
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return fmt.Errorf("scan claim: %w", err)
				}
				owned[id] = struct{}{}
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return fmt.Errorf("read claims: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]string, 0, len(owned))
	for _, id := range ids {
		if _, ok := owned[id]; ok {
			claimed = append(claimed, id)
			delete(owned, id)
		}
	}
	return claimed, nil
}

// Release frees every candidate the module holds for the issue except keep.
func (s *SQLStore) Release(ctx context.Context, issueID, moduleID string, keep []string) (int, error) {
	stmt := s.sb.Update("candidates").
		Set("assigned_issue_id", nil).
		Set("assigned_module_id", nil).
		Where(sq.Eq{"assigned_issue_id": issueID, "assigned_module_id": moduleID})
	if len(keep) > 0 {
		stmt = stmt.Where(sq.NotEq{"id": keep})
	}
	res, err := execute(ctx, s.db, stmt)
	if err != nil {
		return 0, fmt.Errorf("release candidates: %w", err)
	}
	return rowsAffected(res)
}

// ReleaseIssue frees every candidate held by any module of the issue.
func (s *SQLStore) ReleaseIssue(ctx context.Context, issueID string) (int, error) {
	stmt := s.sb.Update("candidates").
		Set("assigned_issue_id", nil).
		Set("assigned_module_id", nil).
		Where(sq.Eq{"assigned_issue_id": issueID})
	res, err := execute(ctx, s.db, stmt)
	if err != nil {
		return 0, fmt.Errorf("release issue %s: %w", issueID, err)
	}
	return rowsAffected(res)
}

// SaveRating upserts the candidate's per-criterion scores.
func (s *SQLStore) SaveRating(ctx context.Context, candidateID string, rating domain.Rating) error {
	scores, err := encodeJSON(rating.Scores)
	if err != nil {
		return err
	}
	var weights sql.NullString
	if len(rating.Weights) > 0 {
		raw, err := encodeJSON(rating.Weights)
		if err != nil {
			return err
		}
		weights = sql.NullString{String: raw, Valid: true}
	}
	stmt := s.sb.Insert("ratings").
		Columns("candidate_id", "scores", "weights", "total", "rated_at").
		Values(candidateID, scores, weights, rating.Total, nullTime(rating.RatedAt)).
		Suffix(`ON CONFLICT (candidate_id) DO UPDATE SET
			scores = EXCLUDED.scores,
			weights = EXCLUDED.weights,
			total = EXCLUDED.total,
			rated_at = EXCLUDED.rated_at`)
	if _, err := execute(ctx, s.db, stmt); err != nil {
		return fmt.Errorf("save rating %s: %w", candidateID, err)
	}
	return nil
}

// SaveCandidate inserts or replaces a candidate; assignment and suppression columns are left alone.
func (s *SQLStore) SaveCandidate(ctx context.Context, c domain.Candidate) error {
	stmt := s.sb.Insert("candidates").
		Columns("id", "publication_id", "family", "code", "title", "summary", "content",
			"source_url", "published_at", "priority", "excluded", "module_eligible").
		Values(c.ID, c.PublicationID, string(c.Family), c.Code, c.Title, c.Summary, c.Content,
			c.SourceURL, nullTime(c.PublishedAt), c.Priority, c.Excluded, c.ModuleEligible).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			publication_id = EXCLUDED.publication_id,
			family = EXCLUDED.family,
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			content = EXCLUDED.content,
			source_url = EXCLUDED.source_url,
			published_at = EXCLUDED.published_at,
			priority = EXCLUDED.priority,
			excluded = EXCLUDED.excluded,
			module_eligible = EXCLUDED.module_eligible`)
	if _, err := execute(ctx, s.db, stmt); err != nil {
		return fmt.Errorf("save candidate %s: %w", c.ID, err)
	}
	if c.Rating != nil {
		return s.SaveRating(ctx, c.ID, *c.Rating)
	}
	return nil
}

// IngestCandidate inserts a candidate only when its id is unknown, leaving operator edits intact.
func (s *SQLStore) IngestCandidate(ctx context.Context, c domain.Candidate) (bool, error) {
	stmt := s.sb.Insert("candidates").
		Columns("id", "publication_id", "family", "code", "title", "summary", "content",
			"source_url", "published_at", "priority", "excluded", "module_eligible").
		Values(c.ID, c.PublicationID, string(c.Family), c.Code, c.Title, c.Summary, c.Content,
			c.SourceURL, nullTime(c.PublishedAt), c.Priority, c.Excluded, c.ModuleEligible).
		Suffix("ON CONFLICT (id) DO NOTHING")
	res, err := execute(ctx, s.db, stmt)
	if err != nil {
		return false, fmt.Errorf("ingest candidate %s: %w", c.ID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) scanCandidates(ctx context.Context, stmt sq.SelectBuilder) ([]domain.Candidate, error) {
	rows, err := query(ctx, s.db, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			c                             domain.Candidate
			family                        string
			published, ratedAt            sql.NullTime
			assignedIssue, assignedModule sql.NullString
			suppressedIssue, duplicateOf  sql.NullString
			scores, weights               sql.NullString
			total                         sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.PublicationID, &family, &c.Code, &c.Title, &c.Summary, &c.Content,
			&c.SourceURL, &published, &c.Priority, &c.Excluded, &c.ModuleEligible,
			&assignedIssue, &assignedModule, &suppressedIssue, &duplicateOf,
			&scores, &weights, &total, &ratedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Family = domain.Family(family)
		if published.Valid {
			c.PublishedAt = published.Time
		}
		c.AssignedIssueID = assignedIssue.String
		c.AssignedModuleID = assignedModule.String
		c.SuppressedIssueID = suppressedIssue.String
		c.DuplicateOf = duplicateOf.String
		if scores.Valid {
			rating, err := decodeRating(scores.String, weights.String, total.Float64, ratedAt)
			if err != nil {
				return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
			}
			c.Rating = &rating
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeRating(scores, weights string, total float64, ratedAt sql.NullTime) (domain.Rating, error) {
	rating := domain.Rating{Total: total}
	if err := json.Unmarshal([]byte(scores), &rating.Scores); err != nil {
		return domain.Rating{}, fmt.Errorf("decode scores: %w", err)
	}
	if weights != "" {
		if err := json.Unmarshal([]byte(weights), &rating.Weights); err != nil {
			return domain.Rating{}, fmt.Errorf("decode weights: %w", err)
		}
	}
	if ratedAt.Valid {
		rating.RatedAt = ratedAt.Time
	}
	return rating, nil
}

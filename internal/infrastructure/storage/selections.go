package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"IssueAssembler/internal/domain"
)

var itemColumns = []string{
	"id", "issue_id", "module_id", "candidate_id", "item_position", "headline", "body", "word_count",
	"fc_accuracy", "fc_compliance", "fc_quality", "fc_passed", "fc_reason", "fc_checked_at",
	"item_rank", "is_active",
}

// GetSelection returns the stored selection row, reporting false when none exists.
func (s *SQLStore) GetSelection(ctx context.Context, issueID, moduleID string) (domain.ModuleSelection, bool, error) {
	stmt := s.sb.Select("issue_id", "module_id", "selection_mode", "candidate_ids", "pool_size",
		"cursor_start", "cursor_advanced", "selected_at", "used_at").
		From("module_selections").
		Where(sq.Eq{"issue_id": issueID, "module_id": moduleID})
	rows, err := query(ctx, s.db, stmt)
	if err != nil {
		return domain.ModuleSelection{}, false, fmt.Errorf("get selection: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.ModuleSelection{}, false, rows.Err()
	}

	var (
		sel       domain.ModuleSelection
		mode, ids string
		usedAt    sql.NullTime
	)
	if err := rows.Scan(&sel.IssueID, &sel.ModuleID, &mode, &ids, &sel.PoolSize, &sel.Cursor,
		&sel.CursorAdvanced, &sel.SelectedAt, &usedAt); err != nil {
		return domain.ModuleSelection{}, false, fmt.Errorf("scan selection: %w", err)
	}
	if sel.Mode, err = domain.ParseSelectionMode(mode); err != nil {
		return domain.ModuleSelection{}, false, fmt.Errorf("selection %s/%s: %w", issueID, moduleID, err)
	}
	if sel.CandidateIDs, err = decodeIDs(ids); err != nil {
		return domain.ModuleSelection{}, false, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		sel.UsedAt = &t
	}
	return sel, true, nil
}

// SaveSelection upserts the selection row for (issue, module).
func (s *SQLStore) SaveSelection(ctx context.Context, sel domain.ModuleSelection) error {
	ids := sel.CandidateIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := encodeJSON(ids)
	if err != nil {
		return err
	}
	var usedAt sql.NullTime
	if sel.UsedAt != nil {
		usedAt = nullTime(*sel.UsedAt)
	}
	stmt := s.sb.Insert("module_selections").
		Columns("issue_id", "module_id", "selection_mode", "candidate_ids", "pool_size",
			"cursor_start", "cursor_advanced", "selected_at", "used_at").
		Values(sel.IssueID, sel.ModuleID, sel.Mode.String(), encoded, sel.PoolSize,
			sel.Cursor, sel.CursorAdvanced, sel.SelectedAt.UTC(), usedAt).
		Suffix(`ON CONFLICT (issue_id, module_id) DO UPDATE SET
			selection_mode = EXCLUDED.selection_mode,
			candidate_ids = EXCLUDED.candidate_ids,
			pool_size = EXCLUDED.pool_size,
			cursor_start = EXCLUDED.cursor_start,
			cursor_advanced = EXCLUDED.cursor_advanced,
			selected_at = EXCLUDED.selected_at,
			used_at = EXCLUDED.used_at`)
	if _, err := execute(ctx, s.db, stmt); err != nil {
		return fmt.Errorf("save selection %s/%s: %w", sel.IssueID, sel.ModuleID, err)
	}
	return nil
}

// ReplaceItems swaps the module's working items for the given set.
func (s *SQLStore) ReplaceItems(ctx context.Context, issueID, moduleID string, items []domain.ModuleItem) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		del := s.sb.Delete("module_items").Where(sq.Eq{"issue_id": issueID, "module_id": moduleID})
		if _, err := execute(ctx, tx, del); err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		for _, it := range items {
			stmt := s.sb.Insert("module_items").
				Columns("id", "issue_id", "module_id", "candidate_id", "item_position",
					"headline", "body", "word_count", "item_rank", "is_active").
				Values(it.ID, issueID, moduleID, it.CandidateID, it.Position,
					nullString(it.Headline), nullString(it.Body), it.WordCount, it.Rank, it.Active)
			if _, err := execute(ctx, tx, stmt); err != nil {
				return fmt.Errorf("insert item %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

// ListItems returns the module's items in selection order.
func (s *SQLStore) ListItems(ctx context.Context, issueID, moduleID string) ([]domain.ModuleItem, error) {
	stmt := s.sb.Select(itemColumns...).From("module_items").
		Where(sq.Eq{"issue_id": issueID, "module_id": moduleID}).
		OrderBy("item_position", "id")
	rows, err := query(ctx, s.db, stmt)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []domain.ModuleItem
	for rows.Next() {
		var (
			it                            domain.ModuleItem
			headline, body, reason        sql.NullString
			accuracy, compliance, quality sql.NullFloat64
			passed                        sql.NullBool
			checkedAt                     sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.IssueID, &it.ModuleID, &it.CandidateID, &it.Position,
			&headline, &body, &it.WordCount, &accuracy, &compliance, &quality, &passed, &reason,
			&checkedAt, &it.Rank, &it.Active); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Headline = headline.String
		it.Body = body.String
		if passed.Valid {
			it.FactCheck = &domain.FactCheck{
				Accuracy:   accuracy.Float64,
				Compliance: compliance.Float64,
				Quality:    quality.Float64,
				Passed:     passed.Bool,
				Reason:     reason.String,
				CheckedAt:  checkedAt.Time,
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SaveHeadline stores a generated headline.
func (s *SQLStore) SaveHeadline(ctx context.Context, itemID, headline string) error {
	return s.updateItem(ctx, itemID, s.sb.Update("module_items").
		Set("headline", nullString(headline)).
		Where(sq.Eq{"id": itemID}))
}

// SaveBody stores a generated body; the headline is only filled when still empty.
func (s *SQLStore) SaveBody(ctx context.Context, itemID, headline, body string, wordCount int) error {
	return s.updateItem(ctx, itemID, s.sb.Update("module_items").
		Set("body", nullString(body)).
		Set("word_count", wordCount).
		Set("headline", sq.Expr("COALESCE(headline, ?)", nullString(headline))).
		Where(sq.Eq{"id": itemID}))
}

// SaveFactCheck records the fact-check verdict for an item.
func (s *SQLStore) SaveFactCheck(ctx context.Context, itemID string, check domain.FactCheck) error {
	return s.updateItem(ctx, itemID, s.sb.Update("module_items").
		Set("fc_accuracy", check.Accuracy).
		Set("fc_compliance", check.Compliance).
		Set("fc_quality", check.Quality).
		Set("fc_passed", check.Passed).
		Set("fc_reason", nullString(check.Reason)).
		Set("fc_checked_at", nullTime(check.CheckedAt)).
		Where(sq.Eq{"id": itemID}))
}

// RankItems activates rankedIDs in order and deactivates every other item of the module.
func (s *SQLStore) RankItems(ctx context.Context, issueID, moduleID string, rankedIDs []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		reset := s.sb.Update("module_items").
			Set("item_rank", 0).
			Set("is_active", false).
			Where(sq.Eq{"issue_id": issueID, "module_id": moduleID})
		if _, err := execute(ctx, tx, reset); err != nil {
			return fmt.Errorf("reset ranks: %w", err)
		}
		for i, id := range rankedIDs {
			stmt := s.sb.Update("module_items").
				Set("item_rank", i+1).
				Set("is_active", true).
				Where(sq.Eq{"id": id, "issue_id": issueID, "module_id": moduleID})
			if _, err := execute(ctx, tx, stmt); err != nil {
				return fmt.Errorf("rank item %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteIssueSelections drops every selection and item of the issue.
func (s *SQLStore) DeleteIssueSelections(ctx context.Context, issueID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := execute(ctx, tx, s.sb.Delete("module_items").Where(sq.Eq{"issue_id": issueID})); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		if _, err := execute(ctx, tx, s.sb.Delete("module_selections").Where(sq.Eq{"issue_id": issueID})); err != nil {
			return fmt.Errorf("delete selections: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) updateItem(ctx context.Context, itemID string, stmt sq.UpdateBuilder) error {
	res, err := execute(ctx, s.db, stmt)
	if err != nil {
		return fmt.Errorf("update item %s: %w", itemID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", itemID, domain.ErrInvalidSelection)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"IssueAssembler/internal/domain"
)

var moduleColumns = []string{
	"id", "publication_id", "family", "name", "display_order", "active", "selection_mode",
	"item_count", "selection_buffer", "next_position", "cursor_version", "block_order",
}

// ListModules returns every module of a publication in display order.
func (s *SQLStore) ListModules(ctx context.Context, publicationID string) ([]domain.ContentModule, error) {
	stmt := s.sb.Select(moduleColumns...).From("content_modules").
		Where(sq.Eq{"publication_id": publicationID}).
		OrderBy("display_order", "id").
		Limit(uint64(s.pageSize))
	rows, err := query(ctx, s.db, stmt)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	var modules []domain.ContentModule
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// GetModule loads a single module.
func (s *SQLStore) GetModule(ctx context.Context, id string) (domain.ContentModule, error) {
	rows, err := query(ctx, s.db, s.sb.Select(moduleColumns...).From("content_modules").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.ContentModule{}, fmt.Errorf("get module: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.ContentModule{}, fmt.Errorf("get module: %w", err)
		}
		return domain.ContentModule{}, fmt.Errorf("module %s: %w", id, domain.ErrModuleNotFound)
	}
	m, err := scanModule(rows)
	if err != nil {
		return domain.ContentModule{}, fmt.Errorf("scan module: %w", err)
	}
	return m, nil
}

// ListCriteria returns the scoring criteria of a module ordered by number.
func (s *SQLStore) ListCriteria(ctx context.Context, moduleID string) ([]domain.Criterion, error) {
	stmt := s.sb.Select("module_id", "criterion_number", "name", "weight", "prompt_key").
		From("criteria").
		Where(sq.Eq{"module_id": moduleID}).
		OrderBy("criterion_number")
	rows, err := query(ctx, s.db, stmt)
	if err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	defer rows.Close()

	var out []domain.Criterion
	for rows.Next() {
		var (
			c      domain.Criterion
			weight sql.NullFloat64
		)
		if err := rows.Scan(&c.ModuleID, &c.Number, &c.Name, &weight, &c.PromptKey); err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		if weight.Valid {
			w := weight.Float64
			c.Weight = &w
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdvanceCursor moves the rotation cursor only if nobody else moved it since expectedVersion
// was read, and stamps the issue's selection as advanced in the same transaction. It reports
// false without touching the cursor when the selection was already stamped.
func (s *SQLStore) AdvanceCursor(ctx context.Context, issueID, moduleID string, expectedVersion, nextPosition int) (bool, error) {
	advanced := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stamp := s.sb.Update("module_selections").
			Set("cursor_advanced", true).
			Where(sq.Eq{"issue_id": issueID, "module_id": moduleID, "cursor_advanced": false})
		res, err := execute(ctx, tx, stamp)
		if err != nil {
			return fmt.Errorf("stamp selection: %w", err)
		}
		if n, err := rowsAffected(res); err != nil || n == 0 {
			return err
		}

		move := s.sb.Update("content_modules").
			Set("next_position", nextPosition).
			Set("cursor_version", sq.Expr("cursor_version + 1")).
			Where(sq.Eq{"id": moduleID, "cursor_version": expectedVersion})
		res, err = execute(ctx, tx, move)
		if err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("module %s at version %d: %w", moduleID, expectedVersion, domain.ErrCursorConflict)
		}
		advanced = true
		return nil
	})
	return advanced, err
}

// SaveModule inserts or replaces a module definition.
func (s *SQLStore) SaveModule(ctx context.Context, m domain.ContentModule) error {
	blocks, err := encodeJSON(m.BlockOrder)
	if err != nil {
		return err
	}
	if m.NextPosition < 1 {
		m.NextPosition = 1
	}
	stmt := s.sb.Insert("content_modules").
		Columns(moduleColumns...).
		Values(m.ID, m.PublicationID, string(m.Family), m.Name, m.DisplayOrder, m.Active, m.Mode.String(),
			m.Count, m.SelectionBuffer, m.NextPosition, m.CursorVersion, blocks).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			publication_id = EXCLUDED.publication_id,
			family = EXCLUDED.family,
			name = EXCLUDED.name,
			display_order = EXCLUDED.display_order,
			active = EXCLUDED.active,
			selection_mode = EXCLUDED.selection_mode,
			item_count = EXCLUDED.item_count,
			selection_buffer = EXCLUDED.selection_buffer,
			block_order = EXCLUDED.block_order`)
	if _, err := execute(ctx, s.db, stmt); err != nil {
		return fmt.Errorf("save module %s: %w", m.ID, err)
	}
	return nil
}

// SaveCriterion inserts or replaces a scoring criterion.
func (s *SQLStore) SaveCriterion(ctx context.Context, c domain.Criterion) error {
	var weight sql.NullFloat64
	if c.Weight != nil {
		weight = sql.NullFloat64{Float64: *c.Weight, Valid: true}
	}
	stmt := s.sb.Insert("criteria").
		Columns("module_id", "criterion_number", "name", "weight", "prompt_key").
		Values(c.ModuleID, c.Number, c.Name, weight, c.PromptKey).
		Suffix(`ON CONFLICT (module_id, criterion_number) DO UPDATE SET
			name = EXCLUDED.name,
			weight = EXCLUDED.weight,
			prompt_key = EXCLUDED.prompt_key`)
	if _, err := execute(ctx, s.db, stmt); err != nil {
		return fmt.Errorf("save criterion %s/%d: %w", c.ModuleID, c.Number, err)
	}
	return nil
}

func scanModule(rows *sql.Rows) (domain.ContentModule, error) {
	var (
		m            domain.ContentModule
		family, mode string
		blocks       sql.NullString
	)
	if err := rows.Scan(&m.ID, &m.PublicationID, &family, &m.Name, &m.DisplayOrder, &m.Active, &mode,
		&m.Count, &m.SelectionBuffer, &m.NextPosition, &m.CursorVersion, &blocks); err != nil {
		return domain.ContentModule{}, err
	}
	parsed, err := domain.ParseSelectionMode(mode)
	if err != nil {
		return domain.ContentModule{}, fmt.Errorf("module %s: %w", m.ID, err)
	}
	m.Family = domain.Family(family)
	m.Mode = parsed
	if blocks.Valid && blocks.String != "" && blocks.String != "null" {
		if err := json.Unmarshal([]byte(blocks.String), &m.BlockOrder); err != nil {
			return domain.ContentModule{}, fmt.Errorf("module %s block order: %w", m.ID, err)
		}
	}
	return m, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

// GetSummaryContext returns the context snapshot for path, or nil.
func (s *Store) GetSummaryContext(ctx context.Context, path string) (*model.SummaryContext, error) {
	var sc model.SummaryContext
	err := s.db.QueryRowContext(ctx, `
		SELECT path, imports_hash, callers_count, callees_count, context_version
		FROM summary_context WHERE path = ?
	`, path).Scan(&sc.Path, &sc.ImportsHash, &sc.CallersCount, &sc.CalleesCount, &sc.ContextVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary context %s: %w", path, err)
	}
	return &sc, nil
}

// SetSummaryContext upserts the context snapshot for a summary.
func (s *Store) SetSummaryContext(ctx context.Context, sc *model.SummaryContext) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_context (path, imports_hash, callers_count, callees_count, context_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			imports_hash = excluded.imports_hash,
			callers_count = excluded.callers_count,
			callees_count = excluded.callees_count,
			context_version = excluded.context_version
	`, sc.Path, sc.ImportsHash, sc.CallersCount, sc.CalleesCount, sc.ContextVersion)
	if err != nil {
		return fmt.Errorf("set summary context %s: %w", sc.Path, err)
	}
	return nil
}

// GetAnalysisHash returns the content hash graph extraction last ran for,
// or "" when the file was never analyzed.
func (s *Store) GetAnalysisHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM analysis_file_hashes WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get analysis hash %s: %w", path, err)
	}
	return hash, nil
}

// SetAnalysisHash records the content hash extraction just ran for.
func (s *Store) SetAnalysisHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_file_hashes (path, content_hash) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET content_hash = excluded.content_hash
	`, path, hash)
	if err != nil {
		return fmt.Errorf("set analysis hash %s: %w", path, err)
	}
	return nil
}

// AddIgnorePattern appends one row to the ignore-pattern audit.
func (s *Store) AddIgnorePattern(ctx context.Context, pattern string, source model.IgnorePatternSource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ignore_patterns (pattern, source, added_at) VALUES (?, ?, ?)
	`, pattern, string(source), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add ignore pattern %q: %w", pattern, err)
	}
	return nil
}

// IgnorePatterns returns the audit rows in insertion order.
func (s *Store) IgnorePatterns(ctx context.Context) ([]*model.IgnorePattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, source, added_at FROM ignore_patterns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list ignore patterns: %w", err)
	}
	defer rows.Close()

	var out []*model.IgnorePattern
	for rows.Next() {
		var p model.IgnorePattern
		var source string
		if err := rows.Scan(&p.ID, &p.Pattern, &source, &p.AddedAt); err != nil {
			return nil, fmt.Errorf("scan ignore pattern: %w", err)
		}
		p.Source = model.IgnorePatternSource(source)
		out = append(out, &p)
	}
	return out, rows.Err()
}

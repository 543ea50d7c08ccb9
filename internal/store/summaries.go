package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

const summaryColumns = `path, kind, hash, description, extension, language, error, needs_update,
	model, model_version, prompt_version, context_level, generated_at, updated_at, tokens_used, generation_ms`

// GetSummary returns the summary for path, or nil when none exists.
func (s *Store) GetSummary(ctx context.Context, path string) (*model.Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE path = ?`, path)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", path, err)
	}
	return sum, nil
}

// UpsertSummary inserts or replaces the summary row for sum.Path.
func (s *Store) UpsertSummary(ctx context.Context, sum *model.Summary) error {
	if sum.GeneratedAt.IsZero() {
		sum.GeneratedAt = time.Now().UTC()
	}
	if sum.UpdatedAt.IsZero() || sum.UpdatedAt.Before(sum.GeneratedAt) {
		sum.UpdatedAt = sum.GeneratedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			kind = excluded.kind,
			hash = excluded.hash,
			description = excluded.description,
			extension = excluded.extension,
			language = excluded.language,
			error = excluded.error,
			needs_update = excluded.needs_update,
			model = excluded.model,
			model_version = excluded.model_version,
			prompt_version = excluded.prompt_version,
			context_level = excluded.context_level,
			generated_at = excluded.generated_at,
			updated_at = excluded.updated_at,
			tokens_used = excluded.tokens_used,
			generation_ms = excluded.generation_ms
	`,
		sum.Path, string(sum.Kind), sum.Hash, sum.Description, sum.Extension, sum.Language,
		sum.Error, boolToInt(sum.NeedsUpdate), sum.Model, sum.ModelVersion, sum.PromptVersion,
		int(sum.ContextLevel), sum.GeneratedAt, sum.UpdatedAt, sum.TokensUsed, sum.GenerationMS,
	)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", sum.Path, err)
	}

	s.logger.Debug("Saved summary",
		zap.String("path", sum.Path),
		zap.String("kind", string(sum.Kind)))
	return nil
}

// DeleteSummary removes the summary for path and everything keyed on it:
// its entities (FK cascade), their relationships, its context snapshot (FK
// cascade), its analysis hash, and every vector for the path or its
// entities. One transaction.
func (s *Store) DeleteSummary(ctx context.Context, path string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		entityIDs, err := txEntityIDsForFile(tx, path)
		if err != nil {
			return err
		}

		// Relationships referencing this file's entities by from_entity go
		// with the FK cascade; file-level edges keep from_file only.
		if _, err := tx.Exec(`DELETE FROM relationships WHERE from_file = ?`, path); err != nil {
			return fmt.Errorf("delete relationships for %s: %w", path, err)
		}
		if _, err := tx.Exec(`DELETE FROM analysis_file_hashes WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete analysis hash for %s: %w", path, err)
		}
		if err := txDeleteVectors(tx, model.VectorSummary, []string{path}); err != nil {
			return err
		}
		if len(entityIDs) > 0 {
			ids := make([]string, len(entityIDs))
			for i, id := range entityIDs {
				ids[i] = fmt.Sprintf("%d", id)
			}
			if err := txDeleteVectors(tx, model.VectorEntity, ids); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM summaries WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete summary %s: %w", path, err)
		}
		return nil
	})
}

// ListChildren returns the summaries of the direct children of path:
// entries whose path is parent + "/" + a single segment.
func (s *Store) ListChildren(ctx context.Context, path string) ([]*model.Summary, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM summaries
		WHERE path LIKE ? || '%' AND path NOT LIKE ? || '%/%'
		ORDER BY path
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", path, err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// AllSummaries returns every summary under scope ("" means everything),
// ordered by path.
func (s *Store) AllSummaries(ctx context.Context, scope string) ([]*model.Summary, error) {
	var rows *sql.Rows
	var err error
	if scope == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+summaryColumns+` FROM summaries ORDER BY path`)
	} else {
		prefix := strings.TrimSuffix(scope, "/") + "/"
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+summaryColumns+` FROM summaries
			WHERE path = ? OR path LIKE ? || '%'
			ORDER BY path
		`, scope, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("list summaries under %s: %w", scope, err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// EnsureSummaryStub inserts a minimal summary row when none exists, so
// entities extracted before summarization have a parent row to reference.
// An existing row is left untouched.
func (s *Store) EnsureSummaryStub(ctx context.Context, path string, kind model.SummaryKind, hash, extension, language string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (path, kind, hash, extension, language, generated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`, path, string(kind), hash, extension, language, now, now)
	if err != nil {
		return fmt.Errorf("ensure summary stub %s: %w", path, err)
	}
	return nil
}

// SetSummaryError records a per-item error on an existing summary row.
// Reports whether a row was updated.
func (s *Store) SetSummaryError(ctx context.Context, path, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE summaries SET error = ?, updated_at = ? WHERE path = ?`,
		message, time.Now().UTC(), path)
	if err != nil {
		return false, fmt.Errorf("record error on summary %s: %w", path, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetNeedsUpdate flags a summary for manual re-summarization.
func (s *Store) SetNeedsUpdate(ctx context.Context, path string, needsUpdate bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE summaries SET needs_update = ? WHERE path = ?`, boolToInt(needsUpdate), path)
	if err != nil {
		return fmt.Errorf("flag summary %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no summary for %s", path)
	}
	return nil
}

// Stats aggregates the summaries under scope by kind, language and model.
func (s *Store) Stats(ctx context.Context, scope string) (*model.SummaryStats, error) {
	summaries, err := s.AllSummaries(ctx, scope)
	if err != nil {
		return nil, err
	}

	stats := &model.SummaryStats{
		ByLanguage: make(map[string]int64),
		ByModel:    make(map[string]int64),
	}
	for _, sum := range summaries {
		stats.Total++
		switch sum.Kind {
		case model.KindFile:
			stats.Files++
		case model.KindDirectory:
			stats.Directories++
		}
		if sum.Error != "" {
			stats.WithErrors++
		}
		if sum.Language != "" {
			stats.ByLanguage[sum.Language]++
		}
		if sum.Model != "" {
			stats.ByModel[sum.Model]++
		}
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*model.Summary, error) {
	var sum model.Summary
	var kind string
	var needsUpdate, contextLevel int
	var generatedAt, updatedAt sql.NullTime

	err := row.Scan(
		&sum.Path, &kind, &sum.Hash, &sum.Description, &sum.Extension, &sum.Language,
		&sum.Error, &needsUpdate, &sum.Model, &sum.ModelVersion, &sum.PromptVersion,
		&contextLevel, &generatedAt, &updatedAt, &sum.TokensUsed, &sum.GenerationMS,
	)
	if err != nil {
		return nil, err
	}

	sum.Kind = model.SummaryKind(kind)
	sum.NeedsUpdate = needsUpdate != 0
	sum.ContextLevel = model.ContextLevel(contextLevel)
	if generatedAt.Valid {
		sum.GeneratedAt = generatedAt.Time
	}
	if updatedAt.Valid {
		sum.UpdatedAt = updatedAt.Time
	}
	return &sum, nil
}

func collectSummaries(rows *sql.Rows) ([]*model.Summary, error) {
	var out []*model.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func txEntityIDsForFile(tx *sql.Tx, path string) ([]int64, error) {
	rows, err := tx.Query(`SELECT id FROM entities WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("list entities for %s: %w", path, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

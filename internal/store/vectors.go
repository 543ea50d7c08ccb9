package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/model"
)

// Vector tables are vec0 virtual tables, one per object kind, created
// lazily because the dimension is only known once the first embedding
// arrives. The vector_tables registry records which exist.

// NearestResult is one ANN search hit.
type NearestResult struct {
	ObjectID   string
	Model      string
	Similarity float64
}

// tableForKind maps a kind to its vec0 table.
func tableForKind(kind model.VectorKind) string {
	switch kind {
	case model.VectorSummary:
		return "vec_summaries"
	case model.VectorEntity:
		return "vec_entities"
	default:
		return "vec_" + string(kind)
	}
}

// PutVector writes (or replaces) the embedding row for an object. The row
// carries the embedding model and a fingerprint of the source text so the
// indexer can detect staleness without re-embedding.
func (s *Store) PutVector(ctx context.Context, kind model.VectorKind, objectID, modelName, fingerprint string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for %s %s", kind, objectID)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := txEnsureVecTable(tx, kind, len(vector)); err != nil {
			return err
		}

		table := tableForKind(kind)
		if _, err := tx.Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE object_id = ?`, table), objectID); err != nil {
			return fmt.Errorf("replace vector for %s: %w", objectID, err)
		}
		if _, err := tx.Exec(
			fmt.Sprintf(`INSERT INTO %s (embedding, object_id, model, fingerprint) VALUES (?, ?, ?, ?)`, table),
			encodeFloat32SliceToBlob(vector), objectID, modelName, fingerprint); err != nil {
			return fmt.Errorf("insert vector for %s: %w", objectID, err)
		}
		return nil
	})
}

// GetVectorInfo returns the stored model and fingerprint for an object, or
// ok=false when no vector row exists.
func (s *Store) GetVectorInfo(ctx context.Context, kind model.VectorKind, objectID string) (modelName, fingerprint string, ok bool, err error) {
	exists, _, err := s.vecTableInfo(ctx, kind)
	if err != nil || !exists {
		return "", "", false, err
	}

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT model, fingerprint FROM %s WHERE object_id = ?`, tableForKind(kind)), objectID)
	if err := row.Scan(&modelName, &fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("vector info for %s: %w", objectID, err)
	}
	return modelName, fingerprint, true, nil
}

// Nearest returns the k objects whose embeddings are closest to query by
// cosine distance, best first. An absent vector table yields no results.
func (s *Store) Nearest(ctx context.Context, kind model.VectorKind, query []float32, k int) ([]NearestResult, error) {
	exists, dim, err := s.vecTableInfo(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if dim != len(query) {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), dim)
	}
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT object_id, model, vec_distance_cosine(embedding, ?) AS distance
		FROM %s
		ORDER BY distance ASC
		LIMIT ?
	`, tableForKind(kind)), encodeFloat32SliceToBlob(query), k)
	if err != nil {
		return nil, fmt.Errorf("nearest %s: %w", kind, err)
	}
	defer rows.Close()

	var out []NearestResult
	for rows.Next() {
		var r NearestResult
		var distance float64
		if err := rows.Scan(&r.ObjectID, &r.Model, &distance); err != nil {
			return nil, fmt.Errorf("scan nearest row: %w", err)
		}
		// Cosine distance is 1 - similarity.
		r.Similarity = 1.0 - distance
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("Vector search",
		zap.String("kind", string(kind)),
		zap.Int("results", len(out)))
	return out, nil
}

// CountVectors returns the number of vector rows across all kinds.
func (s *Store) CountVectors(ctx context.Context) (int64, error) {
	var total int64
	for _, kind := range []model.VectorKind{model.VectorSummary, model.VectorEntity} {
		exists, _, err := s.vecTableInfo(ctx, kind)
		if err != nil {
			return 0, err
		}
		if !exists {
			continue
		}
		var n int64
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableForKind(kind))).Scan(&n); err != nil {
			return 0, fmt.Errorf("count vectors %s: %w", kind, err)
		}
		total += n
	}
	return total, nil
}

// DeleteAllVectors drops every vector row, for full re-index runs.
func (s *Store) DeleteAllVectors(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range []model.VectorKind{model.VectorSummary, model.VectorEntity} {
			if !txVecTableExists(tx, kind) {
				continue
			}
			if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s`, tableForKind(kind))); err != nil {
				return fmt.Errorf("clear vectors %s: %w", kind, err)
			}
		}
		return nil
	})
}

func (s *Store) vecTableInfo(ctx context.Context, kind model.VectorKind) (exists bool, dim int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT dimension FROM vector_tables WHERE kind = ?`, string(kind)).Scan(&dim)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("vector table info %s: %w", kind, err)
	}
	return true, dim, nil
}

func txVecTableExists(tx *sql.Tx, kind model.VectorKind) bool {
	var dim int
	err := tx.QueryRow(`SELECT dimension FROM vector_tables WHERE kind = ?`, string(kind)).Scan(&dim)
	return err == nil
}

func txEnsureVecTable(tx *sql.Tx, kind model.VectorKind, dim int) error {
	var existing int
	err := tx.QueryRow(`SELECT dimension FROM vector_tables WHERE kind = ?`, string(kind)).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		stmt := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d], object_id TEXT, model TEXT, fingerprint TEXT)`,
			tableForKind(kind), dim)
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create vector table %s: %w", kind, err)
		}
		if _, err := tx.Exec(`INSERT INTO vector_tables (kind, dimension) VALUES (?, ?)`, string(kind), dim); err != nil {
			return fmt.Errorf("register vector table %s: %w", kind, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("vector table lookup %s: %w", kind, err)
	case existing != dim:
		return fmt.Errorf("vector dimension %d does not match existing index dimension %d for %s; run a full re-index", dim, existing, kind)
	default:
		return nil
	}
}

// txDeleteVectors removes the vector rows for the given object ids. Called
// from the cascade fan-outs; tolerates the vec table not existing yet.
func txDeleteVectors(tx *sql.Tx, kind model.VectorKind, objectIDs []string) error {
	if len(objectIDs) == 0 || !txVecTableExists(tx, kind) {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(objectIDs)), ",")
	args := make([]any, len(objectIDs))
	for i, id := range objectIDs {
		args[i] = id
	}
	if _, err := tx.Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE object_id IN (%s)`, tableForKind(kind), placeholders), args...); err != nil {
		return fmt.Errorf("delete vectors %s: %w", kind, err)
	}
	return nil
}

func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

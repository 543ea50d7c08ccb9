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

const entityColumns = `id, file_path, kind, name, qualified_name, parent_entity,
	start_line, end_line, docstring, signature, language`

const relationshipColumns = `id, from_entity, to_entity, from_file, to_file, kind, location, to_hint`

// PutEntitiesForFile atomically replaces all entities of a file: prior
// entities, their relationships, their doc-quality rows and their vectors
// are removed, then the new set is inserted. The inserted entities get
// their assigned ids filled in.
func (s *Store) PutEntitiesForFile(ctx context.Context, file string, entities []*model.Entity) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		oldIDs, err := txEntityIDsForFile(tx, file)
		if err != nil {
			return err
		}
		if len(oldIDs) > 0 {
			ids := make([]string, len(oldIDs))
			for i, id := range oldIDs {
				ids[i] = fmt.Sprintf("%d", id)
			}
			if err := txDeleteVectors(tx, model.VectorEntity, ids); err != nil {
				return err
			}
		}

		// Outgoing relationships of the prior entity set; doc_quality rows
		// cascade with the entities themselves.
		if _, err := tx.Exec(`DELETE FROM relationships WHERE from_file = ?`, file); err != nil {
			return fmt.Errorf("delete relationships for %s: %w", file, err)
		}
		if _, err := tx.Exec(`DELETE FROM entities WHERE file_path = ?`, file); err != nil {
			return fmt.Errorf("delete entities for %s: %w", file, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO entities (file_path, kind, name, qualified_name, parent_entity,
				start_line, end_line, docstring, signature, language)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare entity insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entities {
			res, err := stmt.Exec(e.FilePath, string(e.Kind), e.Name, e.QualifiedName,
				e.ParentEntity, e.StartLine, e.EndLine, e.Docstring, e.Signature, e.Language)
			if err != nil {
				return fmt.Errorf("insert entity %s: %w", e.QualifiedName, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("entity id for %s: %w", e.QualifiedName, err)
			}
			e.ID = id
		}
		return nil
	})
}

// PutRelationships bulk-appends edges. Callers replace a file's prior edges
// through PutEntitiesForFile first; entity writes are committed before the
// relationship writes that reference them.
func (s *Store) PutRelationships(ctx context.Context, rels []*model.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO relationships (from_entity, to_entity, from_file, to_file, kind, location, to_hint)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare relationship insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rels {
			res, err := stmt.Exec(nullableID(r.FromEntity), nullableID(r.ToEntity),
				r.FromFile, r.ToFile, string(r.Kind), r.Location, r.ToHint)
			if err != nil {
				return fmt.Errorf("insert relationship %s: %w", r.Kind, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				r.ID = id
			}
		}
		return nil
	})
}

// GetEntityByID returns the entity with the given id, or nil.
func (s *Store) GetEntityByID(ctx context.Context, id int64) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return e, nil
}

// GetEntitiesByQualifiedName returns all entities with the qualified name.
func (s *Store) GetEntitiesByQualifiedName(ctx context.Context, qualifiedName string) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE qualified_name = ? ORDER BY file_path, start_line`,
		qualifiedName)
	if err != nil {
		return nil, fmt.Errorf("entities by qualified name %s: %w", qualifiedName, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// GetEntitiesBySimpleName returns all entities with the bare name.
func (s *Store) GetEntitiesBySimpleName(ctx context.Context, name string) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? ORDER BY file_path, start_line`, name)
	if err != nil {
		return nil, fmt.Errorf("entities by name %s: %w", name, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// AllEntities returns entities whose file path falls under scope.
func (s *Store) AllEntities(ctx context.Context, scope string) ([]*model.Entity, error) {
	var rows *sql.Rows
	var err error
	if scope == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+entityColumns+` FROM entities ORDER BY file_path, start_line`)
	} else {
		prefix := strings.TrimSuffix(scope, "/") + "/"
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+entityColumns+` FROM entities
			WHERE file_path = ? OR file_path LIKE ? || '%'
			ORDER BY file_path, start_line
		`, scope, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("list entities under %s: %w", scope, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// EntitiesForFile returns the entities of one file in source order.
func (s *Store) EntitiesForFile(ctx context.Context, file string) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE file_path = ? ORDER BY start_line`, file)
	if err != nil {
		return nil, fmt.Errorf("entities for %s: %w", file, err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// CallersOf returns incoming calls edges whose target is entityID.
func (s *Store) CallersOf(ctx context.Context, entityID int64) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? AND to_entity = ? ORDER BY from_file, location`,
		string(model.RelCalls), entityID)
}

// CalleesOf returns outgoing calls edges originating at entityID.
func (s *Store) CalleesOf(ctx context.Context, entityID int64) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? AND from_entity = ? ORDER BY location`,
		string(model.RelCalls), entityID)
}

// ImportsOf returns the import edges leaving file.
func (s *Store) ImportsOf(ctx context.Context, file string) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? AND from_file = ? ORDER BY location`,
		string(model.RelImports), file)
}

// ImportersOf returns the import edges whose raw target equals module.
func (s *Store) ImportersOf(ctx context.Context, module string) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? AND to_file = ? ORDER BY from_file`,
		string(model.RelImports), module)
}

// AllImports returns every import edge. Used for module-path resolution,
// where the target match is language-specific.
func (s *Store) AllImports(ctx context.Context) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? ORDER BY from_file`,
		string(model.RelImports))
}

// ParentsOf returns inherits edges leaving classID.
func (s *Store) ParentsOf(ctx context.Context, classID int64) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? AND from_entity = ? ORDER BY location`,
		string(model.RelInherits), classID)
}

// ChildrenOf returns inherits edges pointing at classID.
func (s *Store) ChildrenOf(ctx context.Context, classID int64) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE kind = ? AND to_entity = ? ORDER BY from_file`,
		string(model.RelInherits), classID)
}

// CountEntities returns the number of stored entities.
func (s *Store) CountEntities(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

// UpsertDocQuality writes the documentation heuristics for an entity.
func (s *Store) UpsertDocQuality(ctx context.Context, dq *model.DocQuality) error {
	if dq.LastReviewed.IsZero() {
		dq.LastReviewed = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_quality (entity_id, has_docstring, has_examples, has_type_hints, priority_score, last_reviewed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			has_docstring = excluded.has_docstring,
			has_examples = excluded.has_examples,
			has_type_hints = excluded.has_type_hints,
			priority_score = excluded.priority_score,
			last_reviewed = excluded.last_reviewed
	`, dq.EntityID, boolToInt(dq.HasDocstring), boolToInt(dq.HasExamples),
		boolToInt(dq.HasTypeHints), dq.PriorityScore, dq.LastReviewed)
	if err != nil {
		return fmt.Errorf("upsert doc quality for entity %d: %w", dq.EntityID, err)
	}
	return nil
}

// GetDocQuality returns the heuristics row for an entity, or nil.
func (s *Store) GetDocQuality(ctx context.Context, entityID int64) (*model.DocQuality, error) {
	var dq model.DocQuality
	var hasDoc, hasEx, hasHints int
	var reviewed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, has_docstring, has_examples, has_type_hints, priority_score, last_reviewed
		FROM doc_quality WHERE entity_id = ?
	`, entityID).Scan(&dq.EntityID, &hasDoc, &hasEx, &hasHints, &dq.PriorityScore, &reviewed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get doc quality for entity %d: %w", entityID, err)
	}
	dq.HasDocstring = hasDoc != 0
	dq.HasExamples = hasEx != 0
	dq.HasTypeHints = hasHints != 0
	if reviewed.Valid {
		dq.LastReviewed = reviewed.Time
	}
	return &dq, nil
}

func (s *Store) queryRelationships(ctx context.Context, query string, args ...any) ([]*model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var out []*model.Relationship
	for rows.Next() {
		var r model.Relationship
		var fromEntity, toEntity sql.NullInt64
		var kind string
		if err := rows.Scan(&r.ID, &fromEntity, &toEntity, &r.FromFile, &r.ToFile,
			&kind, &r.Location, &r.ToHint); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		if fromEntity.Valid {
			r.FromEntity = fromEntity.Int64
		}
		if toEntity.Valid {
			r.ToEntity = toEntity.Int64
		}
		r.Kind = model.RelationshipKind(kind)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("Relationship query", zap.Int("count", len(out)))
	return out, nil
}

func scanEntity(row rowScanner) (*model.Entity, error) {
	var e model.Entity
	var kind string
	err := row.Scan(&e.ID, &e.FilePath, &kind, &e.Name, &e.QualifiedName,
		&e.ParentEntity, &e.StartLine, &e.EndLine, &e.Docstring, &e.Signature, &e.Language)
	if err != nil {
		return nil, err
	}
	e.Kind = model.EntityKind(kind)
	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]*model.Entity, error) {
	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

// Schema versions:
// v1: summaries + metadata
// v2: entities, relationships, analysis_file_hashes, ignore_patterns
// v3: summaries.language column (backfilled with the configured default),
//     summary_context, doc_quality
// v4: vector_tables registry for the lazily created vec0 tables
const CurrentSchemaVersion = 4

const schemaVersionKey = "schema_version"

type migration struct {
	version int
	apply   func(tx *sql.Tx, defaultLanguage string) error
}

var migrations = []migration{
	{1, migrateV1},
	{2, migrateV2},
	{3, migrateV3},
	{4, migrateV4},
}

// migrate brings the schema to CurrentSchemaVersion, applying migrations in
// order inside one transaction each. Migrations are idempotent; the
// schema_version metadata key is the sole source of truth.
func (s *Store) migrate(defaultLanguage string) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure metadata table: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return errs.New(errs.SchemaIncompatible,
			"database schema version %d is newer than supported version %d", current, CurrentSchemaVersion).
			WithRemedy("upgrade paranoid-coder")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx, defaultLanguage); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, schemaVersionKey, strconv.Itoa(m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record schema version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		s.logger.Info("Applied schema migration", zap.Int("version", m.version))
	}

	return nil
}

func (s *Store) schemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, schemaVersionKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}

func migrateV1(tx *sql.Tx, _ string) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			path TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			hash TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			extension TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			needs_update INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			model_version TEXT NOT NULL DEFAULT '',
			prompt_version TEXT NOT NULL DEFAULT '',
			context_level INTEGER NOT NULL DEFAULT 0,
			generated_at TIMESTAMP,
			updated_at TIMESTAMP,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			generation_ms INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

func migrateV2(tx *sql.Tx, _ string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path TEXT NOT NULL REFERENCES summaries(path) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL,
			parent_entity TEXT NOT NULL DEFAULT '',
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			docstring TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_file_path ON entities(file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_qualified_name ON entities(qualified_name)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_entity INTEGER REFERENCES entities(id) ON DELETE CASCADE,
			to_entity INTEGER REFERENCES entities(id) ON DELETE SET NULL,
			from_file TEXT NOT NULL,
			to_file TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			to_hint TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_from_file ON relationships(from_file)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_to_entity ON relationships(to_entity)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_from_entity ON relationships(from_entity)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_kind ON relationships(kind)`,
		`CREATE TABLE IF NOT EXISTS analysis_file_hashes (
			path TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ignore_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL,
			source TEXT NOT NULL,
			added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateV3(tx *sql.Tx, defaultLanguage string) error {
	if !txColumnExists(tx, "summaries", "language") {
		if _, err := tx.Exec(`ALTER TABLE summaries ADD COLUMN language TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE summaries SET language = ? WHERE language = ''`, defaultLanguage); err != nil {
			return err
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS summary_context (
			path TEXT PRIMARY KEY REFERENCES summaries(path) ON DELETE CASCADE,
			imports_hash TEXT NOT NULL DEFAULT '',
			callers_count INTEGER NOT NULL DEFAULT 0,
			callees_count INTEGER NOT NULL DEFAULT 0,
			context_version INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS doc_quality (
			entity_id INTEGER PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
			has_docstring INTEGER NOT NULL DEFAULT 0,
			has_examples INTEGER NOT NULL DEFAULT 0,
			has_type_hints INTEGER NOT NULL DEFAULT 0,
			priority_score REAL NOT NULL DEFAULT 0,
			last_reviewed TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateV4(tx *sql.Tx, _ string) error {
	// The vec0 virtual tables need a fixed dimension, which is only known
	// once the first embedding arrives. This registry records which tables
	// exist and at what dimension; the tables themselves are created lazily.
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS vector_tables (
			kind TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL
		)
	`)
	return err
}

// txColumnExists checks PRAGMA table_info inside a transaction.
func txColumnExists(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

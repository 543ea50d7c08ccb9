// Package store is the per-project persistent store: a single-file SQLite
// database holding summaries, the code graph, context snapshots, vectors and
// metadata. All writes run inside transactions; cascades are enforced by
// foreign keys plus explicit fan-out to the vector tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/errs"
)

// Store wraps the project database. The store file is exclusively owned by
// the active process for writes; reads proceed under SQLite snapshot
// semantics.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (or creates) the database at path and applies pending
// migrations. It refuses databases whose schema is newer than the code
// knows with SchemaIncompatible.
func Open(path string, defaultLanguage string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_fk=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "open database %s", path)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.IoError, err, "verify database %s", path)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(defaultLanguage); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// OpenExisting opens the database only if the file already exists. Used by
// every command except init.
func OpenExisting(path string, defaultLanguage string, logger *zap.Logger) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.NoProjectFound, err, "store not found at %s", path).
			WithRemedy("run 'paranoid init' in the project root")
	}
	return Open(path, defaultLanguage, logger)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetMetadata returns the value for key, or "" when absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts a metadata key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// TouchAnalysisTimestamp records when graph extraction last ran.
func (s *Store) TouchAnalysisTimestamp(ctx context.Context, parserVersion string) error {
	if err := s.SetMetadata(ctx, "analysis_timestamp", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return s.SetMetadata(ctx, "analysis_parser_version", parserVersion)
}

// Package ledger persists per-document processing state in SQLite. The
// ledger is the at-most-once guard for AI analysis: a document marked
// complete is never re-analyzed automatically.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/castellan/paperweight/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrInvalidTransition is returned when a status update would move a
// record backwards.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store implements the processing ledger on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New creates a ledger store, running migrations as needed.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema.
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS processing_records (
			document_id INTEGER PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'unprocessed',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processing_status ON processing_records(status)`,

		`CREATE TABLE IF NOT EXISTS token_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_token_metrics_document ON token_metrics(document_id)`,

		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL,
			tags TEXT,
			title TEXT,
			correspondent TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS original_snapshots (
			document_id INTEGER PRIMARY KEY,
			tags TEXT,
			correspondent TEXT,
			title TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// IsProcessed reports whether the document has already completed analysis.
func (s *Store) IsProcessed(ctx context.Context, documentID int) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM processing_records WHERE document_id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query processing record: %w", err)
	}
	return model.ProcessingStatus(status) == model.StatusComplete, nil
}

// Status returns the current status for a document; unprocessed when no
// record exists.
func (s *Store) Status(ctx context.Context, documentID int) (model.ProcessingStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM processing_records WHERE document_id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StatusUnprocessed, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query processing record: %w", err)
	}
	return model.ProcessingStatus(status), nil
}

// SetStatus transitions a document's status. Transitions are monotonic:
// attempting to move a record backwards returns ErrInvalidTransition.
func (s *Store) SetStatus(ctx context.Context, documentID int, status model.ProcessingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	current, err := s.Status(ctx, documentID)
	if err != nil {
		return err
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s for document %d", ErrInvalidTransition, current, status, documentID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_records (document_id, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		documentID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

// RecordMetrics stores token usage for one analysis invocation. All-zero
// usage is stored as reported; downstream aggregation must treat it as
// unmeasured, not free.
func (s *Store) RecordMetrics(ctx context.Context, documentID, promptTokens, completionTokens, totalTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_metrics (document_id, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?)`,
		documentID, promptTokens, completionTokens, totalTokens)
	if err != nil {
		return fmt.Errorf("failed to record metrics: %w", err)
	}
	return nil
}

// RecordHistory writes a human-readable entry describing what was applied.
func (s *Store) RecordHistory(ctx context.Context, documentID int, tags []string, title, correspondent string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (document_id, tags, title, correspondent)
		VALUES (?, ?, ?, ?)`,
		documentID, strings.Join(tags, ","), title, correspondent)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// RecordOriginalSnapshot stores the document state before the first AI
// update, for audit. Only the first snapshot per document is kept.
func (s *Store) RecordOriginalSnapshot(ctx context.Context, documentID int, tags []string, correspondent, title string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO original_snapshots (document_id, tags, correspondent, title)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO NOTHING`,
		documentID, strings.Join(tags, ","), correspondent, title)
	if err != nil {
		return fmt.Errorf("failed to record original snapshot: %w", err)
	}
	return nil
}

// TotalUsage sums recorded token metrics across all documents. Documents
// analyzed by backends that report no usage contribute zeros.
func (s *Store) TotalUsage(ctx context.Context) (model.TokenUsage, error) {
	var usage model.TokenUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM token_metrics`).Scan(&usage.Prompt, &usage.Completion, &usage.Total)
	if err != nil {
		return model.TokenUsage{}, fmt.Errorf("failed to sum token metrics: %w", err)
	}
	return usage, nil
}

// Package audit persists decision records to SQLite so every approval,
// denial, and escalation can be reviewed later.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cmdgate/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id          TEXT PRIMARY KEY,
		command     TEXT NOT NULL,
		pattern     TEXT,
		decision    TEXT NOT NULL,
		rule        TEXT,
		outcome     TEXT,
		details     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_time ON decisions(created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LogDecision(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, command, pattern, decision, rule, outcome, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Command, entry.Pattern, string(entry.Decision),
		entry.Rule, entry.Outcome, entry.Details, entry.CreatedAt,
	)
	return err
}

// ListDecisions returns the most recent entries, newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, pattern, decision, rule, outcome, details, created_at
		 FROM decisions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var decision string
		var pattern, rule, outcome, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Command, &pattern, &decision,
			&rule, &outcome, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Pattern = pattern.String
		e.Decision = domain.Decision(decision)
		e.Rule = rule.String
		e.Outcome = outcome.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes entries older than the retention window and reports how
// many rows were removed.
func (s *SQLiteStore) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retentionDays must be >= 1, got %d", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM decisions WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 && s.logger != nil {
		s.logger.Info("purged audit entries", "removed", n, "retentionDays", retentionDays)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

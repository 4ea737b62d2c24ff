package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit entries in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) the database file at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

// Record upserts the entry by (session id, correlation id). A row already
// in a terminal state is left untouched.
func (s *SQLiteStore) Record(ctx context.Context, entry Entry) error {
	argsJSON, err := encodeArgs(entry.Args)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	terminal := 0
	if Terminal(entry.State) {
		terminal = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			correlation_id, session_id, operator, skill, action,
			args_json, state, detail, terminal, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, correlation_id) DO UPDATE SET
			state = excluded.state,
			detail = excluded.detail,
			terminal = excluded.terminal,
			updated_at = excluded.updated_at
		WHERE audit_entries.terminal = 0
	`,
		entry.CorrelationID,
		entry.SessionID,
		entry.Operator,
		entry.Skill,
		entry.Action,
		argsJSON,
		entry.State,
		entry.Detail,
		terminal,
		createdAt,
		updatedAt,
	)
	return err
}

// List returns entries matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT correlation_id, session_id, operator, skill, action,
		       args_json, state, detail, created_at, updated_at
		FROM audit_entries
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.SessionID != "" {
		addFilter("session_id = ?", filter.SessionID)
	}
	if !filter.Since.IsZero() {
		addFilter("updated_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		addFilter("updated_at <= ?", filter.Until.UTC())
	}
	if filter.Outcome != "" {
		addFilter("state = ?", filter.Outcome)
	}
	query += where + " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			argsJSON string
			created  sql.NullTime
			updated  sql.NullTime
		)
		if err := rows.Scan(
			&entry.CorrelationID,
			&entry.SessionID,
			&entry.Operator,
			&entry.Skill,
			&entry.Action,
			&argsJSON,
			&entry.State,
			&entry.Detail,
			&created,
			&updated,
		); err != nil {
			return nil, err
		}
		if argsJSON != "" {
			_ = json.Unmarshal([]byte(argsJSON), &entry.Args)
		}
		if created.Valid {
			entry.CreatedAt = created.Time
		}
		if updated.Valid {
			entry.UpdatedAt = updated.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeArgs(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			correlation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			operator TEXT,
			skill TEXT NOT NULL,
			action TEXT NOT NULL,
			args_json TEXT,
			state TEXT NOT NULL,
			detail TEXT,
			terminal INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, correlation_id)
		);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_state ON audit_entries(state);
		CREATE INDEX IF NOT EXISTS idx_audit_updated ON audit_entries(updated_at);
	`)
	return err
}

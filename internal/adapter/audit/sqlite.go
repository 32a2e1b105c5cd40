package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentlink/internal/domain"
)

// defaultQueryLimit caps Query when the filter sets no limit.
const defaultQueryLimit = 100

// dbTimeLayout is fixed width so stored timestamps sort lexically.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func dbTime(t time.Time) string { return t.UTC().Format(dbTimeLayout) }

// SQLiteStore implements domain.AuditLogger and domain.AuditQuerier on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			ts              TEXT NOT NULL,
			level           TEXT NOT NULL,
			kind            TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			target          TEXT NOT NULL DEFAULT '',
			message         TEXT NOT NULL DEFAULT '',
			fields          TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_events (conversation_id);
		CREATE INDEX IF NOT EXISTS idx_audit_kind_ts ON audit_events (kind, ts);
	`)
	return err
}

// Log inserts ev.
func (s *SQLiteStore) Log(ctx context.Context, ev domain.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Level == "" {
		ev.Level = domain.LevelInfo
	}
	fields := []byte("{}")
	if len(ev.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(ev.Fields); err != nil {
			return domain.NewDomainError("SQLiteStore.Log", domain.ErrAuditWrite, err.Error())
		}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_events (ts, level, kind, conversation_id, target, message, fields) VALUES (?, ?, ?, ?, ?, ?, ?)",
		dbTime(ev.Timestamp), string(ev.Level), string(ev.Kind),
		ev.ConversationID, ev.Target, ev.Message, string(fields),
	)
	if err != nil {
		return domain.NewDomainError("SQLiteStore.Log", domain.ErrAuditWrite, err.Error())
	}
	addSpanEvent(ctx, ev)
	return nil
}

// Query returns matching events, newest first.
func (s *SQLiteStore) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, dbTime(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	q := "SELECT ts, level, kind, conversation_id, target, message, fields FROM audit_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			ev                      domain.AuditEvent
			ts, level, kind, fields string
		)
		if err := rows.Scan(&ts, &level, &kind, &ev.ConversationID, &ev.Target, &ev.Message, &fields); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp, _ = time.Parse(dbTimeLayout, ts)
		ev.Level = domain.AuditLevel(level)
		ev.Kind = domain.AuditKind(kind)
		if fields != "" && fields != "{}" {
			if err := json.Unmarshal([]byte(fields), &ev.Fields); err != nil {
				return nil, fmt.Errorf("decode audit fields: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than before and reports how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE ts < ?", dbTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

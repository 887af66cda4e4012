package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"roboai/internal/audit"

	_ "modernc.org/sqlite"
)

// Entry is a stored audit event.
type Entry struct {
	ID     int64
	Kind   audit.Kind
	Agent  string
	Symbol string
	Action string
	Reason string
	Detail map[string]any
	At     time.Time
}

// Journal is an append-only sqlite log of audit events.
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record implements audit.Sink.
func (j *Journal) Record(ctx context.Context, ev audit.Event) error {
	db, err := j.handle()
	if err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	var detail any
	if len(ev.Detail) > 0 {
		raw, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
		detail = string(raw)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_events(kind, agent, symbol, action, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`, string(ev.Kind), nullIfEmpty(ev.Agent), nullIfEmpty(ev.Symbol), nullIfEmpty(ev.Action),
		nullIfEmpty(ev.Reason), detail, at.UnixMilli())
	return err
}

// Query filters the journal. Zero values match everything; limit <= 0
// defaults to 100. Newest entries come first.
type Query struct {
	Kind  audit.Kind
	Agent string
	Limit int
}

func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	db, err := j.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, q.Agent)
	}
	stmt := "SELECT id, kind, agent, symbol, action, reason, detail, created_at FROM audit_events"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                             Entry
			kind                          string
			agent, symbol, action, reason sql.NullString
			detail                        sql.NullString
			created                       int64
		)
		if err := rows.Scan(&e.ID, &kind, &agent, &symbol, &action, &reason, &detail, &created); err != nil {
			return nil, err
		}
		e.Kind = audit.Kind(kind)
		e.Agent = agent.String
		e.Symbol = symbol.String
		e.Action = action.String
		e.Reason = reason.String
		e.At = time.UnixMilli(created)
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail id=%d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) handle() (*sql.DB, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, fmt.Errorf("journal is closed")
	}
	return j.db, nil
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		agent TEXT,
		symbol TEXT,
		action TEXT,
		reason TEXT,
		detail TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
	CREATE INDEX IF NOT EXISTS idx_audit_events_agent ON audit_events(agent);
	`
	_, err := db.Exec(stmt)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

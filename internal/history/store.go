// Package history persists health check records and resumable agent
// sessions in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/moolen/raid/internal/agent/session"
	"github.com/moolen/raid/internal/logging"
	"github.com/moolen/raid/internal/sysinfo"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the history database.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *logging.Logger
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent saves.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, now: time.Now, logger: logging.GetLogger("history")}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS system_checks (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		component TEXT NOT NULL,
		system_info_json TEXT NOT NULL,
		analysis TEXT NOT NULL,
		status TEXT NOT NULL,
		tool_calls_used INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_system_checks_timestamp ON system_checks(timestamp);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		problem TEXT NOT NULL,
		status TEXT NOT NULL,
		tool_calls_used INTEGER NOT NULL,
		tool_call_budget INTEGER NOT NULL,
		continue_increment INTEGER NOT NULL DEFAULT 0,
		transcript_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_updated ON agent_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.addColumn("agent_sessions", "continue_increment", "INTEGER NOT NULL DEFAULT 0")
}

// addColumn adds a column missing from a table created by an older version.
func (s *Store) addColumn(table, column, definition string) error {
	rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	s.logger.Info("Added column %s.%s", table, column)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Check is one recorded health check.
type Check struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	Component     string       `json:"component"`
	SystemInfo    sysinfo.Info `json:"system_info"`
	Analysis      string       `json:"analysis"`
	Status        string       `json:"status"`
	ToolCallsUsed int          `json:"tool_calls_used"`
}

// SaveCheck stores a check. Missing ID and Timestamp are filled in and
// returned.
func (s *Store) SaveCheck(ctx context.Context, c Check) (Check, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now()
	}
	info, err := json.Marshal(c.SystemInfo)
	if err != nil {
		return c, fmt.Errorf("marshal system info: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO system_checks (id, timestamp, component, system_info_json, analysis, status, tool_calls_used)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Timestamp.UnixNano(), c.Component, string(info), c.Analysis, c.Status, c.ToolCallsUsed)
	if err != nil {
		return c, fmt.Errorf("insert check: %w", err)
	}
	return c, nil
}

// RecentChecks returns up to limit checks, newest first.
func (s *Store) RecentChecks(ctx context.Context, limit int) ([]Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, component, system_info_json, analysis, status, tool_calls_used
		FROM system_checks ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	var out []Check
	for rows.Next() {
		var (
			c    Check
			ts   int64
			info string
		)
		if err := rows.Scan(&c.ID, &ts, &c.Component, &info, &c.Analysis, &c.Status, &c.ToolCallsUsed); err != nil {
			return nil, fmt.Errorf("scan check row: %w", err)
		}
		c.Timestamp = time.Unix(0, ts)
		if err := json.Unmarshal([]byte(info), &c.SystemInfo); err != nil {
			return nil, fmt.Errorf("decode system info of check %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveSession inserts or updates a session snapshot.
func (s *Store) SaveSession(ctx context.Context, snap session.Snapshot) error {
	messages, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO agent_sessions (id, problem, status, tool_calls_used, tool_call_budget, continue_increment,
		transcript_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		tool_calls_used = excluded.tool_calls_used,
		tool_call_budget = excluded.tool_call_budget,
		continue_increment = excluded.continue_increment,
		transcript_json = excluded.transcript_json,
		updated_at = excluded.updated_at`,
		snap.ID, snap.Problem, string(snap.State), snap.ToolCallsUsed, snap.ToolCallBudget, snap.ContinueIncrement,
		string(messages), createdAt.UnixNano(), updatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	s.logger.Debug("saved session %s (%s, %d/%d)", snap.ID, snap.State, snap.ToolCallsUsed, snap.ToolCallBudget)
	return nil
}

// LoadSession returns the snapshot with the given id.
func (s *Store) LoadSession(ctx context.Context, id string) (session.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, problem, status, tool_calls_used, tool_call_budget, continue_increment, transcript_json,
			created_at, updated_at
		FROM agent_sessions WHERE id = ?`, id)

	var (
		snap                 session.Snapshot
		status, messages     string
		createdAt, updatedAt int64
	)
	err := row.Scan(&snap.ID, &snap.Problem, &status, &snap.ToolCallsUsed, &snap.ToolCallBudget,
		&snap.ContinueIncrement, &messages, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("scan session row: %w", err)
	}

	snap.State = session.State(status)
	snap.CreatedAt = time.Unix(0, createdAt)
	snap.UpdatedAt = time.Unix(0, updatedAt)
	if err := json.Unmarshal([]byte(messages), &snap.Messages); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode transcript of session %s: %w", id, err)
	}
	return snap, nil
}

// SessionSummary is a row of the session list.
type SessionSummary struct {
	ID             string        `json:"id"`
	Problem        string        `json:"problem"`
	State          session.State `json:"state"`
	ToolCallsUsed  int           `json:"tool_calls_used"`
	ToolCallBudget int           `json:"tool_call_budget"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ListSessions returns up to limit sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, problem, status, tool_calls_used, tool_call_budget, created_at, updated_at
		FROM agent_sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum                  SessionSummary
			status               string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.Problem, &status, &sum.ToolCallsUsed, &sum.ToolCallBudget, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sum.State = session.State(status)
		sum.CreatedAt = time.Unix(0, createdAt)
		sum.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Cleanup deletes checks and finished sessions older than retention and
// returns the number of rows removed. Paused sessions are kept so they can
// still be resumed.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixNano()

	res, err := s.db.ExecContext(ctx, `DELETE FROM system_checks WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old checks: %w", err)
	}
	checks, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM agent_sessions WHERE updated_at < ? AND status IN (?, ?)`,
		cutoff, string(session.StateSucceeded), string(session.StateFailed))
	if err != nil {
		return checks, fmt.Errorf("delete old sessions: %w", err)
	}
	sessions, _ := res.RowsAffected()

	if total := checks + sessions; total > 0 {
		s.logger.Info("removed %d checks and %d sessions older than %s", checks, sessions, retention)
	}
	return checks + sessions, nil
}

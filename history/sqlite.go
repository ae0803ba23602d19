package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
	seq        INTEGER PRIMARY KEY,
	id         TEXT NOT NULL,
	source     TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const goalKey = "self_prompt_goal"

// SQLiteStore persists snapshots to a SQLite database. Each Save replaces
// the stored conversation in a single transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	for _, raw := range strings.Split(schemaSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w (statement=%q)", err, stmt)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, text, created_at FROM turns ORDER BY seq ASC`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Source, &t.Text, &createdAt); err != nil {
			return Snapshot{}, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		snap.Turns = append(snap.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate turns: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT value FROM agent_state WHERE key = ?`, goalKey).Scan(&snap.SelfPromptGoal)
	if err != nil && err != sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("load self-prompt goal: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (seq, id, source, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, t := range snap.Turns {
		if _, err := stmt.ExecContext(ctx, i, t.ID, t.Source, t.Text, t.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	if snap.SelfPromptGoal == "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM agent_state WHERE key = ?`, goalKey)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO agent_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, goalKey, snap.SelfPromptGoal)
	}
	if err != nil {
		return fmt.Errorf("save self-prompt goal: %w", err)
	}
	return tx.Commit()
}

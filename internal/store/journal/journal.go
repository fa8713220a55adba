// Package journal keeps a flat append-only audit trail next to the main
// store. It deliberately uses plain database/sql so the log survives even
// when the gorm store is mid-migration.
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

	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS journal (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_kind_at ON journal(kind, at);
`

// Journal is an append-only event log (dedup skips, order attempts,
// reconcile discrepancies, session transitions).
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Journal{db: db}, nil
}

// Append writes one event. payload is marshalled to JSON; marshal failures
// degrade to the error string rather than losing the entry.
func (j *Journal) Append(ctx context.Context, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.db.ExecContext(ctx,
		"INSERT INTO journal(at, kind, payload) VALUES(?, ?, ?)",
		time.Now().UnixMilli(), kind, string(data))
	return err
}

// Recent returns up to limit events of one kind, newest first. Used by the
// status surface and tests.
func (j *Journal) Recent(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx,
		"SELECT at, kind, payload FROM journal WHERE kind = ? ORDER BY at DESC, id DESC LIMIT ?",
		kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&at, &e.Kind, &e.Payload); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
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

type Entry struct {
	At      time.Time
	Kind    string
	Payload string
}

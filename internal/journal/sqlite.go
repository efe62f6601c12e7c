package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tungdtfgw/ccviz/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bar_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT    NOT NULL,
	timestamp   INTEGER NOT NULL,
	payload     TEXT    NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bar_events_type ON bar_events(type);
`

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	// a single writer keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite journal schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, ev types.BarEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bar_events (type, timestamp, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		string(ev.Type), ev.Timestamp, payloadOf(ev), time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, timestamp, payload, recorded_at FROM bar_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			typ      string
			payload  string
			recorded int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.Timestamp, &payload, &recorded); err != nil {
			return nil, err
		}
		e.Type = types.EventType(typ)
		e.Payload = []byte(payload)
		e.RecordedAt = time.UnixMilli(recorded)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chronological(out), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

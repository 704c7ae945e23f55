// Package store is the sole owner of the SQLite database: posts, comments,
// comment embeddings, derived activity statistics, and the per-file
// ingestion ledger. All writes are idempotent inserts so re-processing a
// file after a partial failure is safe.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func init() {
	// The activity-ratio update runs as one bulk SQL statement and needs a
	// natural log, which stock SQLite builds lack.
	sql.Register("sqlite3_redditdemand", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ln", math.Log, true)
		},
	})
}

// Store wraps the SQLite database. It is safe for concurrent use by the
// embedding scheduler's page workers; database/sql pools connections.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// An unreachable or unwritable database fails here, before any pipeline
// work starts.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3_redditdemand", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id                   TEXT PRIMARY KEY,
		subreddit            TEXT NOT NULL DEFAULT '',
		title                TEXT NOT NULL DEFAULT '',
		body                 TEXT,
		author               TEXT,
		created_utc          INTEGER,
		score                INTEGER,
		url                  TEXT,
		num_comments         INTEGER,
		last_comment_utc     INTEGER,
		recent_comment_count INTEGER,
		activity_ratio       REAL,
		reconstructed_text   TEXT,
		embedding            BLOB,
		embedded_at          INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit);
	CREATE INDEX IF NOT EXISTS idx_posts_embedded ON posts(embedded_at);

	CREATE TABLE IF NOT EXISTS comments (
		id               TEXT PRIMARY KEY,
		post_id          TEXT NOT NULL REFERENCES posts(id),
		parent_id        TEXT,
		parent_type      TEXT,
		author           TEXT,
		body             TEXT NOT NULL,
		created_utc      INTEGER,
		score            INTEGER,
		controversiality INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id);

	CREATE TABLE IF NOT EXISTS comment_embeddings (
		comment_id  TEXT PRIMARY KEY REFERENCES comments(id),
		embedding   BLOB NOT NULL,
		embedded_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ingest_log (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name     TEXT NOT NULL,
		file_type     TEXT NOT NULL,
		partition_key TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		rows_inserted INTEGER NOT NULL DEFAULT 0,
		error_text    TEXT,
		started_at    INTEGER NOT NULL,
		completed_at  INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_log_file ON ingest_log(file_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nullString maps "" to NULL for optional text columns.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullEpoch maps the zero time to NULL, otherwise Unix seconds.
func nullEpoch(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// timeFrom converts a nullable epoch column back to a UTC time.
func timeFrom(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

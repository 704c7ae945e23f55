package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/pkg/fn"
)

// InsertBatchSize is how many rows each insert transaction covers. Small
// enough to keep transactions short, large enough to amortize fsync cost.
const InsertBatchSize = 500

// InsertPosts writes posts in batches of InsertBatchSize. Rows whose id
// already exists are left untouched, so replaying a file never duplicates
// or clobbers data. The returned count is rows actually written.
func (s *Store) InsertPosts(ctx context.Context, posts []record.Post) (int64, error) {
	var written int64
	for _, batch := range fn.Chunk(posts, InsertBatchSize) {
		n, err := s.insertPostBatch(ctx, batch)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *Store) insertPostBatch(ctx context.Context, batch []record.Post) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin post batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (id, subreddit, title, body, author, created_utc, score, url, num_comments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare post insert: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, p := range batch {
		res, err := stmt.ExecContext(ctx,
			p.ID, p.Subreddit, p.Title, nullString(p.Body), nullString(p.Author),
			nullEpoch(p.CreatedUTC), p.Score, nullString(p.URL), p.NumComments)
		if err != nil {
			return 0, fmt.Errorf("store: insert post %s: %w", p.ID, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit post batch: %w", err)
	}
	return written, nil
}

// PostRow is a fully hydrated post row, used by tests and the search path.
type PostRow struct {
	ID                 string
	Subreddit          string
	Title              string
	Body               string
	Author             string
	CreatedUTC         time.Time
	Score              int64
	URL                string
	NumComments        int64
	LastCommentUTC     time.Time
	RecentCommentCount int64
	ActivityRatio      float64
	HasActivityRatio   bool
	ReconstructedText  string
	Embedding          []byte
	EmbeddedAt         time.Time
}

// GetPost loads one post by id, or nil when absent.
func (s *Store) GetPost(ctx context.Context, id string) (*PostRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subreddit, title, COALESCE(body, ''), COALESCE(author, ''),
		       created_utc, COALESCE(score, 0), COALESCE(url, ''), COALESCE(num_comments, 0),
		       last_comment_utc, COALESCE(recent_comment_count, 0),
		       activity_ratio, COALESCE(reconstructed_text, ''), embedding, embedded_at
		FROM posts WHERE id = ?`, id)

	var (
		p          PostRow
		createdUTC sql.NullInt64
		lastUTC    sql.NullInt64
		ratio      sql.NullFloat64
		embeddedAt sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Subreddit, &p.Title, &p.Body, &p.Author,
		&createdUTC, &p.Score, &p.URL, &p.NumComments,
		&lastUTC, &p.RecentCommentCount,
		&ratio, &p.ReconstructedText, &p.Embedding, &embeddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get post %s: %w", id, err)
	}
	p.CreatedUTC = timeFrom(createdUTC)
	p.LastCommentUTC = timeFrom(lastUTC)
	p.ActivityRatio = ratio.Float64
	p.HasActivityRatio = ratio.Valid
	p.EmbeddedAt = timeFrom(embeddedAt)
	return &p, nil
}

// PostMeta is the payload attached to a post's vector in the semantic
// index.
type PostMeta struct {
	Subreddit  string
	Title      string
	CreatedUTC time.Time
}

// PostsMeta loads metadata for a set of post ids in one query.
func (s *Store) PostsMeta(ctx context.Context, ids []string) (map[string]PostMeta, error) {
	if len(ids) == 0 {
		return map[string]PostMeta{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, subreddit, title, created_utc
		FROM posts WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("store: posts meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]PostMeta, len(ids))
	for rows.Next() {
		var (
			id      string
			m       PostMeta
			created sql.NullInt64
		)
		if err := rows.Scan(&id, &m.Subreddit, &m.Title, &created); err != nil {
			return nil, fmt.Errorf("store: scan post meta: %w", err)
		}
		m.CreatedUTC = timeFrom(created)
		out[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: posts meta: %w", err)
	}
	return out, nil
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count posts: %w", err)
	}
	return n, nil
}

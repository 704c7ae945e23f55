package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nybblers/redditdemand/pkg/vec"
)

// PendingText is one unit of embedding work: the row id and the text to
// embed.
type PendingText struct {
	ID   string
	Text string
}

// NextUnembeddedPosts returns up to limit posts without an embedding whose
// id sorts after afterID. Keyset paging lets the scheduler hand out
// disjoint pages while earlier pages are still in flight. An empty
// subreddit means all subreddits.
func (s *Store) NextUnembeddedPosts(ctx context.Context, afterID string, limit int, subreddit string) ([]PendingText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reconstructed_text
		FROM posts
		WHERE embedded_at IS NULL
		  AND reconstructed_text IS NOT NULL
		  AND id > ?
		  AND (? = '' OR subreddit = ?)
		ORDER BY id
		LIMIT ?`, afterID, subreddit, subreddit, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select unembedded posts: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

// NextUnembeddedComments returns up to limit comments that have no row in
// comment_embeddings, skipping bodies shorter than minBodyLen after
// trimming. Same keyset contract as NextUnembeddedPosts.
func (s *Store) NextUnembeddedComments(ctx context.Context, afterID string, limit int, subreddit string, minBodyLen int) ([]PendingText, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.body
		FROM comments c
		LEFT JOIN comment_embeddings ce ON ce.comment_id = c.id
		WHERE ce.comment_id IS NULL
		  AND LENGTH(TRIM(c.body)) >= ?
		  AND c.id > ?
		  AND (? = '' OR c.post_id IN (SELECT id FROM posts WHERE subreddit = ?))
		ORDER BY c.id
		LIMIT ?`, minBodyLen, afterID, subreddit, subreddit, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select unembedded comments: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

func scanPending(rows *sql.Rows) ([]PendingText, error) {
	var out []PendingText
	for rows.Next() {
		var p PendingText
		if err := rows.Scan(&p.ID, &p.Text); err != nil {
			return nil, fmt.Errorf("store: scan pending text: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: select pending text: %w", err)
	}
	return out, nil
}

// SetPostEmbeddings stores one vector per post id. A post that acquired an
// embedding since it was selected is left alone, preserving its original
// embedded_at; the returned count covers only rows actually written.
func (s *Store) SetPostEmbeddings(ctx context.Context, ids []string, vectors [][]float32, at time.Time) (int64, error) {
	if len(ids) != len(vectors) {
		return 0, fmt.Errorf("store: set post embeddings: %d ids but %d vectors", len(ids), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin embedding batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE posts SET embedding = ?, embedded_at = ?
		WHERE id = ? AND embedded_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare embedding update: %w", err)
	}
	defer stmt.Close()

	var written int64
	for i, id := range ids {
		res, err := stmt.ExecContext(ctx, vec.Serialize(vectors[i]), at.Unix(), id)
		if err != nil {
			return 0, fmt.Errorf("store: set embedding for %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit embedding batch: %w", err)
	}
	return written, nil
}

// InsertCommentEmbeddings stores one vector per comment id in the side
// table, ignoring comments already embedded.
func (s *Store) InsertCommentEmbeddings(ctx context.Context, ids []string, vectors [][]float32, at time.Time) (int64, error) {
	if len(ids) != len(vectors) {
		return 0, fmt.Errorf("store: insert comment embeddings: %d ids but %d vectors", len(ids), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin comment embedding batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comment_embeddings (comment_id, embedding, embedded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(comment_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare comment embedding insert: %w", err)
	}
	defer stmt.Close()

	var written int64
	for i, id := range ids {
		res, err := stmt.ExecContext(ctx, id, vec.Serialize(vectors[i]), at.Unix())
		if err != nil {
			return 0, fmt.Errorf("store: insert embedding for comment %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit comment embedding batch: %w", err)
	}
	return written, nil
}

// CountUnembeddedPosts reports how many reconstructed posts still lack an
// embedding, for progress logging.
func (s *Store) CountUnembeddedPosts(ctx context.Context, subreddit string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts
		WHERE embedded_at IS NULL
		  AND reconstructed_text IS NOT NULL
		  AND (? = '' OR subreddit = ?)`, subreddit, subreddit).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count unembedded posts: %w", err)
	}
	return n, nil
}

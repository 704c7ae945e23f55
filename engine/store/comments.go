package store

import (
	"context"
	"fmt"

	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/pkg/fn"
)

// LoadPostIDs returns the set of all stored post ids. The comment importer
// loads it once per file and filters comments against it in memory instead
// of hitting a foreign-key error per orphaned row.
func (s *Store) LoadPostIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("store: load post ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan post id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load post ids: %w", err)
	}
	return ids, nil
}

// InsertComments writes comments in batches with the same idempotent
// ON CONFLICT DO NOTHING semantics as InsertPosts. Callers must have
// filtered out comments whose post is not stored (see LoadPostIDs);
// foreign keys are enforced and an orphan fails the batch.
func (s *Store) InsertComments(ctx context.Context, comments []record.Comment) (int64, error) {
	var written int64
	for _, batch := range fn.Chunk(comments, InsertBatchSize) {
		n, err := s.insertCommentBatch(ctx, batch)
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *Store) insertCommentBatch(ctx context.Context, batch []record.Comment) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin comment batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comments (id, post_id, parent_id, parent_type, author, body, created_utc, score, controversiality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare comment insert: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, c := range batch {
		res, err := stmt.ExecContext(ctx,
			c.ID, c.PostID, nullString(c.ParentID), nullString(c.ParentType),
			nullString(c.Author), c.Body, nullEpoch(c.CreatedUTC), c.Score, c.Controversiality)
		if err != nil {
			return 0, fmt.Errorf("store: insert comment %s: %w", c.ID, err)
		}
		n, _ := res.RowsAffected()
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit comment batch: %w", err)
	}
	return written, nil
}

// CountComments returns the number of stored comments.
func (s *Store) CountComments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count comments: %w", err)
	}
	return n, nil
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/nybblers/redditdemand/pkg/fn"
)

const (
	// reconstructPageSize bounds how many threads are assembled per
	// transaction so a crash loses at most one page of work.
	reconstructPageSize = 200

	// topCommentsPerThread caps how many comments a thread blob carries,
	// highest score first.
	topCommentsPerThread = 10
)

// BuildThreadText assembles the canonical text blob embedded for a post:
// title, body, and its top comments under fixed section markers. Empty
// sections are still emitted so all blobs share one shape.
func BuildThreadText(title, body string, comments []string) string {
	var b strings.Builder
	b.WriteString("[TITLE]\n")
	b.WriteString(strings.TrimSpace(title))
	b.WriteString("\n\n[BODY]\n")
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n\n[TOP COMMENTS]\n")
	for i, c := range comments {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(c))
	}
	return b.String()
}

// ReconstructThreads fills reconstructed_text for every post that does not
// have one yet, paging through pending posts until none remain. Posts
// without comments still get a blob from title and body alone. Returns how
// many posts were assembled.
func (s *Store) ReconstructThreads(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := s.reconstructPage(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n < reconstructPageSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (s *Store) reconstructPage(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(body, '')
		FROM posts
		WHERE reconstructed_text IS NULL
		ORDER BY id
		LIMIT ?`, reconstructPageSize)
	if err != nil {
		return 0, fmt.Errorf("store: select pending threads: %w", err)
	}

	type pending struct {
		id, title, body string
	}
	var page []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.title, &p.body); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan pending thread: %w", err)
		}
		page = append(page, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("store: select pending threads: %w", err)
	}
	rows.Close()

	if len(page) == 0 {
		return 0, nil
	}

	ids := make([]string, len(page))
	for i, p := range page {
		ids[i] = p.id
	}
	topComments, err := s.topCommentsFor(ctx, ids)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin reconstruct page: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE posts SET reconstructed_text = ? WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare reconstruct update: %w", err)
	}
	defer stmt.Close()

	for _, p := range page {
		blob := BuildThreadText(p.title, p.body, topComments[p.id])
		if _, err := stmt.ExecContext(ctx, blob, p.id); err != nil {
			return 0, fmt.Errorf("store: write thread %s: %w", p.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit reconstruct page: %w", err)
	}
	return int64(len(page)), nil
}

// topCommentsFor returns, per post id, up to topCommentsPerThread comment
// bodies ordered by score descending.
func (s *Store) topCommentsFor(ctx context.Context, postIDs []string) (map[string][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(postIDs)), ",")
	args := make([]any, len(postIDs))
	for i, id := range postIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT post_id, body
		FROM comments
		WHERE post_id IN (%s)
		ORDER BY post_id, score DESC, id`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("store: select top comments: %w", err)
	}
	defer rows.Close()

	type commentRow struct {
		postID, body string
	}
	var all []commentRow
	for rows.Next() {
		var c commentRow
		if err := rows.Scan(&c.postID, &c.body); err != nil {
			return nil, fmt.Errorf("store: scan comment body: %w", err)
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: select top comments: %w", err)
	}

	// Rows arrive score-descending within each post, so grouping keeps
	// the best comments first and the cap takes the top of each group.
	out := make(map[string][]string, len(postIDs))
	for postID, group := range fn.GroupBy(all, func(c commentRow) string { return c.postID }) {
		if len(group) > topCommentsPerThread {
			group = group[:topCommentsPerThread]
		}
		out[postID] = fn.Map(group, func(c commentRow) string { return c.body })
	}
	return out, nil
}

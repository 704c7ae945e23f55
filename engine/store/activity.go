package store

import (
	"context"
	"fmt"
	"time"
)

// RecentWindow is how far back from a post's latest comment a comment
// still counts as recent activity. Measuring from the post's own last
// comment rather than from the wall clock keeps the signal meaningful for
// archival dumps processed long after the fact.
const RecentWindow = 90 * 24 * time.Hour

// UpdateCommentStats recomputes last_comment_utc and recent_comment_count
// for every post that has comments, in one bulk statement. A post's recent
// count is the number of its comments within RecentWindow of its own
// latest comment, so it is always at least one.
func (s *Store) UpdateCommentStats(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET last_comment_utc = agg.last_utc,
		    recent_comment_count = agg.recent_count
		FROM (
			SELECT c.post_id, m.last_utc, COUNT(*) AS recent_count
			FROM comments c
			JOIN (
				SELECT post_id, MAX(created_utc) AS last_utc
				FROM comments
				WHERE created_utc IS NOT NULL
				GROUP BY post_id
			) m ON m.post_id = c.post_id
			WHERE c.created_utc > m.last_utc - ?
			GROUP BY c.post_id, m.last_utc
		) AS agg
		WHERE posts.id = agg.post_id`,
		int64(RecentWindow/time.Second))
	if err != nil {
		return fmt.Errorf("store: update comment stats: %w", err)
	}
	return nil
}

// UpdateActivityRatio recomputes activity_ratio for every dated post:
//
//	recent_comment_count * ln(1 + age_days)
//
// where age_days is the post's age at now, floored at one day so brand-new
// posts are not zeroed out by the logarithm. Posts without comments score
// zero rather than NULL so ranking queries need no null handling.
func (s *Store) UpdateActivityRatio(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET activity_ratio = COALESCE(recent_comment_count, 0)
		    * ln(1 + max((? - created_utc) / 86400.0, 1.0))
		WHERE created_utc IS NOT NULL`,
		now.Unix())
	if err != nil {
		return fmt.Errorf("store: update activity ratio: %w", err)
	}
	return nil
}

// RankedPost is a post ordered by activity for reporting.
type RankedPost struct {
	ID            string
	Subreddit     string
	Title         string
	ActivityRatio float64
}

// TopByActivity returns the highest-activity posts, optionally scoped to
// one subreddit.
func (s *Store) TopByActivity(ctx context.Context, subreddit string, limit int) ([]RankedPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subreddit, title, activity_ratio
		FROM posts
		WHERE activity_ratio IS NOT NULL AND (? = '' OR subreddit = ?)
		ORDER BY activity_ratio DESC
		LIMIT ?`, subreddit, subreddit, limit)
	if err != nil {
		return nil, fmt.Errorf("store: top by activity: %w", err)
	}
	defer rows.Close()

	var out []RankedPost
	for rows.Next() {
		var p RankedPost
		if err := rows.Scan(&p.ID, &p.Subreddit, &p.Title, &p.ActivityRatio); err != nil {
			return nil, fmt.Errorf("store: scan ranked post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: top by activity: %w", err)
	}
	return out, nil
}

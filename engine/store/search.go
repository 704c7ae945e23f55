package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/nybblers/redditdemand/pkg/vec"
)

// SimilarPost is one nearest-neighbor search hit.
type SimilarPost struct {
	ID        string
	Subreddit string
	Title     string
	Score     float32
}

// SearchSimilarPosts ranks embedded posts by cosine similarity to the
// query vector and returns the top limit hits. The scan is linear over all
// embedded rows, which is fine at the corpus sizes one machine ingests;
// larger deployments mirror vectors into the semantic index instead.
func (s *Store) SearchSimilarPosts(ctx context.Context, query []float32, limit int) ([]SimilarPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subreddit, title, embedding
		FROM posts
		WHERE embedded_at IS NOT NULL AND embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: search posts: %w", err)
	}
	defer rows.Close()

	var hits []SimilarPost
	for rows.Next() {
		var (
			hit  SimilarPost
			blob []byte
		)
		if err := rows.Scan(&hit.ID, &hit.Subreddit, &hit.Title, &blob); err != nil {
			return nil, fmt.Errorf("store: scan search hit: %w", err)
		}
		hit.Score = vec.Cosine(query, vec.Deserialize(blob))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search posts: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

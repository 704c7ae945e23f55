// Package semantic mirrors post embeddings into a Qdrant collection for
// fast k-NN search. The relational store remains the source of truth; the
// collection can always be rebuilt from it, so mirror writes are
// best-effort from the scheduler's point of view.
package semantic

import (
	"time"

	"github.com/google/uuid"
)

// pointNamespace makes point ids a pure function of the post id, so
// re-mirroring a post overwrites its point instead of duplicating it.
var pointNamespace = uuid.MustParse("9f2c1b7e-5a84-4b6f-9e3d-2c8a41d0f6b3")

// PointID returns the deterministic Qdrant point id for a post.
func PointID(postID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(postID)).String()
}

// PostVector is one mirrored post embedding with its search payload.
type PostVector struct {
	PostID     string
	Subreddit  string
	Title      string
	CreatedUTC time.Time
	Embedding  []float32
}

// SearchResult is one k-NN hit.
type SearchResult struct {
	PostID    string
	Subreddit string
	Title     string
	Score     float32
}

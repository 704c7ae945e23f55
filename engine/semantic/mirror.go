package semantic

import (
	"context"
	"fmt"

	"github.com/nybblers/redditdemand/engine/store"
)

// Upserter is the slice of VectorStore the mirror needs.
type Upserter interface {
	UpsertPosts(ctx context.Context, vectors []PostVector) error
}

// MetaSource resolves post ids to their search payload. *store.Store
// satisfies it.
type MetaSource interface {
	PostsMeta(ctx context.Context, ids []string) (map[string]store.PostMeta, error)
}

// Mirror joins freshly computed post vectors with their metadata and
// pushes them to the vector store. It satisfies the embedding scheduler's
// mirror hook.
type Mirror struct {
	vectors Upserter
	meta    MetaSource
}

// NewMirror creates a Mirror.
func NewMirror(vectors Upserter, meta MetaSource) *Mirror {
	return &Mirror{vectors: vectors, meta: meta}
}

// Upsert mirrors one batch of post vectors.
func (m *Mirror) Upsert(ctx context.Context, ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("semantic: mirror %d ids but %d vectors", len(ids), len(embeddings))
	}

	meta, err := m.meta.PostsMeta(ctx, ids)
	if err != nil {
		return fmt.Errorf("semantic: mirror metadata: %w", err)
	}

	batch := make([]PostVector, 0, len(ids))
	for i, id := range ids {
		pm := meta[id]
		batch = append(batch, PostVector{
			PostID:     id,
			Subreddit:  pm.Subreddit,
			Title:      pm.Title,
			CreatedUTC: pm.CreatedUTC,
			Embedding:  embeddings[i],
		})
	}
	return m.vectors.UpsertPosts(ctx, batch)
}

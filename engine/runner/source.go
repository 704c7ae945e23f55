package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nybblers/redditdemand/engine/embed"
	"github.com/nybblers/redditdemand/engine/ingest"
	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/engine/store"
)

// PipelineDeps is what a post import-and-embed source needs.
type PipelineDeps struct {
	Store    *store.Store
	Importer *ingest.Importer
	Backend  embed.Backend
	Filters  record.Filters
	// EmbedWorkers bounds concurrent embedding batches per window.
	EmbedWorkers int
	Log          *slog.Logger
}

// PostPipelineSource builds a Source that advances one subreddit's post
// pipeline a window at a time: import the next window of submissions,
// rebuild thread text, then embed that subreddit's pending posts. Each
// window gets its own ledger partition so windows never shadow each other.
func PostPipelineSource(deps PipelineDeps, pair ingest.Pair) Source {
	return Source{
		Name: pair.Subreddit,
		Process: func(ctx context.Context, offset, limit int64) (int64, error) {
			stats, err := deps.Importer.ImportPosts(ctx, pair.Submissions, ingest.Options{
				Offset:    offset,
				Limit:     limit,
				Filters:   deps.Filters,
				Partition: fmt.Sprintf("offset=%d", offset),
			})
			if err != nil {
				return 0, err
			}
			if stats.Accepted == 0 {
				return 0, nil
			}

			if err := deps.Importer.Finalize(ctx, time.Now()); err != nil {
				return 0, err
			}

			sched := embed.New(deps.Store, deps.Backend, embed.Config{
				Kind:      embed.KindPosts,
				Subreddit: pair.Subreddit,
				Workers:   deps.EmbedWorkers,
			}, deps.Log)
			if _, err := sched.Run(ctx); err != nil {
				return 0, err
			}
			return stats.Accepted, nil
		},
	}
}

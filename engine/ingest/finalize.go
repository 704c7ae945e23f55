package ingest

import (
	"context"
	"time"
)

// Finalize runs the derivation passes that depend on posts and comments
// both being loaded: per-post comment statistics, activity ratios, and
// thread text reconstruction. All three are full recomputations, so
// running Finalize after every file import is wasteful but never wrong;
// the pipeline runs it once per subreddit.
func (im *Importer) Finalize(ctx context.Context, now time.Time) error {
	start := time.Now()
	if err := im.store.UpdateCommentStats(ctx); err != nil {
		return err
	}
	if err := im.store.UpdateActivityRatio(ctx, now); err != nil {
		return err
	}
	threads, err := im.store.ReconstructThreads(ctx)
	if err != nil {
		return err
	}
	im.log.Info("derivations updated",
		"threads_built", threads, "elapsed", time.Since(start).Round(time.Second))
	return nil
}

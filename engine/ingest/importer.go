// Package ingest drives one dump file end to end: stream lines, normalize
// records, and persist them in idempotent batches, with every attempt
// recorded in the ingestion ledger. The dry-run path runs the identical
// read-and-normalize pipeline and only skips the writes, so its counts
// predict a real run exactly.
package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/engine/store"
	"github.com/nybblers/redditdemand/engine/stream"
)

// File types recorded in the ledger.
const (
	TypeSubmissions = "submissions"
	TypeComments    = "comments"
)

// Options tunes one file import.
type Options struct {
	// Offset skips the first Offset records that pass normalization
	// before inserting any. The overnight runner uses it to resume a
	// partially consumed file; offsets count valid records, not raw
	// lines, so filter changes do not shift the window.
	Offset int64
	// Limit stops after this many accepted records; 0 = whole file.
	Limit int64
	// Filters is applied during normalization.
	Filters record.Filters
	// DryRun counts what would be written without touching the database
	// or the ledger.
	DryRun bool
	// Partition qualifies the ledger entry when one physical file is
	// ingested in named slices (e.g. per subreddit out of a monthly dump).
	Partition string
}

// Stats summarizes one file import.
type Stats struct {
	Read        int64 // lines consumed
	Accepted    int64 // records that passed normalization
	Inserted    int64 // rows actually written (0 in dry-run)
	Skipped     map[record.Reason]int64
	AlreadyDone bool // ledger said the file was complete; nothing was read
}

func newStats() Stats {
	return Stats{Skipped: make(map[record.Reason]int64)}
}

// SkippedTotal sums skips across all reasons.
func (s Stats) SkippedTotal() int64 {
	var n int64
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// Importer runs dump files into the store.
type Importer struct {
	store *store.Store
	log   *slog.Logger
}

// New creates an Importer.
func New(st *store.Store, log *slog.Logger) *Importer {
	return &Importer{store: st, log: log}
}

// ImportPosts ingests one submissions file.
func (im *Importer) ImportPosts(ctx context.Context, path string, opts Options) (Stats, error) {
	return im.importFile(ctx, path, TypeSubmissions, opts, nil)
}

// ImportComments ingests one comments file. The stored post-id set is
// loaded once up front; comments pointing at posts that never made it into
// storage are dropped rather than tripping foreign-key errors row by row.
func (im *Importer) ImportComments(ctx context.Context, path string, opts Options) (Stats, error) {
	postIDs, err := im.store.LoadPostIDs(ctx)
	if err != nil {
		return newStats(), err
	}
	return im.importFile(ctx, path, TypeComments, opts, postIDs)
}

func (im *Importer) importFile(ctx context.Context, path, fileType string, opts Options, postIDs map[string]struct{}) (Stats, error) {
	stats := newStats()
	fileName := filepath.Base(path)
	log := im.log.With("file", fileName, "type", fileType)

	if !opts.DryRun {
		done, err := im.store.FileComplete(ctx, fileName, opts.Partition)
		if err != nil {
			return stats, err
		}
		if done {
			log.Info("file already ingested, skipping")
			stats.AlreadyDone = true
			return stats, nil
		}
	}

	var logID int64
	if !opts.DryRun {
		var err error
		logID, err = im.store.BeginFile(ctx, fileName, fileType, opts.Partition)
		if err != nil {
			return stats, err
		}
	}

	start := time.Now()
	err := im.run(ctx, path, fileType, opts, postIDs, &stats)
	if err != nil {
		if !opts.DryRun {
			if ferr := im.store.FailFile(ctx, logID, err.Error()); ferr != nil {
				log.Error("ledger update failed", "error", ferr)
			}
		}
		return stats, err
	}

	if !opts.DryRun {
		if err := im.store.CompleteFile(ctx, logID, stats.Inserted); err != nil {
			return stats, err
		}
	}
	log.Info("file ingested",
		"read", stats.Read, "accepted", stats.Accepted, "inserted", stats.Inserted,
		"skipped", stats.SkippedTotal(), "dry_run", opts.DryRun,
		"elapsed", time.Since(start).Round(time.Second))
	return stats, nil
}

func (im *Importer) run(ctx context.Context, path, fileType string, opts Options, postIDs map[string]struct{}, stats *Stats) error {
	r, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		posts     []record.Post
		comments  []record.Comment
		validSeen int64
	)

	flush := func() error {
		if opts.DryRun {
			posts = posts[:0]
			comments = comments[:0]
			return nil
		}
		var n int64
		var err error
		if fileType == TypeSubmissions {
			n, err = im.store.InsertPosts(ctx, posts)
			posts = posts[:0]
		} else {
			n, err = im.store.InsertComments(ctx, comments)
			comments = comments[:0]
		}
		stats.Inserted += n
		return err
	}

	for r.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Read++

		if fileType == TypeSubmissions {
			p, reason := record.NormalizePost(r.Text(), opts.Filters)
			if reason != record.ReasonNone {
				stats.Skipped[reason]++
				continue
			}
			validSeen++
			if validSeen <= opts.Offset {
				continue
			}
			posts = append(posts, *p)
		} else {
			c, reason := record.NormalizeComment(r.Text(), opts.Filters)
			if reason == record.ReasonNone {
				if _, ok := postIDs[c.PostID]; !ok {
					reason = record.ReasonUnknownPost
				}
			}
			if reason != record.ReasonNone {
				stats.Skipped[reason]++
				continue
			}
			validSeen++
			if validSeen <= opts.Offset {
				continue
			}
			comments = append(comments, *c)
		}
		stats.Accepted++

		if len(posts) >= store.InsertBatchSize || len(comments) >= store.InsertBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		if opts.Limit > 0 && stats.Accepted >= opts.Limit {
			break
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	return flush()
}

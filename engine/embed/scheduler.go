package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nybblers/redditdemand/engine/store"
	"github.com/nybblers/redditdemand/pkg/fn"
	"github.com/nybblers/redditdemand/pkg/resilience"
)

// Kind selects which table the scheduler works through.
type Kind string

const (
	KindPosts    Kind = "posts"
	KindComments Kind = "comments"
)

const (
	// DefaultBatchSize is how many texts each backend call carries.
	DefaultBatchSize = 100
	// DefaultWorkers bounds concurrent in-flight batches.
	DefaultWorkers = 4
	// DefaultMinCommentChars drops trivially short comments from the
	// embedding queue; "this" and "+1" retrieve nothing useful.
	DefaultMinCommentChars = 20
)

// Mirror receives post vectors after they are durably stored, typically a
// vector database for fast similarity search. Mirror failures are logged,
// never fatal: the relational store remains the source of truth and a
// mirror can be rebuilt from it.
type Mirror interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
}

// Config tunes one scheduler run.
type Config struct {
	Kind            Kind
	Subreddit       string // empty = all
	BatchSize       int
	Workers         int
	Limit           int64 // max rows to process; 0 = all
	DryRun          bool
	MinCommentChars int
	Retry           fn.RetryOpts
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindPosts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MinCommentChars <= 0 {
		c.MinCommentChars = DefaultMinCommentChars
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = fn.DefaultRetry
	}
	return c
}

// Stats summarizes one run.
type Stats struct {
	Selected int64 // rows pulled from the queue
	Embedded int64 // rows a backend call succeeded for
	Written  int64 // rows actually written back (0 in dry-run)
	Failed   int64 // rows whose batch exhausted its retries
}

// Scheduler drains the unembedded queue: it pages through pending rows,
// embeds each page on a bounded worker pool, and writes vectors back.
// Every run is resumable because selection is driven entirely by what the
// store says still lacks an embedding.
type Scheduler struct {
	store   *store.Store
	backend Backend
	mirror  Mirror
	breaker *resilience.Breaker
	cfg     Config
	log     *slog.Logger
}

// New creates a Scheduler. The backend sits behind a circuit breaker so a
// sweep against a dead backend fails its remaining pages fast instead of
// exhausting the retry budget for each one. In dry-run mode the configured
// backend is replaced with the placeholder, so no network calls are made.
func New(st *store.Store, backend Backend, cfg Config, log *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if cfg.DryRun {
		backend = NewDryRun(backend.Dims())
	}
	return &Scheduler{
		store:   st,
		backend: backend,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		cfg:     cfg,
		log:     log,
	}
}

// SetMirror attaches an optional post-vector mirror.
func (s *Scheduler) SetMirror(m Mirror) { s.mirror = m }

// Run performs one sweep over the pending queue. Pages advance by keyset
// (id > last handed out), so pages still in flight never overlap with new
// selections. A batch that exhausts its retries is logged, counted, and
// skipped; the sweep carries on and a later run picks the rows up again.
// Run returns early only on context cancellation.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	var (
		sem        = make(chan struct{}, s.cfg.Workers)
		wg         sync.WaitGroup
		embedded   atomic.Int64
		written    atomic.Int64
		failed     atomic.Int64
		selected   int64
		lastID     string
		sweepStart = time.Now()
	)

	s.log.Info("embedding sweep starting",
		"kind", s.cfg.Kind, "backend", s.backend.Name(),
		"batch_size", s.cfg.BatchSize, "workers", s.cfg.Workers, "dry_run", s.cfg.DryRun)

	for ctx.Err() == nil {
		pageSize := s.cfg.BatchSize
		if s.cfg.Limit > 0 {
			remaining := s.cfg.Limit - selected
			if remaining <= 0 {
				break
			}
			if remaining < int64(pageSize) {
				pageSize = int(remaining)
			}
		}

		page, err := s.nextPage(ctx, lastID, pageSize)
		if err != nil {
			wg.Wait()
			return s.stats(selected, &embedded, &written, &failed), err
		}
		if len(page) == 0 {
			break
		}
		lastID = page[len(page)-1].ID
		selected += int64(len(page))

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return s.stats(selected, &embedded, &written, &failed), ctx.Err()
		}
		wg.Add(1)
		go func(page []store.PendingText) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := s.processPage(ctx, page)
			if err != nil {
				failed.Add(int64(len(page)))
				s.log.Error("embedding batch failed",
					"kind", s.cfg.Kind, "count", len(page), "error", err)
				return
			}
			embedded.Add(int64(len(page)))
			written.Add(n)
		}(page)
	}

	wg.Wait()
	stats := s.stats(selected, &embedded, &written, &failed)
	s.log.Info("embedding sweep finished",
		"kind", s.cfg.Kind, "selected", stats.Selected, "embedded", stats.Embedded,
		"written", stats.Written, "failed", stats.Failed,
		"elapsed", time.Since(sweepStart).Round(time.Second))
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Scheduler) stats(selected int64, embedded, written, failed *atomic.Int64) Stats {
	return Stats{
		Selected: selected,
		Embedded: embedded.Load(),
		Written:  written.Load(),
		Failed:   failed.Load(),
	}
}

func (s *Scheduler) nextPage(ctx context.Context, afterID string, limit int) ([]store.PendingText, error) {
	switch s.cfg.Kind {
	case KindPosts:
		return s.store.NextUnembeddedPosts(ctx, afterID, limit, s.cfg.Subreddit)
	case KindComments:
		return s.store.NextUnembeddedComments(ctx, afterID, limit, s.cfg.Subreddit, s.cfg.MinCommentChars)
	default:
		return nil, fmt.Errorf("embed: unknown kind %q", s.cfg.Kind)
	}
}

// processPage embeds one page and writes the vectors back. Returns rows
// written; zero in dry-run mode.
func (s *Scheduler) processPage(ctx context.Context, page []store.PendingText) (int64, error) {
	texts := fn.Map(page, func(p store.PendingText) string { return p.Text })

	result := resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.Retry(ctx, s.cfg.Retry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(s.backend.EmbedBatch(ctx, texts))
		})
	})
	vectors, err := result.Unwrap()
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(page) {
		return 0, fmt.Errorf("embed: backend returned %d vectors for %d texts", len(vectors), len(page))
	}

	if s.cfg.DryRun {
		return 0, nil
	}

	ids := fn.Map(page, func(p store.PendingText) string { return p.ID })

	now := time.Now()
	var written int64
	switch s.cfg.Kind {
	case KindPosts:
		written, err = s.store.SetPostEmbeddings(ctx, ids, vectors, now)
	case KindComments:
		written, err = s.store.InsertCommentEmbeddings(ctx, ids, vectors, now)
	}
	if err != nil {
		return 0, err
	}

	if s.mirror != nil && s.cfg.Kind == KindPosts {
		if err := s.mirror.Upsert(ctx, ids, vectors); err != nil {
			s.log.Warn("vector mirror upsert failed", "count", len(ids), "error", err)
		}
	}
	return written, nil
}

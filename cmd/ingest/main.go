// Command ingest runs the dump pipeline: import submissions and comments
// from a directory of Reddit dump files into SQLite, derive activity
// statistics and thread text, and embed pending rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nybblers/redditdemand/engine/embed"
	"github.com/nybblers/redditdemand/engine/ingest"
	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/engine/semantic"
	"github.com/nybblers/redditdemand/engine/store"
	"github.com/nybblers/redditdemand/pkg/metrics"
)

var met = metrics.New()

var (
	mFilesProcessed = met.Counter("redditdemand_ingest_files_total", "Dump files processed")
	mRowsRead       = met.Counter("redditdemand_ingest_rows_read_total", "Lines consumed from dump files")
	mRowsInserted   = met.Counter("redditdemand_ingest_rows_inserted_total", "Rows written to storage")
	mRowsSkipped    = func(reason string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("redditdemand_ingest_rows_skipped_total", "reason", reason), "Records dropped during normalization")
	}
	mRowsEmbedded  = met.Counter("redditdemand_embed_rows_total", "Vectors written back to storage")
	mEmbedFailures = met.Counter("redditdemand_embed_failures_total", "Rows whose embedding batch exhausted retries")
	mEmbedPending  = met.Gauge("redditdemand_embed_pending_posts", "Posts still lacking an embedding after the sweep")
)

func main() {
	var (
		dbPath      = flag.String("db", "redditdemand.db", "SQLite database path")
		dataDir     = flag.String("dir", "", "directory of <subreddit>_submissions/_comments dump files")
		mode        = flag.String("mode", "all", "pipeline stage: import, embed, or all")
		target      = flag.String("target", "posts", "embedding target: posts, comments, or both")
		subreddit   = flag.String("subreddit", "", "restrict embedding to one subreddit")
		year        = flag.Int("year", 0, "keep only records created in this year (0 = all)")
		limit       = flag.Int64("limit", 0, "stop each file after this many accepted records (0 = all)")
		dryRun      = flag.Bool("dry-run", false, "count work without writing")
		skipStats   = flag.Bool("skip-stats", false, "skip activity statistics and thread reconstruction after import")
		backend     = flag.String("backend", "dry-run", "embedding backend: dry-run, local, or remote")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL for the local backend")
		model       = flag.String("model", "nomic-embed-text", "embedding model name")
		dims        = flag.Int("dims", 768, "embedding dimensionality")
		remoteURL   = flag.String("remote-url", "https://api.openai.com", "base URL for the remote backend")
		keyEnv      = flag.String("api-key-env", "OPENAI_API_KEY", "environment variable holding the remote API key")
		rpm         = flag.Int("rpm", 0, "remote backend requests per minute (0 = unlimited)")
		batchSize   = flag.Int("batch", embed.DefaultBatchSize, "texts per embedding call")
		workers     = flag.Int("workers", embed.DefaultWorkers, "concurrent embedding batches")
		qdrantAddr  = flag.String("qdrant", "", "Qdrant gRPC address to mirror post vectors into (empty = off)")
		collection  = flag.String("collection", "redditdemand", "Qdrant collection name")
		metricsPort = flag.Int("metrics-port", 0, "serve /metrics on this port (0 = off)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsPort > 0 {
		met.ServeAsync(*metricsPort)
	}

	doImport := *mode == "import" || *mode == "all"
	doEmbed := *mode == "embed" || *mode == "all"
	if !doImport && !doEmbed {
		log.Error("invalid mode", "mode", *mode)
		os.Exit(1)
	}
	if doImport && *dataDir == "" {
		log.Error("-dir is required for import")
		os.Exit(1)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Error("storage open failed", "db", *dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Error("storage unreachable", "db", *dbPath, "error", err)
		os.Exit(1)
	}

	if doImport {
		if err := runImport(ctx, st, *dataDir, record.Filters{Year: *year}, *limit, *dryRun, *skipStats, log); err != nil {
			log.Error("import failed", "error", err)
			os.Exit(1)
		}
	}

	if doEmbed {
		if err := runEmbed(ctx, st, embedConfig{
			target:     *target,
			subreddit:  *subreddit,
			backend:    *backend,
			ollamaURL:  *ollamaURL,
			model:      *model,
			dims:       *dims,
			remoteURL:  *remoteURL,
			keyEnv:     *keyEnv,
			rpm:        *rpm,
			batchSize:  *batchSize,
			workers:    *workers,
			limit:      *limit,
			dryRun:     *dryRun,
			qdrantAddr: *qdrantAddr,
			collection: *collection,
		}, log); err != nil {
			log.Error("embedding failed", "error", err)
			os.Exit(1)
		}
	}
}

func runImport(ctx context.Context, st *store.Store, dir string, filters record.Filters, limit int64, dryRun, skipStats bool, log *slog.Logger) error {
	pairs, err := ingest.FindPairs(dir)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return fmt.Errorf("no dump files found in %s", dir)
	}
	log.Info("importing dumps", "dir", dir, "subreddits", len(pairs), "dry_run", dryRun)

	im := ingest.New(st, log)
	opts := ingest.Options{Limit: limit, Filters: filters, DryRun: dryRun}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats, err := im.ImportPosts(ctx, pair.Submissions, opts)
		if err != nil {
			return err
		}
		observe(stats)

		if pair.Comments != "" {
			stats, err = im.ImportComments(ctx, pair.Comments, opts)
			if err != nil {
				return err
			}
			observe(stats)
		}
	}

	if dryRun || skipStats {
		return nil
	}
	return im.Finalize(ctx, time.Now())
}

func observe(stats ingest.Stats) {
	mFilesProcessed.Inc()
	mRowsRead.Add(stats.Read)
	mRowsInserted.Add(stats.Inserted)
	for reason, n := range stats.Skipped {
		mRowsSkipped(string(reason)).Add(n)
	}
}

type embedConfig struct {
	target     string
	subreddit  string
	backend    string
	ollamaURL  string
	model      string
	dims       int
	remoteURL  string
	keyEnv     string
	rpm        int
	batchSize  int
	workers    int
	limit      int64
	dryRun     bool
	qdrantAddr string
	collection string
}

func buildBackend(cfg embedConfig) (embed.Backend, error) {
	switch cfg.backend {
	case "dry-run":
		return embed.NewDryRun(cfg.dims), nil
	case "local":
		return embed.NewLocal(cfg.ollamaURL, cfg.model, cfg.dims), nil
	case "remote":
		key := os.Getenv(cfg.keyEnv)
		if key == "" {
			return nil, fmt.Errorf("remote backend needs %s set", cfg.keyEnv)
		}
		return embed.NewRemote(cfg.remoteURL, key, cfg.model, cfg.dims, cfg.rpm), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.backend)
	}
}

func runEmbed(ctx context.Context, st *store.Store, cfg embedConfig, log *slog.Logger) error {
	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	var kinds []embed.Kind
	switch cfg.target {
	case "posts":
		kinds = []embed.Kind{embed.KindPosts}
	case "comments":
		kinds = []embed.Kind{embed.KindComments}
	case "both":
		kinds = []embed.Kind{embed.KindPosts, embed.KindComments}
	default:
		return fmt.Errorf("unknown embedding target %q", cfg.target)
	}

	for _, kind := range kinds {
		if err := runEmbedKind(ctx, st, backend, kind, cfg, log); err != nil {
			return err
		}
	}
	return nil
}

func runEmbedKind(ctx context.Context, st *store.Store, backend embed.Backend, kind embed.Kind, cfg embedConfig, log *slog.Logger) error {
	sched := embed.New(st, backend, embed.Config{
		Kind:      kind,
		Subreddit: cfg.subreddit,
		BatchSize: cfg.batchSize,
		Workers:   cfg.workers,
		Limit:     cfg.limit,
		DryRun:    cfg.dryRun,
	}, log)

	if cfg.qdrantAddr != "" && kind == embed.KindPosts && !cfg.dryRun {
		vs, err := semantic.New(cfg.qdrantAddr, cfg.collection)
		if err != nil {
			return err
		}
		defer vs.Close()
		if err := vs.EnsureCollection(ctx, backend.Dims()); err != nil {
			return err
		}
		sched.SetMirror(semantic.NewMirror(vs, st))
		log.Info("mirroring post vectors", "qdrant", cfg.qdrantAddr, "collection", cfg.collection)
	}

	stats, err := sched.Run(ctx)
	mRowsEmbedded.Add(stats.Written)
	mEmbedFailures.Add(stats.Failed)
	if kind == embed.KindPosts {
		if pending, perr := st.CountUnembeddedPosts(ctx, cfg.subreddit); perr == nil {
			mEmbedPending.Set(pending)
		}
	}
	return err
}

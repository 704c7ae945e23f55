// Command priority runs the overnight pipeline: it walks an ordered list
// of subreddit dumps round-robin, importing and embedding a bounded
// window of posts per source per round, checkpointing to disk after every
// source. Interrupt it at any time; the next invocation resumes from the
// checkpoint, and deleting the checkpoint file restarts from scratch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nybblers/redditdemand/engine/embed"
	"github.com/nybblers/redditdemand/engine/ingest"
	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/engine/runner"
	"github.com/nybblers/redditdemand/engine/store"
	"github.com/nybblers/redditdemand/pkg/metrics"
)

var met = metrics.New()

var mRounds = met.Counter("redditdemand_priority_rounds_total", "Completed rounds over the source list")

func main() {
	var (
		dbPath      = flag.String("db", "redditdemand.db", "SQLite database path")
		dataDir     = flag.String("dir", "", "directory of <subreddit>_submissions dump files")
		statePath   = flag.String("state", "priority-state.json", "checkpoint file")
		chunk       = flag.Int64("chunk", 500, "posts per source per round")
		loop        = flag.Bool("loop", true, "keep cycling while any source makes progress")
		reset       = flag.Bool("reset", false, "delete the checkpoint file and start from scratch")
		year        = flag.Int("year", 0, "keep only records created in this year (0 = all)")
		backendName = flag.String("backend", "dry-run", "embedding backend: dry-run, local, or remote")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL for the local backend")
		model       = flag.String("model", "nomic-embed-text", "embedding model name")
		dims        = flag.Int("dims", 768, "embedding dimensionality")
		remoteURL   = flag.String("remote-url", "https://api.openai.com", "base URL for the remote backend")
		keyEnv      = flag.String("api-key-env", "OPENAI_API_KEY", "environment variable holding the remote API key")
		rpm         = flag.Int("rpm", 0, "remote backend requests per minute (0 = unlimited)")
		workers     = flag.Int("workers", embed.DefaultWorkers, "concurrent embedding batches")
		metricsPort = flag.Int("metrics-port", 0, "serve /metrics on this port (0 = off)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsPort > 0 {
		met.ServeAsync(*metricsPort)
	}

	if *dataDir == "" {
		log.Error("-dir is required")
		os.Exit(1)
	}

	if *reset {
		if err := os.Remove(*statePath); err != nil && !os.IsNotExist(err) {
			log.Error("checkpoint reset failed", "state", *statePath, "error", err)
			os.Exit(1)
		}
		log.Info("checkpoint reset", "state", *statePath)
	}

	backend, err := buildBackend(*backendName, *ollamaURL, *model, *dims, *remoteURL, *keyEnv, *rpm)
	if err != nil {
		log.Error("backend configuration failed", "error", err)
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

	pairs, err := ingest.FindPairs(*dataDir)
	if err != nil {
		log.Error("dump scan failed", "error", err)
		os.Exit(1)
	}
	if len(pairs) == 0 {
		log.Error("no dump files found", "dir", *dataDir)
		os.Exit(1)
	}

	deps := runner.PipelineDeps{
		Store:        st,
		Importer:     ingest.New(st, log),
		Backend:      backend,
		Filters:      record.Filters{Year: *year},
		EmbedWorkers: *workers,
		Log:          log,
	}
	sources := make([]runner.Source, len(pairs))
	for i, pair := range pairs {
		sources[i] = runner.PostPipelineSource(deps, pair)
	}

	log.Info("priority run starting",
		"sources", len(sources), "chunk", *chunk, "loop", *loop,
		"backend", backend.Name(), "state", *statePath)

	r := runner.New(sources, runner.Config{
		StatePath: *statePath,
		ChunkSize: *chunk,
		Loop:      *loop,
	}, log)

	state, err := r.Run(ctx)
	mRounds.Add(int64(state.Round))
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("stopped on signal, checkpoint saved", "round", state.Round)
	case err != nil:
		log.Error("priority run failed", "error", err)
		os.Exit(1)
	default:
		log.Info("all sources exhausted", "rounds", state.Round)
	}
}

func buildBackend(name, ollamaURL, model string, dims int, remoteURL, keyEnv string, rpm int) (embed.Backend, error) {
	switch name {
	case "dry-run":
		return embed.NewDryRun(dims), nil
	case "local":
		return embed.NewLocal(ollamaURL, model, dims), nil
	case "remote":
		key := os.Getenv(keyEnv)
		if key == "" {
			return nil, fmt.Errorf("remote backend needs %s set", keyEnv)
		}
		return embed.NewRemote(remoteURL, key, model, dims, rpm), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

package runner

import (
	"context"
	"log/slog"
)

// ProcessFunc performs up to limit units of work for one source, starting
// after the first offset units, and reports how many units it consumed.
// Zero consumed means the source is exhausted.
type ProcessFunc func(ctx context.Context, offset, limit int64) (int64, error)

// Source is one entry in the priority list.
type Source struct {
	Name    string
	Process ProcessFunc
}

// Config tunes a Runner.
type Config struct {
	// StatePath is where the checkpoint lives.
	StatePath string
	// ChunkSize is the per-source window per round.
	ChunkSize int64
	// Loop keeps starting new rounds while any source makes progress.
	// Off, the runner does exactly one pass over the list.
	Loop bool
}

// Runner executes sources round-robin with checkpointing.
type Runner struct {
	sources []Source
	cfg     Config
	log     *slog.Logger
}

// New creates a Runner.
func New(sources []Source, cfg Config, log *slog.Logger) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	return &Runner{sources: sources, cfg: cfg, log: log}
}

// Run executes rounds until the sources are exhausted, loop mode says
// stop, or ctx is cancelled. Cancellation is honored between sources,
// never inside one: the in-flight source finishes its window, the
// checkpoint is written, and Run returns ctx.Err(). A failing source keeps
// its offset (so it is retried from its last good position next round) but
// never blocks the sources after it.
func (r *Runner) Run(ctx context.Context) (State, error) {
	st, err := LoadState(r.cfg.StatePath)
	if err != nil {
		r.log.Warn("checkpoint unreadable, starting fresh", "error", err)
	}
	if st.SourceIndex > len(r.sources) {
		st.SourceIndex = 0
	}

	for {
		progressed := false

		for i := st.SourceIndex; i < len(r.sources); i++ {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}

			src := r.sources[i]
			offset := st.Offsets[src.Name]
			// The in-flight source runs to the end of its window even
			// when ctx is cancelled; the check at the top of the loop
			// is the only stopping point.
			n, err := src.Process(context.WithoutCancel(ctx), offset, r.cfg.ChunkSize)
			if err != nil {
				// Offset stays put; the source retries from its
				// last good position next round.
				r.log.Error("source failed, continuing with next",
					"source", src.Name, "round", st.Round, "offset", offset, "error", err)
			} else {
				st.Offsets[src.Name] = offset + n
				if n > 0 {
					progressed = true
				}
				r.log.Info("source window done",
					"source", src.Name, "round", st.Round,
					"consumed", n, "offset", st.Offsets[src.Name])
			}

			st.SourceIndex = i + 1
			if err := st.Save(r.cfg.StatePath); err != nil {
				return st, err
			}
		}

		st.Round++
		st.SourceIndex = 0
		if err := st.Save(r.cfg.StatePath); err != nil {
			return st, err
		}

		if !r.cfg.Loop || !progressed {
			r.log.Info("run finished", "rounds", st.Round, "progressed", progressed)
			return st, nil
		}
	}
}

// Command search serves similarity search and activity rankings over an
// ingested database. Queries are embedded with the same backend that
// produced the stored vectors; results come from the semantic index when
// one is configured and from a linear scan over the relational store
// otherwise.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nybblers/redditdemand/engine/embed"
	"github.com/nybblers/redditdemand/engine/semantic"
	"github.com/nybblers/redditdemand/engine/store"
	"github.com/nybblers/redditdemand/pkg/mid"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	DBPath     string
	Backend    string
	OllamaURL  string
	Model      string
	Dims       int
	RemoteURL  string
	APIKey     string
	RPM        int
	QdrantURL  string
	Collection string
	CORSOrigin string
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		DBPath:     envOr("DB_PATH", "reddit.db"),
		Backend:    envOr("EMBED_BACKEND", "local"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		Model:      envOr("EMBED_MODEL", "nomic-embed-text"),
		Dims:       envIntOr("EMBED_DIMS", 768),
		RemoteURL:  envOr("EMBED_REMOTE_URL", "https://api.openai.com"),
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		RPM:        envIntOr("EMBED_RPM", 0),
		QdrantURL:  os.Getenv("QDRANT_URL"),
		Collection: envOr("QDRANT_COLLECTION", "reddit_posts"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	var index *semantic.VectorStore
	if cfg.QdrantURL != "" {
		index, err = semantic.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer index.Close()
	}

	srv := newServer(st, backend, index, logger)

	httpSrv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: mid.Chain(srv.routes(),
			mid.Recover(logger),
			mid.Logger(logger),
			mid.OTel("redditdemand-search"),
			mid.CORS(cfg.CORSOrigin),
		),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("search server starting", "port", cfg.Port, "backend", backend.Name(), "semantic_index", index != nil)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func buildBackend(cfg Config) (embed.Backend, error) {
	switch cfg.Backend {
	case "dry-run":
		return embed.NewDryRun(cfg.Dims), nil
	case "local":
		return embed.NewLocal(cfg.OllamaURL, cfg.Model, cfg.Dims), nil
	case "remote":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("remote backend requires OPENAI_API_KEY")
		}
		return embed.NewRemote(cfg.RemoteURL, cfg.APIKey, cfg.Model, cfg.Dims, cfg.RPM), nil
	default:
		return nil, fmt.Errorf("unknown embed backend %q", cfg.Backend)
	}
}

// server holds the request handlers and their dependencies.
type server struct {
	store   *store.Store
	backend embed.Backend
	index   *semantic.VectorStore // nil when no semantic index is configured
	log     *slog.Logger
}

func newServer(st *store.Store, backend embed.Backend, index *semantic.VectorStore, log *slog.Logger) *server {
	return &server{store: st, backend: backend, index: index, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/top", s.handleTop)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// RankedPost is one entry in the GET /api/top response.
type RankedPost struct {
	ID            string  `json:"id"`
	Subreddit     string  `json:"subreddit"`
	Title         string  `json:"title"`
	ActivityRatio float64 `json:"activity_ratio"`
}

func (s *server) handleTop(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}

	posts, err := s.store.TopByActivity(r.Context(), r.URL.Query().Get("subreddit"), limit)
	if err != nil {
		s.log.Error("top query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]RankedPost, len(posts))
	for i, p := range posts {
		out[i] = RankedPost{ID: p.ID, Subreddit: p.Subreddit, Title: p.Title, ActivityRatio: p.ActivityRatio}
	}
	writeJSON(w, map[string]any{"posts": out})
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Query     string `json:"query"`
	Subreddit string `json:"subreddit,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// SearchHit is one result in the search response.
type SearchHit struct {
	ID        string  `json:"id"`
	Subreddit string  `json:"subreddit"`
	Title     string  `json:"title"`
	Score     float32 `json:"score"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Subreddit != "" && s.index == nil {
		writeError(w, http.StatusBadRequest, "subreddit filter requires the semantic index")
		return
	}

	vectors, err := s.backend.EmbedBatch(r.Context(), []string{req.Query})
	if err != nil || len(vectors) != 1 {
		s.log.Error("query embedding failed", "err", err)
		writeError(w, http.StatusBadGateway, "embedding backend unavailable")
		return
	}

	hits, err := s.search(r.Context(), vectors[0], req)
	if err != nil {
		s.log.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, map[string]any{"hits": hits})
}

func (s *server) search(ctx context.Context, query []float32, req SearchRequest) ([]SearchHit, error) {
	if s.index != nil {
		results, err := s.index.Search(ctx, query, req.Limit, req.Subreddit)
		if err != nil {
			return nil, err
		}
		hits := make([]SearchHit, len(results))
		for i, r := range results {
			hits[i] = SearchHit{ID: r.PostID, Subreddit: r.Subreddit, Title: r.Title, Score: r.Score}
		}
		return hits, nil
	}

	similar, err := s.store.SearchSimilarPosts(ctx, query, req.Limit)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, len(similar))
	for i, p := range similar {
		hits[i] = SearchHit{ID: p.ID, Subreddit: p.Subreddit, Title: p.Title, Score: p.Score}
	}
	return hits, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

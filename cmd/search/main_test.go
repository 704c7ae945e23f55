package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/engine/store"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixedBackend returns the same vector for every query.
type fixedBackend struct {
	vector []float32
}

func (b *fixedBackend) Name() string { return "fixed" }
func (b *fixedBackend) Dims() int    { return len(b.vector) }

func (b *fixedBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = b.vector
	}
	return out, nil
}

func testServer(t *testing.T) *server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	created := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	posts := []record.Post{
		{ID: "pa", Subreddit: "woodworking", Title: "dovetail jig", CreatedUTC: created},
		{ID: "pb", Subreddit: "woodworking", Title: "bench vise", CreatedUTC: created},
	}
	if _, err := st.InsertPosts(ctx, posts); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}
	if _, err := st.SetPostEmbeddings(ctx, []string{"pa", "pb"},
		[][]float32{{1, 0}, {0, 1}}, time.Now()); err != nil {
		t.Fatalf("SetPostEmbeddings: %v", err)
	}
	if err := st.UpdateActivityRatio(ctx, created.Add(24*time.Hour)); err != nil {
		t.Fatalf("UpdateActivityRatio: %v", err)
	}

	return newServer(st, &fixedBackend{vector: []float32{1, 0}}, nil, testLog)
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleTop(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/top?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Posts []RankedPost `json:"posts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(resp.Posts))
	}
}

func TestHandleTopRejectsBadLimit(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/top?limit=junk", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSearchRanksByCosine(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search",
		strings.NewReader(`{"query":"dovetail jig","limit":2}`))
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Hits []SearchHit `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Hits) != 2 || resp.Hits[0].ID != "pa" {
		t.Fatalf("hits = %+v, want pa first", resp.Hits)
	}
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search", strings.NewReader(`{}`))
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSearchSubredditNeedsIndex(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/search",
		strings.NewReader(`{"query":"vise","subreddit":"woodworking"}`))
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

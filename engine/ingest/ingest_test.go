package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nybblers/redditdemand/engine/record"
	"github.com/nybblers/redditdemand/engine/store"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeZst writes lines into a zstd-compressed file and returns its path.
func writeZst(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	for _, l := range lines {
		if _, err := zw.Write([]byte(l + "\n")); err != nil {
			t.Fatalf("write line: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func postLine(id string) string {
	return fmt.Sprintf(`{"id":%q,"subreddit":"woodworking","title":"post %s","selftext":"body","author":"someone","created_utc":1684000000,"score":3}`, id, id)
}

func commentLine(id, postID string) string {
	return fmt.Sprintf(`{"id":%q,"link_id":"t3_%s","parent_id":"t3_%s","author":"someone","body":"a useful reply","created_utc":1684003600,"score":2}`, id, postID, postID)
}

func TestImportPosts(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	path := writeZst(t, dir, "woodworking_submissions.zst", []string{
		postLine("p1"),
		postLine("p2"),
		`not json at all`,
		`{"title":"no id"}`,
		`{"id":"p3","author":"AutoModerator","title":"bot"}`,
	})

	im := New(s, discardLog)
	stats, err := im.ImportPosts(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("ImportPosts: %v", err)
	}
	if stats.Read != 5 || stats.Accepted != 2 || stats.Inserted != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Skipped[record.ReasonMalformed] != 1 ||
		stats.Skipped[record.ReasonMissingID] != 1 ||
		stats.Skipped[record.ReasonBot] != 1 {
		t.Fatalf("skips = %+v", stats.Skipped)
	}

	n, _ := s.CountPosts(context.Background())
	if n != 2 {
		t.Fatalf("stored %d posts, want 2", n)
	}
}

func TestImportPostsSecondRunSkipsViaLedger(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	path := writeZst(t, dir, "woodworking_submissions.zst", []string{postLine("p1")})

	im := New(s, discardLog)
	if _, err := im.ImportPosts(context.Background(), path, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	stats, err := im.ImportPosts(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !stats.AlreadyDone || stats.Read != 0 {
		t.Fatalf("second run stats = %+v, want AlreadyDone without reads", stats)
	}
}

func TestImportCommentsDropsUnknownPosts(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	posts := writeZst(t, dir, "woodworking_submissions.zst", []string{postLine("p1")})
	comments := writeZst(t, dir, "woodworking_comments.zst", []string{
		commentLine("c1", "p1"),
		commentLine("c2", "missing"),
		`{"id":"c3","link_id":"t3_p1","body":"[deleted]"}`,
	})

	im := New(s, discardLog)
	if _, err := im.ImportPosts(ctx, posts, Options{}); err != nil {
		t.Fatalf("ImportPosts: %v", err)
	}
	stats, err := im.ImportComments(ctx, comments, Options{})
	if err != nil {
		t.Fatalf("ImportComments: %v", err)
	}
	if stats.Inserted != 1 {
		t.Fatalf("stats = %+v, want 1 inserted", stats)
	}
	if stats.Skipped[record.ReasonUnknownPost] != 1 || stats.Skipped[record.ReasonDeleted] != 1 {
		t.Fatalf("skips = %+v", stats.Skipped)
	}
}

func TestDryRunCountsMatchRealRunAndWritesNothing(t *testing.T) {
	dir := t.TempDir()
	lines := []string{postLine("p1"), postLine("p2"), `broken`, postLine("p3")}
	path := writeZst(t, dir, "woodworking_submissions.zst", lines)
	ctx := context.Background()

	dryStore := openTestStore(t)
	dry, err := New(dryStore, discardLog).ImportPosts(ctx, path, Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.Inserted != 0 {
		t.Fatalf("dry run inserted %d rows", dry.Inserted)
	}
	if n, _ := dryStore.CountPosts(ctx); n != 0 {
		t.Fatalf("dry run stored %d posts", n)
	}
	if entries, _ := dryStore.LedgerEntries(ctx, "woodworking_submissions.zst"); len(entries) != 0 {
		t.Fatalf("dry run touched the ledger: %+v", entries)
	}

	realStore := openTestStore(t)
	wet, err := New(realStore, discardLog).ImportPosts(ctx, path, Options{})
	if err != nil {
		t.Fatalf("real run: %v", err)
	}
	if dry.Read != wet.Read || dry.Accepted != wet.Accepted || dry.SkippedTotal() != wet.SkippedTotal() {
		t.Fatalf("dry %+v vs real %+v", dry, wet)
	}
	if wet.Inserted != wet.Accepted {
		t.Fatalf("real run stats = %+v", wet)
	}
}

func TestImportPostsHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	path := writeZst(t, dir, "woodworking_submissions.zst", []string{
		postLine("p1"), postLine("p2"), postLine("p3"),
	})

	stats, err := New(s, discardLog).ImportPosts(context.Background(), path, Options{Limit: 2})
	if err != nil {
		t.Fatalf("ImportPosts: %v", err)
	}
	if stats.Accepted != 2 || stats.Inserted != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestImportPostsOffsetWindows(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()
	// The broken line must not shift the offset window: offsets count
	// valid records only.
	path := writeZst(t, dir, "woodworking_submissions.zst", []string{
		postLine("p1"), `broken`, postLine("p2"), postLine("p3"), postLine("p4"),
	})

	im := New(s, discardLog)
	first, err := im.ImportPosts(ctx, path, Options{Limit: 2, Partition: "offset=0"})
	if err != nil {
		t.Fatalf("first window: %v", err)
	}
	if first.Accepted != 2 || first.Inserted != 2 {
		t.Fatalf("first window stats = %+v", first)
	}

	second, err := im.ImportPosts(ctx, path, Options{Offset: 2, Limit: 2, Partition: "offset=2"})
	if err != nil {
		t.Fatalf("second window: %v", err)
	}
	if second.Accepted != 2 || second.Inserted != 2 {
		t.Fatalf("second window stats = %+v", second)
	}

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		p, err := s.GetPost(ctx, id)
		if err != nil || p == nil {
			t.Fatalf("post %s missing after windowed import (err=%v)", id, err)
		}
	}

	// Past the end of the file the window is empty.
	third, err := im.ImportPosts(ctx, path, Options{Offset: 4, Limit: 2, Partition: "offset=4"})
	if err != nil {
		t.Fatalf("third window: %v", err)
	}
	if third.Accepted != 0 {
		t.Fatalf("third window stats = %+v", third)
	}
}

func TestImportPostsYearFilter(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	// 1684000000 is May 2023; the second record is January 2022.
	path := writeZst(t, dir, "woodworking_submissions.zst", []string{
		postLine("p1"),
		`{"id":"p2","subreddit":"woodworking","title":"old","created_utc":1641000000}`,
	})

	stats, err := New(s, discardLog).ImportPosts(context.Background(), path,
		Options{Filters: record.Filters{Year: 2023}})
	if err != nil {
		t.Fatalf("ImportPosts: %v", err)
	}
	if stats.Accepted != 1 || stats.Skipped[record.ReasonOutsideYear] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFinalize(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	posts := writeZst(t, dir, "woodworking_submissions.zst", []string{postLine("p1")})
	comments := writeZst(t, dir, "woodworking_comments.zst", []string{commentLine("c1", "p1")})

	im := New(s, discardLog)
	if _, err := im.ImportPosts(ctx, posts, Options{}); err != nil {
		t.Fatalf("ImportPosts: %v", err)
	}
	if _, err := im.ImportComments(ctx, comments, Options{}); err != nil {
		t.Fatalf("ImportComments: %v", err)
	}
	if err := im.Finalize(ctx, time.Unix(1690000000, 0)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	p, err := s.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.RecentCommentCount != 1 || !p.HasActivityRatio || p.ReconstructedText == "" {
		t.Fatalf("derivations missing: %+v", p)
	}
}

func TestFindPairs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"woodworking_submissions.zst",
		"woodworking_comments.zst",
		"golang_submissions.jsonl",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	pairs, err := FindPairs(dir)
	if err != nil {
		t.Fatalf("FindPairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2: %+v", len(pairs), pairs)
	}
	if pairs[0].Subreddit != "golang" || pairs[0].Comments != "" {
		t.Fatalf("pairs[0] = %+v", pairs[0])
	}
	if pairs[1].Subreddit != "woodworking" || pairs[1].Comments == "" {
		t.Fatalf("pairs[1] = %+v", pairs[1])
	}
}

func TestFindPairsRejectsOrphanComments(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "golang_comments.zst"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := FindPairs(dir); err == nil {
		t.Fatal("want error for comments without submissions")
	}
}

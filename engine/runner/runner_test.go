package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	st := newState()
	st.Round = 3
	st.SourceIndex = 1
	st.Offsets["woodworking"] = 1500
	if err := st.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Round != 3 || got.SourceIndex != 1 || got.Offsets["woodworking"] != 1500 {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadStateMissingFileIsFresh(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Round != 0 || st.SourceIndex != 0 || len(st.Offsets) != 0 {
		t.Fatalf("got %+v, want zero state", st)
	}
}

func TestLoadStateCorruptFileReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{torn write"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	st, err := LoadState(path)
	if err == nil {
		t.Fatal("want parse error for corrupt state")
	}
	if st.Offsets == nil {
		t.Fatal("corrupt load must still return a usable fresh state")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := newState().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("dir contents = %v", entries)
	}
}

// fakeSource consumes from a fixed supply, chunk by chunk.
type fakeSource struct {
	mu     sync.Mutex
	supply int64
	calls  []int64 // offsets seen
	fail   bool
}

func (f *fakeSource) process(_ context.Context, offset, limit int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, offset)
	if f.fail {
		return 0, errors.New("source broken")
	}
	remaining := f.supply - offset
	if remaining <= 0 {
		return 0, nil
	}
	if remaining < limit {
		return remaining, nil
	}
	return limit, nil
}

func TestRunnerDrainsSourcesFairly(t *testing.T) {
	a := &fakeSource{supply: 5}
	b := &fakeSource{supply: 2}
	statePath := filepath.Join(t.TempDir(), "state.json")

	r := New([]Source{
		{Name: "a", Process: a.process},
		{Name: "b", Process: b.process},
	}, Config{StatePath: statePath, ChunkSize: 2, Loop: true}, discardLog)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Offsets["a"] != 5 || st.Offsets["b"] != 2 {
		t.Fatalf("offsets = %+v", st.Offsets)
	}
	// Source a was visited every round, two records at a time, not
	// drained in one go: offsets 0, 2, 4, then exhausted probes.
	if a.calls[0] != 0 || a.calls[1] != 2 || a.calls[2] != 4 {
		t.Fatalf("a windows = %v", a.calls)
	}
	// b exhausted in round two but kept being offered its turn.
	if len(b.calls) < 2 {
		t.Fatalf("b windows = %v", b.calls)
	}
}

func TestRunnerSingleRoundWithoutLoop(t *testing.T) {
	a := &fakeSource{supply: 10}
	statePath := filepath.Join(t.TempDir(), "state.json")

	r := New([]Source{{Name: "a", Process: a.process}},
		Config{StatePath: statePath, ChunkSize: 2}, discardLog)
	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Offsets["a"] != 2 || st.Round != 1 {
		t.Fatalf("state = %+v, want one window only", st)
	}
}

func TestRunnerFailureKeepsOffsetButAdvances(t *testing.T) {
	bad := &fakeSource{supply: 5, fail: true}
	good := &fakeSource{supply: 2}
	statePath := filepath.Join(t.TempDir(), "state.json")

	r := New([]Source{
		{Name: "bad", Process: bad.process},
		{Name: "good", Process: good.process},
	}, Config{StatePath: statePath, ChunkSize: 2}, discardLog)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Offsets["bad"] != 0 {
		t.Fatalf("failed source's offset moved: %+v", st.Offsets)
	}
	// The source after the failing one still ran.
	if st.Offsets["good"] != 2 {
		t.Fatalf("offsets = %+v", st.Offsets)
	}
}

func TestRunnerFailedSourceRetriedFromLastGoodOffset(t *testing.T) {
	flaky := &fakeSource{supply: 4, fail: true}
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{StatePath: statePath, ChunkSize: 2}

	r := New([]Source{{Name: "flaky", Process: flaky.process}}, cfg, discardLog)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The next session retries from the same offset.
	flaky.fail = false
	st, err := New([]Source{{Name: "flaky", Process: flaky.process}}, cfg, discardLog).
		Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if flaky.calls[len(flaky.calls)-1] != 2 && st.Offsets["flaky"] != 2 {
		t.Fatalf("offsets = %+v, calls = %v", st.Offsets, flaky.calls)
	}
}

func TestRunnerOffsetsNeverDecrease(t *testing.T) {
	a := &fakeSource{supply: 6}
	statePath := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{StatePath: statePath, ChunkSize: 2, Loop: true}

	var prev int64
	for run := 0; run < 3; run++ {
		st, err := New([]Source{{Name: "a", Process: a.process}}, cfg, discardLog).
			Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if st.Offsets["a"] < prev {
			t.Fatalf("offset decreased: %d -> %d", prev, st.Offsets["a"])
		}
		prev = st.Offsets["a"]
	}
	if prev != 6 {
		t.Fatalf("final offset = %d, want 6", prev)
	}
}

func TestRunnerStopsBetweenSourcesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := Source{Name: "first", Process: func(_ context.Context, _, limit int64) (int64, error) {
		// Cancellation arrives while this source is mid-window; it must
		// still finish and be checkpointed.
		cancel()
		return limit, nil
	}}
	var secondRan bool
	second := Source{Name: "second", Process: func(context.Context, int64, int64) (int64, error) {
		secondRan = true
		return 0, nil
	}}

	statePath := filepath.Join(t.TempDir(), "state.json")
	r := New([]Source{first, second}, Config{StatePath: statePath, ChunkSize: 2, Loop: true}, discardLog)

	st, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondRan {
		t.Fatal("runner started a new source after cancellation")
	}
	if st.Offsets["first"] != 2 {
		t.Fatalf("in-flight source's window lost: %+v", st.Offsets)
	}

	// The checkpoint on disk reflects the completed window.
	onDisk, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if onDisk.Offsets["first"] != 2 || onDisk.SourceIndex != 1 {
		t.Fatalf("on-disk state = %+v", onDisk)
	}
}

func TestRunnerInFlightSourceOutlivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// The real pipeline source checks its context between records and
	// store calls. Cancellation mid-window must not surface inside it:
	// the runner hands the in-flight source a detached context.
	src := Source{Name: "careful", Process: func(ctx context.Context, _, limit int64) (int64, error) {
		cancel()
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return limit, nil
	}}

	statePath := filepath.Join(t.TempDir(), "state.json")
	r := New([]Source{src}, Config{StatePath: statePath, ChunkSize: 3, Loop: true}, discardLog)

	st, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The window completed and was checkpointed, not recorded as a
	// source failure.
	if st.Offsets["careful"] != 3 {
		t.Fatalf("offsets = %+v, want the full window consumed", st.Offsets)
	}
}

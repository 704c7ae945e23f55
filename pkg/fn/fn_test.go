package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Fatal("Ok result misreported")
	}
	v, err := ok.Unwrap()
	if v != 42 || err != nil {
		t.Fatalf("Unwrap = %v, %v", v, err)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() {
		t.Fatal("Err result misreported")
	}
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("Unwrap err = %v, want boom", err)
	}

	if r := FromPair(1, error(nil)); r.IsErr() {
		t.Fatal("FromPair with nil error must be Ok")
	}
	if r := FromPair(0, boom); r.IsOk() {
		t.Fatal("FromPair with error must be Err")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[string] {
			attempts++
			if attempts < 3 {
				return Err[string](errors.New("transient"))
			}
			return Ok("done")
		})
	v, err := r.Unwrap()
	if err != nil || v != "done" {
		t.Fatalf("Unwrap = %q, %v", v, err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	last := errors.New("still broken")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			attempts++
			return Err[int](last)
		})
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if _, err := r.Unwrap(); !errors.Is(err, last) {
		t.Fatalf("err = %v, want last failure", err)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour},
		func(context.Context) Result[int] {
			attempts++
			cancel()
			return Err[int](errors.New("fail"))
		})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no waiting out an hour)", attempts)
	}
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(n int) int { return n * n })
	if len(got) != 3 || got[2] != 9 {
		t.Fatalf("Map = %v", got)
	}
}

func TestFilter(t *testing.T) {
	got := Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("Filter = %v", got)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("Chunk = %v", got)
	}
	if out := Chunk([]int{}, 2); len(out) != 0 {
		t.Fatalf("Chunk empty = %v", out)
	}
}

func TestGroupBy(t *testing.T) {
	got := GroupBy([]string{"apple", "avocado", "banana"}, func(s string) string { return s[:1] })
	if len(got["a"]) != 2 || len(got["b"]) != 1 {
		t.Fatalf("GroupBy = %v", got)
	}
}

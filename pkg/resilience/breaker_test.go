package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nybblers/redditdemand/pkg/fn"
)

var errBoom = errors.New("boom")

func failing(context.Context) error    { return errBoom }
func succeeding(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Cooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
	}
	if err := b.Call(ctx, failing); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	b.Call(ctx, failing)
	b.Call(ctx, succeeding)
	b.Call(ctx, failing)
	// Only one consecutive failure, so the next call must run.
	if err := b.Call(ctx, succeeding); err != nil {
		t.Fatalf("err = %v, breaker tripped too early", err)
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Cooldown: 5 * time.Millisecond})
	ctx := context.Background()

	b.Call(ctx, failing)
	if err := b.Call(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen before cooldown", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := b.Call(ctx, succeeding); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	// A successful probe closes the breaker.
	if err := b.Call(ctx, succeeding); err != nil {
		t.Fatalf("err = %v after recovery", err)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Cooldown: 5 * time.Millisecond})
	ctx := context.Background()

	b.Call(ctx, failing)
	time.Sleep(10 * time.Millisecond)
	if err := b.Call(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v, want boom", err)
	}
	if err := b.Call(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen after failed probe", err)
	}
}

func TestCallResult(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Cooldown: time.Hour})
	ctx := context.Background()

	r := CallResult(b, ctx, func(context.Context) fn.Result[int] { return fn.Ok(7) })
	if v, err := r.Unwrap(); err != nil || v != 7 {
		t.Fatalf("Unwrap = %v, %v", v, err)
	}

	CallResult(b, ctx, func(context.Context) fn.Result[int] { return fn.Err[int](errBoom) })
	r = CallResult(b, ctx, func(context.Context) fn.Result[int] { return fn.Ok(1) })
	if _, err := r.Unwrap(); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jabbala/tenantfair/middleware"
	"github.com/jabbala/tenantfair/request"
	"github.com/jabbala/tenantfair/tier"
)

func testRequest() *request.ScheduledRequest {
	return request.New("acme", tier.Professional, []byte(`{"prompt":"hi"}`), time.Now().UTC(), 30*time.Second)
}

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *request.ScheduledRequest, next middleware.Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	chain := middleware.Chain(mk("outer"), mk("inner"))
	err := chain(context.Background(), testRequest(), func(context.Context) error {
		order = append(order, "pipeline")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"outer:before", "inner:before", "pipeline", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestChain_EmptyChainCallsPipeline(t *testing.T) {
	called := false
	chain := middleware.Chain()
	err := chain(context.Background(), testRequest(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain: called=%v err=%v", called, err)
	}
}

func TestChain_ErrorShortCircuits(t *testing.T) {
	sentinel := errors.New("blocked")
	blocking := func(_ context.Context, _ *request.ScheduledRequest, _ middleware.Handler) error {
		return sentinel
	}
	reached := false

	chain := middleware.Chain(blocking)
	err := chain(context.Background(), testRequest(), func(context.Context) error {
		reached = true
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if reached {
		t.Fatal("pipeline must not run after a short-circuit")
	}
}

// ---------------------------------------------------------------------------
// Recover
// ---------------------------------------------------------------------------

func TestRecover_ConvertsPanicToError(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	err := mw(context.Background(), testRequest(), func(context.Context) error {
		panic("exploded")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestRecover_PassesThroughResult(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	sentinel := errors.New("pipeline error")
	if err := mw(context.Background(), testRequest(), func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if err := mw(context.Background(), testRequest(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

// ---------------------------------------------------------------------------
// Timeout
// ---------------------------------------------------------------------------

func TestTimeout_CancelsLongDispatch(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)
	err := mw(context.Background(), testRequest(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_ZeroDisables(t *testing.T) {
	mw := middleware.Timeout(0)
	err := mw(context.Background(), testRequest(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("zero timeout must not set a deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

func TestLogging_PropagatesError(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	sentinel := errors.New("downstream unavailable")
	if err := mw(context.Background(), testRequest(), func(context.Context) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
}

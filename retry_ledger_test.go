package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T, cfg RetryConfig) (*RetryLedger, *redis.Client, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	done := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return NewRetryLedger(rdb, cfg), rdb, done
}

func TestLedgerMissingCounterReadsZero(t *testing.T) {
	ledger, _, done := newTestLedger(t, RetryConfig{})
	defer done()

	state, err := ledger.State(context.Background(), "google")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Attempts != 0 || state.Exhausted {
		t.Fatalf("expected zero state, got %+v", state)
	}
	if state.Provider != "google" {
		t.Fatalf("unexpected provider %q", state.Provider)
	}
}

func TestLedgerIncrementToExhaustion(t *testing.T) {
	ledger, _, done := newTestLedger(t, RetryConfig{MaxRetries: 3})
	defer done()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		state, err := ledger.Increment(ctx, "google")
		if err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
		if state.Attempts != i {
			t.Fatalf("expected %d attempts, got %d", i, state.Attempts)
		}
		if state.Exhausted != (i == 3) {
			t.Fatalf("unexpected exhaustion at attempt %d: %+v", i, state)
		}
	}
}

// Incrementing past the cap must be a no-op: the observed count never
// exceeds the maximum.
func TestLedgerIncrementPastCapIsNoOp(t *testing.T) {
	ledger, rdb, done := newTestLedger(t, RetryConfig{MaxRetries: 2})
	defer done()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := ledger.Increment(ctx, "google"); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	state, err := ledger.State(ctx, "google")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Attempts != 2 || !state.Exhausted {
		t.Fatalf("expected capped exhausted state, got %+v", state)
	}
	if raw := rdb.Get(ctx, "afr:google").Val(); raw != "2" {
		t.Fatalf("backing counter ran past the cap: %q", raw)
	}
}

func TestLedgerCountersAreIndependentPerProvider(t *testing.T) {
	ledger, _, done := newTestLedger(t, RetryConfig{MaxRetries: 2})
	defer done()

	ctx := context.Background()
	if _, err := ledger.Increment(ctx, "google"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if _, err := ledger.Increment(ctx, "google"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	google, _ := ledger.State(ctx, "google")
	github, _ := ledger.State(ctx, "github")
	if !google.Exhausted {
		t.Fatalf("expected google exhausted, got %+v", google)
	}
	if github.Attempts != 0 || github.Exhausted {
		t.Fatalf("expected untouched github counter, got %+v", github)
	}
}

func TestLedgerResetClearsCounter(t *testing.T) {
	ledger, rdb, done := newTestLedger(t, RetryConfig{MaxRetries: 2})
	defer done()

	ctx := context.Background()
	if _, err := ledger.Increment(ctx, "google"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := ledger.Reset(ctx, "google"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	state, err := ledger.State(ctx, "google")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Attempts != 0 {
		t.Fatalf("expected cleared counter, got %+v", state)
	}
	if exists := rdb.Exists(ctx, "afr:google").Val(); exists != 0 {
		t.Fatal("expected counter key removed")
	}
}

func TestLedgerCounterExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer func() {
		_ = rdb.Close()
		mr.Close()
	}()
	ledger := NewRetryLedger(rdb, RetryConfig{MaxRetries: 2, CounterTTL: time.Minute})

	ctx := context.Background()
	if _, err := ledger.Increment(ctx, "google"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	state, err := ledger.State(ctx, "google")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Attempts != 0 {
		t.Fatalf("expected expired counter to read zero, got %+v", state)
	}
}

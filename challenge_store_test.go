package authflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestChallengeStore(t *testing.T) (*challengeStore, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	done := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return newChallengeStore(rdb, ""), done
}

func testChallengeRecord() *challengeRecord {
	return &challengeRecord{
		Email:        "alice@example.com",
		Provider:     "google",
		PendingToken: "tok-pending",
		Methods:      []string{"app", "phone"},
		ExpiresAt:    time.Now().Add(3 * time.Minute).Unix(),
	}
}

func TestChallengeRecordRoundTrip(t *testing.T) {
	store, done := newTestChallengeStore(t)
	defer done()

	ctx := context.Background()
	record := testChallengeRecord()
	if err := store.Save(ctx, "c1", record, 3*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Email != record.Email || got.Provider != record.Provider {
		t.Fatalf("identity fields corrupted: %+v", got)
	}
	if got.PendingToken != "tok-pending" {
		t.Fatalf("pending token corrupted: %q", got.PendingToken)
	}
	if len(got.Methods) != 2 || got.Methods[0] != "app" || got.Methods[1] != "phone" {
		t.Fatalf("methods corrupted: %v", got.Methods)
	}
	if got.Attempts != 0 {
		t.Fatalf("expected zero attempts, got %d", got.Attempts)
	}
}

func TestChallengeRecordMissing(t *testing.T) {
	store, done := newTestChallengeStore(t)
	defer done()

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, errChallengeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestChallengeRecordExpired(t *testing.T) {
	store, done := newTestChallengeStore(t)
	defer done()

	ctx := context.Background()
	record := testChallengeRecord()
	record.ExpiresAt = time.Now().Add(-time.Second).Unix()
	if err := store.Save(ctx, "c1", record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "c1"); !errors.Is(err, errChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	// The expired record is removed on read.
	if _, err := store.Get(ctx, "c1"); !errors.Is(err, errChallengeNotFound) {
		t.Fatalf("expected not-found after cleanup, got %v", err)
	}
}

func TestChallengeRecordDelete(t *testing.T) {
	store, done := newTestChallengeStore(t)
	defer done()

	ctx := context.Background()
	if err := store.Save(ctx, "c1", testChallengeRecord(), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	deleted, err := store.Delete(ctx, "c1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected deletion to report true")
	}

	deleted, err = store.Delete(ctx, "c1")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if deleted {
		t.Fatal("expected second deletion to report false")
	}
}

func TestChallengeRecordFailureCountsAndCaps(t *testing.T) {
	store, done := newTestChallengeStore(t)
	defer done()

	ctx := context.Background()
	if err := store.Save(ctx, "c1", testChallengeRecord(), 3*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exceeded, err := store.RecordFailure(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if exceeded {
		t.Fatal("first failure must not exceed the cap")
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", got.Attempts)
	}

	if _, err := store.RecordFailure(ctx, "c1", 3); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	exceeded, err = store.RecordFailure(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if !exceeded {
		t.Fatal("third failure must exceed the cap")
	}

	// The record is removed once the cap is reached.
	if _, err := store.Get(ctx, "c1"); !errors.Is(err, errChallengeNotFound) {
		t.Fatalf("expected record removed at cap, got %v", err)
	}
}

func TestChallengeRecordFailureOnMissingRecord(t *testing.T) {
	store, done := newTestChallengeStore(t)
	defer done()

	if _, err := store.RecordFailure(context.Background(), "nope", 3); !errors.Is(err, errChallengeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	record := testChallengeRecord()
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	encoded[0] = 0xFF
	if _, err := decodeChallengeRecord(encoded); err == nil {
		t.Fatal("expected decode to reject unknown version")
	}
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	record := testChallengeRecord()
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := decodeChallengeRecord(encoded[:len(encoded)/2]); err == nil {
		t.Fatal("expected decode to reject truncated input")
	}
}

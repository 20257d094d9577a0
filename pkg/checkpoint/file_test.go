package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func testRecord(stage, identity string, status Status) *Record {
	return &Record{
		Key:         Fingerprint("v1", stage, identity, nil),
		Status:      status,
		Payload:     json.RawMessage(`{"ok":true}`),
		Attempts:    1,
		LastAttempt: time.Now().UTC(),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	rec := testRecord("resolve", "acme/widgets", StatusSucceeded)

	// Absent before Put
	got, err := store.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected absent record before Put")
	}

	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err = store.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("Get after Put: %v", err)
	}
	if got == nil {
		t.Fatal("expected record after Put")
	}
	if got.Status != StatusSucceeded || got.Attempts != 1 {
		t.Errorf("record mismatch: %+v", got)
	}
	if string(got.Payload) != `{"ok":true}` {
		t.Errorf("payload mismatch: %s", got.Payload)
	}
}

func TestFileStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	rec := testRecord("resolve", "acme/widgets", StatusPending)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put pending: %v", err)
	}

	rec.Status = StatusSucceeded
	rec.Attempts = 2
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put succeeded: %v", err)
	}

	got, err := store.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Attempts != 2 {
		t.Errorf("upsert did not replace record: %+v", got)
	}
}

func TestFileStoreConcurrentPut(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	key := Fingerprint("v1", "resolve", "acme/widgets", nil)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := &Record{Key: key, Status: StatusPending, Attempts: n}
			_ = store.Put(ctx, rec)
		}(i)
	}
	wg.Wait()

	// Whatever won, the record must be intact (no torn JSON).
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after concurrent puts: %v", err)
	}
	if got == nil || got.Status != StatusPending {
		t.Errorf("expected an intact pending record, got %+v", got)
	}
}

func TestFileStoreScan(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"a/a", "b/b", "c/c"} {
		if err := store.Put(ctx, testRecord("resolve", id, StatusSucceeded)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := store.Put(ctx, testRecord("fetch", "a/a", StatusFailedTerminal)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	it, err := store.Scan(ctx, "resolve")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()

	count := 0
	for {
		rec, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec == nil {
			break
		}
		if rec.Key.StageID != "resolve" {
			t.Errorf("scan leaked record from stage %s", rec.Key.StageID)
		}
		count++
	}
	if count != 3 {
		t.Errorf("scan returned %d records, want 3", count)
	}

	// Scan of an unknown stage is empty, not an error.
	it2, err := store.Scan(ctx, "nope")
	if err != nil {
		t.Fatalf("Scan unknown stage: %v", err)
	}
	defer it2.Close()
	rec, err := it2.Next(ctx)
	if err != nil || rec != nil {
		t.Errorf("unknown stage scan: rec=%v err=%v", rec, err)
	}
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"a/a", "b/b"} {
		if err := store.Put(ctx, testRecord("resolve", id, StatusSucceeded)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	n, err := store.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
}

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	defer store.Close()

	rec := testRecord("resolve", "acme/widgets", StatusSucceeded)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, rec.Key)
	if err != nil || got == nil {
		t.Fatalf("Get: rec=%v err=%v", got, err)
	}

	// Mutating the returned record must not affect the stored copy.
	got.Status = StatusFailedTerminal
	again, _ := store.Get(ctx, rec.Key)
	if again.Status != StatusSucceeded {
		t.Error("store should return clones, not shared records")
	}
}

func TestNullStore(t *testing.T) {
	ctx := context.Background()
	store := NewNullStore()
	defer store.Close()

	rec := testRecord("resolve", "acme/widgets", StatusSucceeded)
	if err := store.Put(ctx, rec); err != nil {
		t.Errorf("Put: %v", err)
	}
	got, err := store.Get(ctx, rec.Key)
	if err != nil {
		t.Errorf("Get: %v", err)
	}
	if got != nil {
		t.Error("NullStore should never store records")
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusFailedRetryable, false},
		{StatusSucceeded, true},
		{StatusFailedTerminal, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

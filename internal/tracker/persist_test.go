package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"batchqa/internal/db"
)

func openTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "batchqa.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRequestStoreRoundTripKeepsOnlyProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	rs := NewRequestStore(store)

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	inflight := Request{
		ID:             "r-1",
		UserID:         "u1",
		Prompts:        []string{"q1", "q2"},
		FileIDs:        []string{"f1", "f2"},
		Status:         StatusProcessing,
		Progress:       37.5,
		CompletedFiles: intPtr(1),
		TotalFiles:     intPtr(2),
		ServerJobID:    "srv-1",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	reqs := []Request{
		inflight,
		{ID: "r-2", Status: StatusCompleted, FileIDs: []string{"f3"}, Result: map[string]json.RawMessage{"f3": json.RawMessage(`[]`)}},
		{ID: "r-3", Status: StatusFailed, FileIDs: []string{"f4"}, Error: "boom"},
	}
	if err := rs.Save(ctx, reqs); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := rs.Load(ctx)
	if len(got) != 1 {
		t.Fatalf("expected 1 processing request, got %d", len(got))
	}
	r := got[0]
	if r.ID != "r-1" || r.UserID != "u1" || r.ServerJobID != "srv-1" || r.Progress != 37.5 {
		t.Fatalf("unexpected request after load: %+v", r)
	}
	if len(r.Prompts) != 2 || r.Prompts[1] != "q2" || len(r.FileIDs) != 2 || r.FileIDs[0] != "f1" {
		t.Fatalf("expected prompts and files preserved in order, got %v %v", r.Prompts, r.FileIDs)
	}
	if r.Completed() != 1 || r.Total() != 2 {
		t.Fatalf("expected 1/2 files, got %d/%d", r.Completed(), r.Total())
	}
	if !r.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, r.CreatedAt)
	}
}

func TestRequestStoreClearsKeyWhenNothingProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	rs := NewRequestStore(store)

	if err := rs.Save(ctx, []Request{{ID: "r-1", Status: StatusProcessing, FileIDs: []string{"f1"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := rs.Save(ctx, []Request{{ID: "r-1", Status: StatusCompleted, FileIDs: []string{"f1"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.GetState(ctx, StateKey); !errors.Is(err, db.ErrStateNotFound) {
		t.Fatalf("expected key to be absent, got %v", err)
	}
	if got := rs.Load(ctx); got != nil {
		t.Fatalf("expected nil after tombstone, got %v", got)
	}
}

func TestRequestStoreDiscardsCorruptPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := openTestStore(t)
	rs := NewRequestStore(store)

	if err := store.PutState(ctx, StateKey, []byte(`{"not":"an array"`)); err != nil {
		t.Fatalf("put state: %v", err)
	}
	if got := rs.Load(ctx); got != nil {
		t.Fatalf("expected corrupt payload to load as empty, got %v", got)
	}
	if _, err := store.GetState(ctx, StateKey); !errors.Is(err, db.ErrStateNotFound) {
		t.Fatalf("expected corrupt key to be discarded, got %v", err)
	}
}

func TestRequestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "batchqa.db")

	store, err := db.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewRequestStore(store).Save(ctx, []Request{{ID: "r-9", Status: StatusProcessing, FileIDs: []string{"f1"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.Close()

	store, err = db.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got := NewRequestStore(store).Load(ctx)
	if len(got) != 1 || got[0].ID != "r-9" {
		t.Fatalf("expected r-9 after reopen, got %v", got)
	}
}

func TestPersistKeyIgnoresProgressTicks(t *testing.T) {
	t.Parallel()

	a := []Request{{ID: "r", Status: StatusProcessing, FileIDs: []string{"f1"}, Progress: 3}}
	b := []Request{{ID: "r", Status: StatusProcessing, FileIDs: []string{"f1"}, Progress: 40}}
	if persistKey(a) != persistKey(b) {
		t.Fatal("expected progress-only change to keep the same key")
	}
	c := []Request{{ID: "r", Status: StatusProcessing, FileIDs: []string{"f1"}, ServerJobID: "srv"}}
	if persistKey(a) == persistKey(c) {
		t.Fatal("expected server job id change to alter the key")
	}
	d := []Request{{ID: "r", Status: StatusCompleted, FileIDs: []string{"f1"}}}
	if persistKey(d) != "" {
		t.Fatalf("expected empty key for no processing requests, got %q", persistKey(d))
	}
}

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/michaelbrown/crucible/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createPending(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()
	sub := &storage.Submission{
		ID:        id,
		Language:  "python",
		SourceKey: "submissions/" + id + ".py",
	}
	if err := s.Create(context.Background(), sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	createPending(t, s, "abc12345")

	got, err := s.Get(ctx, "abc12345")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != storage.StatusPending {
		t.Errorf("status = %q, want %q", got.Status, storage.StatusPending)
	}
	if got.Language != "python" {
		t.Errorf("language = %q, want python", got.Language)
	}
	if got.SourceKey != "submissions/abc12345.py" {
		t.Errorf("source key = %q", got.SourceKey)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
	if got.CompletedAt != nil || got.OutputKey != nil || got.ErrorMessage != nil {
		t.Errorf("nullable columns should be nil on a new submission: %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestLifecycleCompleted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createPending(t, s, "run1")

	if err := s.MarkRunning(ctx, "run1"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	got, _ := s.Get(ctx, "run1")
	if got.Status != storage.StatusRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("running update must not set completed_at")
	}

	err := s.Finish(ctx, "run1", storage.Outcome{
		Status:    storage.StatusCompleted,
		OutputKey: strPtr("outputs/run1.txt"),
	})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, _ = s.Get(ctx, "run1")
	if got.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.OutputKey == nil || *got.OutputKey != "outputs/run1.txt" {
		t.Errorf("output key = %v", got.OutputKey)
	}
	if got.ErrorMessage != nil {
		t.Errorf("error message = %q, want nil", *got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
}

func TestFinishFromPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createPending(t, s, "early")

	err := s.Finish(ctx, "early", storage.Outcome{
		Status:       storage.StatusError,
		ErrorMessage: strPtr("unsupported language: ruby"),
	})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, _ := s.Get(ctx, "early")
	if got.Status != storage.StatusError || got.ErrorMessage == nil || *got.ErrorMessage != "unsupported language: ruby" {
		t.Errorf("got %+v", got)
	}
	if got.OutputKey != nil {
		t.Errorf("output key should stay null, got %q", *got.OutputKey)
	}
}

func TestTerminalIsNeverRewritten(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	createPending(t, s, "done")

	if err := s.Finish(ctx, "done", storage.Outcome{Status: storage.StatusCompleted, OutputKey: strPtr("outputs/done.txt")}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if err := s.MarkRunning(ctx, "done"); !errors.Is(err, storage.ErrNotTransitioned) {
		t.Errorf("MarkRunning on terminal = %v, want ErrNotTransitioned", err)
	}
	err := s.Finish(ctx, "done", storage.Outcome{Status: storage.StatusError, ErrorMessage: strPtr("late")})
	if !errors.Is(err, storage.ErrNotTransitioned) {
		t.Errorf("second Finish = %v, want ErrNotTransitioned", err)
	}

	got, _ := s.Get(ctx, "done")
	if got.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ErrorMessage != nil {
		t.Errorf("error message rewritten: %q", *got.ErrorMessage)
	}
}

func TestFinishRejectsNonTerminal(t *testing.T) {
	s := testStore(t)
	createPending(t, s, "x")

	if err := s.Finish(context.Background(), "x", storage.Outcome{Status: storage.StatusRunning}); err == nil {
		t.Fatal("expected error for non-terminal outcome")
	}
}

func TestMarkRunningUnknownID(t *testing.T) {
	s := testStore(t)

	err := s.MarkRunning(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotTransitioned) {
		t.Fatalf("MarkRunning = %v, want ErrNotTransitioned", err)
	}
}

func TestListFilterAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createPending(t, s, fmt.Sprintf("sub%d", i))
	}
	s.Finish(ctx, "sub1", storage.Outcome{Status: storage.StatusCompleted})
	s.Finish(ctx, "sub3", storage.Outcome{Status: storage.StatusCompleted})

	all, err := s.List(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("got %d submissions, want 5", len(all))
	}

	done, err := s.List(ctx, storage.ListOptions{Status: storage.StatusCompleted})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(done) != 2 {
		t.Errorf("got %d completed, want 2", len(done))
	}

	limited, err := s.List(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d submissions, want 2", len(limited))
	}
}

func TestListOrderedNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		sub := &storage.Submission{ID: id, Language: "python", SourceKey: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Create(ctx, sub); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	subs, err := s.List(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subs) != 3 || subs[0].ID != "new" || subs[2].ID != "old" {
		t.Errorf("unexpected order: %+v", subs)
	}
}

func TestConcurrentFinishSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	createPending(t, s, "dup")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := storage.StatusCompleted
			if i%2 == 1 {
				status = storage.StatusError
			}
			if err := s.Finish(ctx, "dup", storage.Outcome{Status: status}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, storage.ErrNotTransitioned) {
				t.Errorf("Finish: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("got %d successful terminal writes, want exactly 1", wins)
	}
}

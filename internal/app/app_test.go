package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/michaelbrown/crucible/internal/queue"
)

func TestOpenLocalStack(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfgPath := filepath.Join(dir, "crucible.yaml")
	yaml := `
queue:
  driver: memory
blob:
  driver: fs
  dir: ` + filepath.Join(dir, "blobs") + `
storage:
  driver: sqlite
  sqlite_path: ` + filepath.Join(dir, "db", "crucible.db") + `
log:
  level: error
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := Open(ctx, cfgPath, "test-consumer")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if _, ok := a.Queue.(*queue.MemoryQueue); !ok {
		t.Errorf("queue = %T, want memory queue", a.Queue)
	}
	if a.Config.Queue.Consumer != "test-consumer" {
		t.Errorf("consumer = %q", a.Config.Queue.Consumer)
	}

	sub, err := a.Service.Submit(ctx, "python", "print(1)")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "blobs", "submissions", sub.ID+".py")); err != nil {
		t.Errorf("source blob not written: %v", err)
	}
	if a.NewWorker() == nil {
		t.Error("NewWorker returned nil")
	}
}

func TestOpenBadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfgPath := filepath.Join(dir, "crucible.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage:\n  driver: mysql\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), cfgPath, ""); err == nil {
		t.Error("expected error for unknown storage driver")
	}
}

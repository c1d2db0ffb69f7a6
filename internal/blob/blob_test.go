package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKeys(t *testing.T) {
	if got := SourceKey("abc", ".java"); got != "submissions/abc.java" {
		t.Errorf("SourceKey = %q", got)
	}
	if got := OutputKey("abc"); got != "outputs/abc.txt" {
		t.Errorf("OutputKey = %q", got)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFS(root)
	if err != nil {
		t.Fatal(err)
	}

	key := SourceKey("abc", ".py")
	if err := s.Put(ctx, key, []byte("print('hi')")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "print('hi')" {
		t.Errorf("Get = %q", got)
	}

	if err := s.Put(ctx, key, []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if string(got) != "v2" {
		t.Errorf("after overwrite Get = %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(root, "submissions"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestFSStoreNotFound(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Get(context.Background(), OutputKey("missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "../x", "/etc/passwd", "a/../../b"} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

package cleanup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunRemovesInReverseOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "Foo.java")
	if err := os.WriteFile(src, []byte("class Foo {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(nil)
	// The directory is tracked first, so it can only be removed if the
	// file inside it went first.
	m.Track(dir, src)

	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory still exists: %v", err)
	}
}

func TestRunIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	m := New(nil)
	m.Track(filepath.Join(dir, "Foo.class"), filepath.Join(dir, "never"))

	if err := m.Run(); err != nil {
		t.Errorf("missing files should not be an error: %v", err)
	}
}

func TestRunContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	nonEmpty := filepath.Join(dir, "busy")
	if err := os.Mkdir(nonEmpty, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nonEmpty, "keep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(nil)
	m.Track(other, nonEmpty)

	if err := m.Run(); err == nil {
		t.Error("expected an error for the non-empty directory")
	}
	if _, err := os.Stat(other); !os.IsNotExist(err) {
		t.Error("later path should still be removed after an earlier failure")
	}
}

func TestRunClearsTracked(t *testing.T) {
	m := New(nil)
	m.Track("a", "", "b")
	if got := len(m.Paths()); got != 2 {
		t.Fatalf("tracked %d paths, want 2", got)
	}
	_ = m.Run()
	if got := len(m.Paths()); got != 0 {
		t.Errorf("tracked %d paths after Run, want 0", got)
	}
}

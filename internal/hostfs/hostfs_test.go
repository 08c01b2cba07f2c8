package hostfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func allowNone() bool { return false }

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, allowNone)

	if err := h.WriteTextFile(context.Background(), "greeting.txt", "hello\nworld\n"); err != nil {
		t.Fatalf("WriteTextFile: %v", err)
	}
	got, err := h.ReadTextFile(context.Background(), filepath.Join(dir, "greeting.txt"), nil, nil)
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if got != "hello\nworld\n" {
		t.Fatalf("content = %q, want %q", got, "hello\nworld\n")
	}
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, allowNone)

	if err := h.WriteTextFile(context.Background(), "nested/deep/file.txt", "x"); err != nil {
		t.Fatalf("WriteTextFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "deep", "file.txt")); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestReadWithLineAndLimit(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, allowNone)
	if err := h.WriteTextFile(context.Background(), "f.txt", "a\nb\nc\nd\ne"); err != nil {
		t.Fatalf("WriteTextFile: %v", err)
	}
	line, limit := 2, 2
	got, err := h.ReadTextFile(context.Background(), filepath.Join(dir, "f.txt"), &line, &limit)
	if err != nil {
		t.Fatalf("ReadTextFile: %v", err)
	}
	if got != "b\nc" {
		t.Fatalf("got %q, want %q", got, "b\nc")
	}
}

func TestRelativeTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, allowNone)
	if _, err := h.ReadTextFile(context.Background(), "../../etc/passwd", nil, nil); err == nil {
		t.Fatal("expected traversal outside cwd to be rejected")
	}
}

func TestAbsoluteOutsideCwdRejectedUnlessAllowed(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("shh"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	h := New(dir, allowNone)
	if _, err := h.ReadTextFile(context.Background(), outsideFile, nil, nil); err == nil {
		t.Fatal("expected absolute path outside cwd to be rejected by default")
	}

	bypass := New(dir, func() bool { return true })
	got, err := bypass.ReadTextFile(context.Background(), outsideFile, nil, nil)
	if err != nil {
		t.Fatalf("expected bypass mode to allow the read: %v", err)
	}
	if got != "shh" {
		t.Fatalf("got %q, want %q", got, "shh")
	}
}

func TestWriteIsAtomicNoPartialFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	h := New(dir, allowNone)
	if err := h.WriteTextFile(context.Background(), "a.txt", "version-1"); err != nil {
		t.Fatalf("WriteTextFile: %v", err)
	}
	if err := h.WriteTextFile(context.Background(), "a.txt", "version-2-longer-content"); err != nil {
		t.Fatalf("WriteTextFile: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "version-2-longer-content" {
		t.Fatalf("got %q, want final version only (no partial/temp leftovers)", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file in dir after two writes, got %d", len(entries))
	}
}

package frames

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFilesystemSourceSortsAndFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.jpg", "a.jpg", "b.jpg", "ignore.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir subdir: %v", err)
	}

	src, err := NewFilesystemSource(dir, ".jpg")
	if err != nil {
		t.Fatalf("NewFilesystemSource: %v", err)
	}
	fs := src.(*filesystemSource)

	want := []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "c.jpg"),
	}
	if len(fs.paths) != len(want) {
		t.Fatalf("paths = %v, want %v", fs.paths, want)
	}
	for i := range want {
		if fs.paths[i] != want[i] {
			t.Fatalf("paths[%d] = %q, want %q", i, fs.paths[i], want[i])
		}
	}
	if src.IsFinished() {
		t.Fatalf("IsFinished() = true before reading any frame")
	}
}

func TestNewFilesystemSourceEmptyDirIsImmediatelyFinished(t *testing.T) {
	dir := t.TempDir()
	src, err := NewFilesystemSource(dir, ".jpg")
	if err != nil {
		t.Fatalf("NewFilesystemSource: %v", err)
	}
	if !src.IsFinished() {
		t.Fatalf("IsFinished() = false for empty dir")
	}
}

func TestRegistryResolveUnknownSourceType(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve(t.TempDir(), Request{SourceType: "rtsp"}); err == nil {
		t.Fatalf("Resolve(unknown) should fail")
	}
}

func TestRegistryResolveFilesystemDefaultExtension(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "frame.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write frame.jpg: %v", err)
	}

	r := NewRegistry()
	src, err := r.Resolve(dir, Request{SourceType: "filesystem"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.IsFinished() {
		t.Fatalf("IsFinished() = true, want a pending frame")
	}
}

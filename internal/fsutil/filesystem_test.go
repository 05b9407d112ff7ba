package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_RoundTrip(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "res", "nested")

	if err := osfs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !osfs.Exists(dir) {
		t.Fatal("expected directory to exist")
	}

	path := filepath.Join(dir, "C2F_01-02_03.txt")
	w, err := osfs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("1 2\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "1 2\n" {
		t.Errorf("got %q", data)
	}

	if err := osfs.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if osfs.Exists(filepath.Join(dir, "missing.txt")) {
		t.Error("expected missing file to not exist")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/res/test.txt", []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/res/./test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected %q, got %q", "hello", data)
	}

	// returned slice is a copy
	data[0] = 'j'
	again, _ := mfs.ReadFile("/res/test.txt")
	if string(again) != "hello" {
		t.Error("ReadFile must return a copy")
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("res/plot.png")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("abc"))

	before, _ := mfs.ReadFile("res/plot.png")
	if len(before) != 0 {
		t.Errorf("expected empty file before Close, got %q", before)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	after, _ := mfs.ReadFile("res/plot.png")
	if string(after) != "abc" {
		t.Errorf("expected %q after Close, got %q", "abc", after)
	}
}

func TestMemoryFileSystem_MissingFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.ReadFile("nope.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_DirsAndFiles(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("res/a/b", 0o755)

	for _, d := range []string{"res", "res/a", "res/a/b"} {
		if !mfs.Exists(d) {
			t.Errorf("expected %s to exist", d)
		}
	}

	mfs.WriteFile("res/F2I_b.txt", nil, 0o644)
	mfs.WriteFile("res/F2I_a.txt", nil, 0o644)
	mfs.WriteFile("res/C2F_a.txt", nil, 0o644)

	got := mfs.Files("res/F2I_")
	if len(got) != 2 || got[0] != "res/F2I_a.txt" || got[1] != "res/F2I_b.txt" {
		t.Errorf("Files() = %v", got)
	}
}

package filesystem

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFileSystem(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileSystem(tempDir)

	if err := os.MkdirAll(filepath.Join(tempDir, "testdir"), 0770); err != nil {
		t.Fatal(err)
	}
	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tempDir, "testdir", "test.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "a.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	// Test FileExists
	exists, err := fs.FileExists("/testdir/test.txt")
	if err != nil {
		t.Errorf("FileExists failed: %v", err)
	}
	if !exists {
		t.Error("File should exist")
	}

	exists, err = fs.FileExists("/testdir/missing.txt")
	if err != nil {
		t.Errorf("FileExists failed: %v", err)
	}
	if exists {
		t.Error("File should not exist")
	}

	// Test IsFile / IsDirectory
	isFile, err := fs.IsFile("/testdir")
	if err != nil {
		t.Errorf("IsFile failed: %v", err)
	}
	if isFile {
		t.Error("Directory reported as file")
	}
	isDir, err := fs.IsDirectory("/testdir")
	if err != nil {
		t.Errorf("IsDirectory failed: %v", err)
	}
	if !isDir {
		t.Error("Directory should exist")
	}

	// Test ReadFile
	readContent, err := fs.ReadFile("/testdir/test.txt")
	if err != nil {
		t.Errorf("ReadFile failed: %v", err)
	}
	if string(readContent) != string(content) {
		t.Errorf("Expected %s, got %s", content, readContent)
	}

	// Test Open
	file, err := fs.Open("testdir/test.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	opened, err := io.ReadAll(file)
	file.Close()
	if err != nil || string(opened) != string(content) {
		t.Errorf("Expected %s, got %s (%v)", content, opened, err)
	}

	if _, err := fs.Open("/nope"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}

	// Test FileMetaData
	info, err := fs.FileMetaData("/testdir/test.txt")
	if err != nil {
		t.Errorf("FileMetaData failed: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), info.Size())
	}

	// Test ListDirectory
	entries, err := fs.ListDirectory("/")
	if err != nil {
		t.Fatalf("ListDirectory failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Name() != "a.txt" || entries[1].Name() != "testdir" {
		t.Errorf("Unexpected listing %v", entries)
	}

	if _, err := fs.ListDirectory("/a.txt"); !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("Expected ErrDirectoryNotFound, got %v", err)
	}
}

func TestPathsStayBelowRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	if err := os.Mkdir(root, 0770); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	fs := NewLocalFileSystem(root)

	exists, err := fs.FileExists("/../secret.txt")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("path escaped the document root")
	}

	abs, err := fs.GetAbsolutePath("/../../x")
	if err != nil {
		t.Fatal(err)
	}
	expected, _ := filepath.Abs(filepath.Join(root, "x"))
	if abs != expected {
		t.Errorf("Expected %s, got %s", expected, abs)
	}

	if _, err := fs.Open("/a\x00b"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Expected ErrInvalidPath, got %v", err)
	}
}

func TestHelpers(t *testing.T) {
	if GetFileExtension("/dir/file.txt.gz") != ".gz" {
		t.Error("GetFileExtension failed")
	}
	if GetFileName("/dir/file.txt") != "file.txt" {
		t.Error("GetFileName failed")
	}
}

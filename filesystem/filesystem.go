package filesystem

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Error constants for better error handling
var (
	ErrFileNotFound      = fmt.Errorf("filesystem: file not found")
	ErrDirectoryNotFound = fmt.Errorf("filesystem: directory not found")
	ErrInvalidPath       = fmt.Errorf("filesystem: invalid path")
)

// Filesystem resolves slash separated request paths below a document root.
// Paths can never address anything outside the root.
type Filesystem interface {
	Open(name string) (fs.File, error)
	ReadFile(name string) ([]byte, error)

	FileExists(name string) (bool, error)
	FileMetaData(name string) (os.FileInfo, error)

	IsFile(name string) (bool, error)
	IsDirectory(name string) (bool, error)
	ListDirectory(name string) ([]os.FileInfo, error)

	GetAbsolutePath(name string) (string, error)
}

type localFileSystem struct {
	root string
}

func NewLocalFileSystem(root string) Filesystem {
	return &localFileSystem{root: root}
}

func (filesystem *localFileSystem) resolve(name string) (string, error) {
	if strings.ContainsRune(name, 0) || strings.ContainsRune(name, '\\') {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean("/" + name)
	return filepath.Join(filesystem.root, filepath.FromSlash(cleaned)), nil
}

func (filesystem *localFileSystem) Open(name string) (fs.File, error) {
	resolved, err := filesystem.resolve(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, err
	}
	return file, nil
}

func (filesystem *localFileSystem) ReadFile(name string) ([]byte, error) {
	exists, err := filesystem.IsFile(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	resolved, err := filesystem.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

func (filesystem *localFileSystem) stat(name string) (os.FileInfo, error) {
	resolved, err := filesystem.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(resolved)
}

func (filesystem *localFileSystem) FileExists(name string) (bool, error) {
	_, err := filesystem.stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (filesystem *localFileSystem) FileMetaData(name string) (os.FileInfo, error) {
	info, err := filesystem.stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, err
	}

	return info, nil
}

// IsFile implements Filesystem.
func (filesystem *localFileSystem) IsFile(name string) (bool, error) {
	info, err := filesystem.stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// IsDirectory implements Filesystem.
func (filesystem *localFileSystem) IsDirectory(name string) (bool, error) {
	info, err := filesystem.stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// ListDirectory returns the entries of a directory sorted by name.
func (filesystem *localFileSystem) ListDirectory(name string) ([]os.FileInfo, error) {
	isDir, err := filesystem.IsDirectory(name)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, name)
	}

	resolved, err := filesystem.resolve(name)
	if err != nil {
		return nil, err
	}

	dir, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := dir.Close(); closeErr != nil {
			slog.Error("closing directory error", "error", closeErr)
		}
	}()

	infos, err := dir.Readdir(-1)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name() < infos[j].Name()
	})

	return infos, nil
}

// GetAbsolutePath implements Filesystem.
func (filesystem *localFileSystem) GetAbsolutePath(name string) (string, error) {
	resolved, err := filesystem.resolve(name)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

// GetFileExtension returns the file extension
func GetFileExtension(name string) string {
	return path.Ext(name)
}

// GetFileName returns the filename without path
func GetFileName(name string) string {
	return path.Base(name)
}

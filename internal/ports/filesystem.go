package ports

import (
	"io"
	"io/fs"
	"os"
)

// FileHandle is an open file returned by FileSystem.OpenFile.
type FileHandle interface {
	io.Writer
	io.Closer

	// Name returns the path the handle was opened with.
	Name() string
}

// FileSystem abstracts file operations for testing.
type FileSystem interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// OpenFile opens the named file with the given flags (os.O_APPEND etc.).
	OpenFile(name string, flag int, perm fs.FileMode) (FileHandle, error)

	// Stat returns file info for the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Rename renames (moves) oldpath to newpath.
	Rename(oldpath, newpath string) error

	// Getenv retrieves the value of the environment variable named by the key.
	Getenv(key string) string
}

// AppendFlags are the flags used to open capture files for appending.
const AppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND

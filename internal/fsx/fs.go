// Package fsx provides filesystem abstractions for testing and fault injection.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] package
//   - [Chaos]: testing implementation that injects random failures
//
// Example usage:
//
//	fsys := fsx.NewReal()
//	f, err := fsys.Open("artifact.bin")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	// Works with all stdlib io functions:
//	io.Copy(dst, f)
package fsx

import (
	"io"
	"os"
	"time"
)

// File represents an open file descriptor.
//
// This interface is satisfied by [os.File] and can be used with all
// standard library functions that accept [io.Reader], [io.Writer],
// [io.Seeker], or [io.Closer].
type File interface {
	// Embedded interfaces from [io] package.
	// These provide Read, Write, Close, and Seek methods.
	io.ReadWriteCloser
	io.Seeker

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error
}

// FS defines filesystem operations for reading, writing, and managing files.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os] package
//   - [Chaos]: testing use, injects random failures
//
// All methods mirror their [os] package equivalents but can be intercepted
// for testing with fault injection.
type FS interface {
	// --- File Operations ---

	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// Create creates or truncates a file for writing. See [os.Create].
	// The file is created with mode 0666 (before umask).
	Create(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See [os.OpenFile].
	// Use this for fine-grained control (append, exclusive create, etc).
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// --- Convenience Methods ---

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	// For large files, prefer [FS.Open] with streaming reads.
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename to prevent partial writes on crash.
	// This is safer than [os.WriteFile] for critical data.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// HashFile streams a file through SHA-256 and returns the lowercase
	// hex digest. The file is never loaded into memory whole.
	HashFile(path string) (string, error)

	// --- Directory Operations ---

	// ReadDir reads a directory and returns its entries. See [os.ReadDir].
	// Entries are sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists.
	MkdirAll(path string, perm os.FileMode) error

	// --- Metadata ---

	// Stat returns file info. See [os.Stat].
	// Returns [os.ErrNotExist] if file doesn't exist.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Chmod changes the mode of a file. See [os.Chmod].
	Chmod(path string, mode os.FileMode) error

	// Chtimes changes the access and modification times of a file.
	// See [os.Chtimes]. Used to refresh lock file heartbeats.
	Chtimes(path string, atime, mtime time.Time) error

	// --- Mutations ---

	// Remove deletes a file or empty directory. See [os.Remove].
	// For recursive deletion, use [FS.RemoveAll].
	Remove(path string) error

	// RemoveAll deletes a path and any children. See [os.RemoveAll].
	// No error if path doesn't exist.
	RemoveAll(path string) error

	// Rename moves/renames a file or directory. See [os.Rename].
	// Atomic on the same filesystem.
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)

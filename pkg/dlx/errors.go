package dlx

import (
	"errors"
	"fmt"
	iofs "io/fs"

	"golang.org/x/sys/unix"
)

// ErrChecksumMismatch matches any [*ChecksumError] via errors.Is.
var ErrChecksumMismatch = errors.New("dlx: checksum mismatch")

// ChecksumError reports a downloaded artifact whose bytes did not hash to
// the expected checksum. The offending file is deleted before this error is
// returned, so nothing corrupt stays in the cache.
type ChecksumError struct {
	URL      string
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf(
		"dlx: checksum mismatch for %s: expected %s, got %s (the upstream file changed or the download was corrupted; retry, or update the pinned checksum)",
		e.URL, e.Expected, e.Actual,
	)
}

// Is reports target == ErrChecksumMismatch.
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// PermissionError reports a cache directory the current user cannot write.
type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"dlx: cannot write to cache directory %s: permission denied (set DLX_CACHE_DIR to a directory you own, or fix ownership of the existing one)",
		e.Path,
	)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Permanent marks the error as not retryable.
func (e *PermissionError) Permanent() bool {
	return true
}

// ReadOnlyError reports a cache directory on a filesystem mounted read-only.
type ReadOnlyError struct {
	Path string
	Err  error
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf(
		"dlx: cache directory %s is on a read-only filesystem (set DLX_CACHE_DIR to a writable location)",
		e.Path,
	)
}

func (e *ReadOnlyError) Unwrap() error {
	return e.Err
}

// Permanent marks the error as not retryable.
func (e *ReadOnlyError) Permanent() bool {
	return true
}

// DownloadError wraps the last transport failure once the retry schedule is
// spent or the failure is not worth retrying.
type DownloadError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf(
		"dlx: downloading %s failed after %d attempt(s): %v (check the URL and your network or proxy settings)",
		e.URL, e.Attempts, e.Err,
	)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// classifyWriteError maps low-level cache-directory failures onto the
// package taxonomy so callers see a remediation hint instead of a bare
// errno. Errors outside the taxonomy pass through unchanged.
func classifyWriteError(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EROFS):
		return &ReadOnlyError{Path: path, Err: err}
	case errors.Is(err, iofs.ErrPermission):
		return &PermissionError{Path: path, Err: err}
	}

	return err
}

// permanentError is implemented by transport errors that retrying the same
// request cannot fix, such as a 404 for a URL that does not exist.
type permanentError interface {
	Permanent() bool
}

func permanent(err error) bool {
	var p permanentError

	return errors.As(err, &p) && p.Permanent()
}

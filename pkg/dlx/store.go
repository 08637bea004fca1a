package dlx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SocketDev/socket-lib-sub004/internal/fsx"
	"github.com/SocketDev/socket-lib-sub004/pkg/batch"
)

// DefaultTTL is how long a cache entry stays fresh when the store is not
// configured otherwise.
const DefaultTTL = 7 * 24 * time.Hour

// cleanConcurrency bounds the parallel removals during a Clean sweep.
const cleanConcurrency = 4

// Key derives the cache key for an artifact: the hex SHA-256 of the URL and
// artifact name joined by a colon. Same URL and name, same key, on every
// machine.
func Key(url, name string) string {
	sum := sha256.Sum256([]byte(url + ":" + name))

	return hex.EncodeToString(sum[:])
}

// StoreOptions configures a [Store]. The zero value uses the defaults.
type StoreOptions struct {
	// FS overrides the filesystem, mainly for fault-injection tests.
	// Default is the real one.
	FS fsx.FS

	// TTL is the freshness window for cache entries. Zero or negative
	// selects DefaultTTL.
	TTL time.Duration

	// Logger receives store diagnostics. Nil discards them.
	Logger *slog.Logger

	// Clock overrides the time source for expiry decisions in tests.
	Clock func() time.Time
}

// Store owns the on-disk cache layout under a single root directory.
//
// Each entry is a directory named by its cache key, holding the artifact,
// a metadata document, and transiently a lock sentinel while some process
// downloads into it. The store itself never locks; coordination belongs to
// [Client].
type Store struct {
	root string
	fs   fsx.FS
	ttl  time.Duration
	log  *slog.Logger
	now  func() time.Time
}

// NewStore returns a Store rooted at dir. Nothing is created on disk until
// [Store.Init] or a write.
func NewStore(dir string, opts StoreOptions) *Store {
	s := &Store{
		root: dir,
		fs:   opts.FS,
		ttl:  opts.TTL,
		log:  opts.Logger,
		now:  opts.Clock,
	}

	if s.fs == nil {
		s.fs = fsx.NewReal()
	}

	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}

	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// FS returns the filesystem the store writes through.
func (s *Store) FS() fsx.FS {
	return s.fs
}

// TTL returns the freshness window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Init creates the cache root and verifies it is actually writable. Mkdir
// succeeds on an existing directory the user cannot write into, which would
// otherwise only surface mid-download, so Init probes with access(2).
func (s *Store) Init() error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return classifyWriteError(s.root, err)
	}

	if err := unix.Access(s.root, unix.W_OK); err != nil {
		return classifyWriteError(s.root, &os.PathError{Op: "access", Path: s.root, Err: err})
	}

	return nil
}

// EntryDir returns the directory of the entry for key.
func (s *Store) EntryDir(key string) string {
	return filepath.Join(s.root, key)
}

// ArtifactPath returns where the named artifact lives inside the entry.
func (s *Store) ArtifactPath(key, name string) string {
	return filepath.Join(s.root, key, name)
}

// MetadataPath returns the entry's metadata document path.
func (s *Store) MetadataPath(key string) string {
	return filepath.Join(s.root, key, metadataFile)
}

// LockPath returns the entry's lock sentinel path.
func (s *Store) LockPath(key string) string {
	return filepath.Join(s.root, key, lockFilename)
}

// EnsureEntry creates the entry directory for key.
func (s *Store) EnsureEntry(key string) error {
	if err := s.fs.MkdirAll(s.EntryDir(key), 0o755); err != nil {
		return classifyWriteError(s.EntryDir(key), err)
	}

	return nil
}

// ReadMetadata loads and parses the entry's metadata document.
func (s *Store) ReadMetadata(key string) (*Metadata, error) {
	data, err := s.fs.ReadFile(s.MetadataPath(key))
	if err != nil {
		return nil, fmt.Errorf("reading metadata for entry %s: %w", key, err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parsing metadata for entry %s: %w", key, err)
	}

	return &md, nil
}

// WriteMetadata persists the entry's metadata document atomically. A zero
// Timestamp is stamped with the current time, so callers normally leave it
// unset.
func (s *Store) WriteMetadata(key string, md *Metadata) error {
	if md.Timestamp == 0 {
		md.Timestamp = s.now().UnixMilli()
	}

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata for entry %s: %w", key, err)
	}

	if err := s.fs.WriteFileAtomic(s.MetadataPath(key), append(data, '\n'), 0o644); err != nil {
		return classifyWriteError(s.MetadataPath(key), err)
	}

	return nil
}

// Valid reports whether the entry's metadata marks it fresh: the document
// exists, parses, carries a positive timestamp, and is younger than the
// TTL. Anything else, including unreadable or corrupt metadata, counts as
// infinitely stale.
func (s *Store) Valid(key string) bool {
	md, err := s.ReadMetadata(key)

	return err == nil && s.Fresh(md)
}

// Fresh reports whether md carries a positive timestamp younger than the
// TTL.
func (s *Store) Fresh(md *Metadata) bool {
	if md == nil || md.Timestamp <= 0 {
		return false
	}

	return s.now().Sub(time.UnixMilli(md.Timestamp)) < s.ttl
}

// Invalidate removes the entry for key, artifact and metadata both. Missing
// entries are not an error.
func (s *Store) Invalidate(key string) error {
	if err := s.fs.RemoveAll(s.EntryDir(key)); err != nil {
		return fmt.Errorf("invalidating entry %s: %w", key, err)
	}

	return nil
}

// Clean sweeps the cache root and removes every expired entry. One
// unremovable entry never blocks the rest: per-entry failures are logged
// and skipped. Returns how many entries were removed.
func (s *Store) Clean(ctx context.Context) (int, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading cache root %s: %w", s.root, err)
	}

	var keys []string

	for _, entry := range entries {
		if entry.IsDir() {
			keys = append(keys, entry.Name())
		}
	}

	removed, err := batch.Filter(ctx, keys, func(_ context.Context, key string) (bool, error) {
		if s.Valid(key) {
			return false, nil
		}

		if err := s.fs.RemoveAll(s.EntryDir(key)); err != nil {
			s.log.Warn("could not remove expired cache entry",
				slog.String("key", key),
				slog.String("error", err.Error()))

			return false, err
		}

		s.log.Debug("removed expired cache entry", slog.String("key", key))

		return true, nil
	}, batch.Options{Concurrency: cleanConcurrency, DropOnError: true})
	if err != nil {
		return 0, err
	}

	return len(removed), nil
}

// Purge removes every entry regardless of freshness. Like [Store.Clean],
// per-entry failures are logged and skipped.
func (s *Store) Purge(ctx context.Context) (int, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading cache root %s: %w", s.root, err)
	}

	var keys []string

	for _, entry := range entries {
		if entry.IsDir() {
			keys = append(keys, entry.Name())
		}
	}

	removed, err := batch.Filter(ctx, keys, func(_ context.Context, key string) (bool, error) {
		if err := s.fs.RemoveAll(s.EntryDir(key)); err != nil {
			s.log.Warn("could not remove cache entry",
				slog.String("key", key),
				slog.String("error", err.Error()))

			return false, err
		}

		return true, nil
	}, batch.Options{Concurrency: cleanConcurrency, DropOnError: true})
	if err != nil {
		return 0, err
	}

	return len(removed), nil
}

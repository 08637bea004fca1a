package dlx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/SocketDev/socket-lib-sub004/internal/httpx"
	"github.com/SocketDev/socket-lib-sub004/internal/spawn"
	"github.com/SocketDev/socket-lib-sub004/pkg/lockfile"
	"github.com/SocketDev/socket-lib-sub004/pkg/retry"
)

// DefaultRetry is the download retry schedule: four total attempts backing
// off from half a second, with jitter to spread concurrent callers.
var DefaultRetry = retry.Policy{
	Retries:   3,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  10 * time.Second,
	Factor:    2,
	Jitter:    true,
}

// Transport streams artifact bytes from a URL. Implementations should
// return errors with a Permanent() bool method for failures that retrying
// cannot fix; anything unmarked is treated as transient.
type Transport interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Spawner executes an acquired artifact.
type Spawner interface {
	Run(ctx context.Context, artifact string, opts spawn.Options) (int, error)
}

// Options configures a [Client]. Store is required; everything else has a
// working default.
type Options struct {
	// Store owns the cache layout. Required.
	Store *Store

	// Transport fetches artifact bytes. Default is an HTTP client.
	Transport Transport

	// Spawner runs acquired artifacts. Default spawns local processes.
	Spawner Spawner

	// Retry is the download retry schedule. Nil selects DefaultRetry.
	// The policy's OnRetry hook and CancelOnStop flag are owned by the
	// client; the other fields are honored as given.
	Retry *retry.Policy

	// Lock tunes the per-entry download lock. The zero value uses the
	// lockfile defaults.
	Lock lockfile.Options

	// Platform and Arch are recorded in entry metadata. Defaults are the
	// runtime's values.
	Platform string
	Arch     string

	// Logger receives acquisition diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Request names one artifact to acquire.
type Request struct {
	// URL is where the artifact is downloaded from.
	URL string

	// Name is the artifact's file name inside its cache entry. It must be
	// a bare name, no path separators.
	Name string

	// Checksum, when set, is the expected hex SHA-256 of the artifact
	// bytes. Empty skips verification.
	Checksum string

	// Force bypasses the cache and re-downloads even a fresh entry.
	Force bool
}

func (r Request) validate() error {
	if r.URL == "" {
		return errors.New("dlx: request needs a url")
	}

	if r.Name == "" {
		return errors.New("dlx: request needs an artifact name")
	}

	if r.Name != filepath.Base(r.Name) || r.Name == "." || r.Name == ".." {
		return fmt.Errorf("dlx: artifact name %q must be a bare file name", r.Name)
	}

	return nil
}

// Result describes an acquired artifact.
type Result struct {
	// Path is the artifact file, executable and complete.
	Path string

	// Dir is the entry directory holding the artifact.
	Dir string

	// Key is the entry's cache key.
	Key string

	// Checksum is the artifact's hex SHA-256.
	Checksum string

	// Size is the artifact's byte length.
	Size int64

	// Downloaded reports whether this call fetched the bytes. False means
	// a cache hit or reuse of another process's download.
	Downloaded bool
}

// RunOptions controls execution of an acquired artifact.
type RunOptions struct {
	Args   []string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// RunResult is an acquisition plus the child's exit code.
type RunResult struct {
	Result

	ExitCode int
}

// Client acquires artifacts into a [Store], coordinating with other
// processes through per-entry lock files so each artifact is downloaded
// once no matter how many callers race for it.
type Client struct {
	store     *Store
	transport Transport
	spawner   Spawner
	retry     retry.Policy
	lock      lockfile.Options
	platform  string
	arch      string
	log       *slog.Logger
}

// New returns a Client over the given store.
func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, errors.New("dlx: client needs a store")
	}

	c := &Client{
		store:     opts.Store,
		transport: opts.Transport,
		spawner:   opts.Spawner,
		retry:     DefaultRetry,
		lock:      opts.Lock,
		platform:  opts.Platform,
		arch:      opts.Arch,
		log:       opts.Logger,
	}

	if opts.Retry != nil {
		c.retry = *opts.Retry
	}

	if c.transport == nil {
		c.transport = httpx.New(httpx.Options{})
	}

	if c.spawner == nil {
		c.spawner = spawn.Local{}
	}

	if c.platform == "" {
		c.platform = runtime.GOOS
	}

	if c.arch == "" {
		c.arch = runtime.GOARCH
	}

	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return c, nil
}

// Acquire ensures the requested artifact is present, verified, and
// executable in the cache, downloading it if needed, and returns where it
// landed.
//
// The fast path reads a fresh entry without any locking; completed entries
// are immutable, so no coordination is needed to reuse one. Everything else
// happens under the entry's lock file, which serializes downloads across
// processes sharing the cache.
func (c *Client) Acquire(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	key := Key(req.URL, req.Name)
	dir := c.store.EntryDir(key)
	artifact := c.store.ArtifactPath(key, req.Name)

	log := c.log.With(slog.String("name", req.Name), slog.String("key", key[:12]))

	// The hit path stays ahead of Init on purpose: a fresh entry in a
	// read-only cache is still usable.
	if !req.Force {
		if res := c.lookup(key, dir, artifact); res != nil {
			log.Debug("cache hit", slog.String("path", res.Path))

			return res, nil
		}
	}

	if err := c.store.Init(); err != nil {
		return nil, err
	}

	if err := c.store.EnsureEntry(key); err != nil {
		return nil, err
	}

	var res *Result

	err := lockfile.With(ctx, c.store.FS(), c.store.LockPath(key), c.lock, func(ctx context.Context) error {
		var fillErr error
		res, fillErr = c.fill(ctx, log, req, key, dir, artifact)

		return fillErr
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// lookup is the lock-free hit path: fresh metadata plus a present artifact.
func (c *Client) lookup(key, dir, artifact string) *Result {
	md, err := c.store.ReadMetadata(key)
	if err != nil || !c.store.Fresh(md) {
		return nil
	}

	exists, err := c.store.FS().Exists(artifact)
	if err != nil || !exists {
		return nil
	}

	return &Result{
		Path:     artifact,
		Dir:      dir,
		Key:      key,
		Checksum: md.Checksum,
		Size:     md.Size,
	}
}

// fill runs under the entry lock and leaves a complete, verified,
// executable artifact behind.
func (c *Client) fill(ctx context.Context, log *slog.Logger, req Request, key, dir, artifact string) (*Result, error) {
	fsys := c.store.FS()

	// Another process may have completed the entry while this one waited
	// for the lock. A complete artifact under fresh metadata is verified
	// by hashing it, never by downloading it again.
	if !req.Force && c.store.Valid(key) {
		if info, err := fsys.Stat(artifact); err == nil && info.Size() > 0 {
			sum, hashErr := fsys.HashFile(artifact)
			if hashErr == nil && (req.Checksum == "" || strings.EqualFold(sum, req.Checksum)) {
				log.Debug("reusing artifact completed by another process")

				return &Result{
					Path:     artifact,
					Dir:      dir,
					Key:      key,
					Checksum: sum,
					Size:     info.Size(),
				}, nil
			}
		}
	}

	// Download to a partial file and rename into place once verified, so
	// a crash or checksum failure never leaves a half-written artifact
	// under the final name.
	partial := artifact + ".partial"

	var attempts int

	policy := c.retry
	policy.CancelOnStop = true
	policy.OnRetry = func(attempt int, cause error, delay time.Duration) (time.Duration, error) {
		if permanent(cause) {
			return 0, retry.ErrStop
		}

		log.Warn("download failed; will retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", cause.Error()))

		return -1, nil
	}

	completed, err := retry.Run(ctx, policy, func(ctx context.Context) error {
		attempts++

		return c.download(ctx, req.URL, partial)
	})
	if err != nil {
		_ = fsys.Remove(partial)

		return nil, &DownloadError{URL: req.URL, Attempts: attempts, Err: err}
	}

	if !completed {
		_ = fsys.Remove(partial)

		return nil, ctx.Err()
	}

	sum, err := fsys.HashFile(partial)
	if err != nil {
		_ = fsys.Remove(partial)

		return nil, fmt.Errorf("hashing downloaded artifact: %w", err)
	}

	if req.Checksum != "" && !strings.EqualFold(sum, req.Checksum) {
		_ = fsys.Remove(partial)

		return nil, &ChecksumError{URL: req.URL, Path: artifact, Expected: req.Checksum, Actual: sum}
	}

	info, err := fsys.Stat(partial)
	if err != nil {
		return nil, fmt.Errorf("inspecting downloaded artifact: %w", err)
	}

	if err := fsys.Rename(partial, artifact); err != nil {
		_ = fsys.Remove(partial)

		return nil, classifyWriteError(artifact, err)
	}

	if err := fsys.Chmod(artifact, 0o755); err != nil {
		return nil, fmt.Errorf("marking %s executable: %w", artifact, err)
	}

	// Metadata is a non-critical side write: the artifact is already
	// complete, so a failure here costs a future re-download, not this
	// call.
	md := &Metadata{
		Version:           metadataVersion,
		CacheKey:          key,
		Checksum:          sum,
		ChecksumAlgorithm: "sha256",
		Platform:          c.platform,
		Arch:              c.arch,
		Size:              info.Size(),
		Source:            Source{Type: SourceDownload, URL: req.URL},
	}
	if err := c.store.WriteMetadata(key, md); err != nil {
		log.Warn("could not write cache metadata", slog.String("error", err.Error()))
	}

	log.Info("downloaded artifact",
		slog.String("url", req.URL),
		slog.Int64("size", info.Size()),
		slog.Int("attempts", attempts))

	return &Result{
		Path:       artifact,
		Dir:        dir,
		Key:        key,
		Checksum:   sum,
		Size:       info.Size(),
		Downloaded: true,
	}, nil
}

// download streams one fetch of url into dest, truncating any earlier
// partial content.
func (c *Client) download(ctx context.Context, url, dest string) error {
	body, err := c.transport.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := c.store.FS().Create(dest)
	if err != nil {
		return classifyWriteError(dest, err)
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing %s: %w", dest, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return fmt.Errorf("syncing %s: %w", dest, err)
	}

	return f.Close()
}

// Run acquires the artifact and executes it. The child's exit code is
// reported in the result, not as an error; see [spawn.Local.Run].
func (c *Client) Run(ctx context.Context, req Request, opts RunOptions) (*RunResult, error) {
	res, err := c.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}

	code, err := c.spawner.Run(ctx, res.Path, spawn.Options{
		Args:    opts.Args,
		Env:     opts.Env,
		PathDir: res.Dir,
		Stdin:   opts.Stdin,
		Stdout:  opts.Stdout,
		Stderr:  opts.Stderr,
	})
	if err != nil {
		return nil, err
	}

	return &RunResult{Result: *res, ExitCode: code}, nil
}

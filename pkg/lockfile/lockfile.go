// Package lockfile provides mutual exclusion across unrelated OS processes
// using a sentinel lock file.
//
// Unlike flock(2), which locks an inode held by one process, a sentinel file
// works between processes that never share a descriptor: whoever creates the
// file with O_EXCL holds the lock, and everyone else polls. A held lock is
// kept alive by a heartbeat that refreshes the file's mtime; a lock whose
// mtime is older than the staleness threshold is treated as abandoned by a
// crashed holder and reclaimed.
//
// The staleness model has a documented accepted risk: a live holder whose
// heartbeat stalls past the threshold (process suspension, extreme load) can
// be reclaimed while still running. Heartbeat intervals are kept well under
// the threshold (2s touch vs 5s stale by default) to make that window small.
// There is no FIFO fairness among waiters; whoever wins the next O_EXCL
// create takes the lock.
package lockfile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SocketDev/socket-lib-sub004/internal/fsx"
)

const (
	// DefaultStale is how old a lock file's mtime may be before the lock is
	// considered abandoned.
	DefaultStale = 5 * time.Second

	// DefaultTouch is how often a held lock refreshes its mtime.
	DefaultTouch = 2 * time.Second

	defaultPollMin = 10 * time.Millisecond
	defaultPollMax = 250 * time.Millisecond

	lockPerms = 0o644
)

// Options configures lock acquisition. The zero value uses the defaults.
type Options struct {
	// Stale is the mtime age at which an existing lock file is treated as
	// abandoned and reclaimed. Default [DefaultStale].
	Stale time.Duration

	// Touch is the heartbeat interval while the lock is held.
	// Default [DefaultTouch].
	Touch time.Duration

	// PollMin and PollMax bound the wait between acquisition attempts while
	// another process holds the lock. The wait starts at PollMin and doubles
	// up to PollMax.
	PollMin time.Duration
	PollMax time.Duration

	// Logger receives heartbeat failures and stale reclaims at Warn level.
	// Nil discards them.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Stale <= 0 {
		o.Stale = DefaultStale
	}

	if o.Touch <= 0 {
		o.Touch = DefaultTouch
	}

	if o.PollMin <= 0 {
		o.PollMin = defaultPollMin
	}

	if o.PollMax <= 0 {
		o.PollMax = defaultPollMax
	}

	if o.PollMax < o.PollMin {
		o.PollMax = o.PollMin
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return o
}

// Lock is a held cross-process lock. Release it with [Lock.Close].
type Lock struct {
	path  string
	token string
	fs    fsx.FS
	log   *slog.Logger

	mu       sync.Mutex
	released bool
	stop     chan struct{}
	done     chan struct{}
}

// Acquire takes the lock at path, blocking until it is free, reclaimed as
// stale, or ctx is canceled (in which case ctx.Err() is returned).
//
// Irrecoverable filesystem errors (for example EACCES creating the sentinel)
// propagate immediately; proceeding without mutual exclusion is never an
// option.
func Acquire(ctx context.Context, fsys fsx.FS, path string, opts Options) (*Lock, error) {
	opts = opts.withDefaults()

	token := uuid.NewString()
	wait := opts.PollMin

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		created, err := createSentinel(fsys, path, token)
		if err != nil {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}

		if created {
			l := &Lock{
				path:  path,
				token: token,
				fs:    fsys,
				log:   opts.Logger,
				stop:  make(chan struct{}),
				done:  make(chan struct{}),
			}

			go l.heartbeat(opts.Touch)

			return l, nil
		}

		info, err := fsys.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Holder released between our create and stat; try again now.
				continue
			}

			return nil, fmt.Errorf("inspecting lock file %s: %w", path, err)
		}

		if age := time.Since(info.ModTime()); age >= opts.Stale {
			// Abandoned by a crashed holder. Remove and race for the next
			// O_EXCL create; two reclaimers still converge on one winner.
			// The previous owner's token is not verified (accepted risk,
			// see package doc).
			if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reclaiming stale lock %s: %w", path, err)
			}

			opts.Logger.Warn("reclaimed stale lock",
				slog.String("path", path),
				slog.Duration("age", age))

			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		wait = min(wait*2, opts.PollMax)
	}
}

// With runs fn while holding the lock at path and guarantees release on every
// exit path, including panics unwinding through fn.
func With(ctx context.Context, fsys fsx.FS, path string, opts Options, fn func(context.Context) error) error {
	lock, err := Acquire(ctx, fsys, path, opts)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}

	defer lock.Close()

	return fn(ctx)
}

// createSentinel attempts the atomic create-if-absent. Returns (false, nil)
// when the file already exists.
func createSentinel(fsys fsx.FS, path, token string) (bool, error) {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockPerms)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}

		return false, err
	}

	// Owner token and pid are diagnostics for humans inspecting a stuck
	// lock; reclaim never reads them back.
	_, writeErr := f.Write([]byte(token + "\n" + strconv.Itoa(os.Getpid()) + "\n"))
	closeErr := f.Close()

	if writeErr != nil {
		return false, writeErr
	}

	return true, closeErr
}

// heartbeat refreshes the sentinel's mtime until Close stops it.
// Touch failures are logged, never fatal: a missed touch only narrows the
// margin before a waiter could reclaim.
func (l *Lock) heartbeat(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			if err := l.fs.Chtimes(l.path, now, now); err != nil {
				l.log.Warn("lock heartbeat touch failed",
					slog.String("path", l.path),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Token returns the owner token written into the lock file.
func (l *Lock) Token() string { return l.token }

// Close releases the lock: the heartbeat stops and the sentinel file is
// removed unconditionally, whether or not this process still owns it.
//
// Close is idempotent - calling it multiple times is safe and subsequent
// calls return nil.
func (l *Lock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}

	l.released = true

	close(l.stop)
	<-l.done

	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file %s: %w", l.path, err)
	}

	return nil
}

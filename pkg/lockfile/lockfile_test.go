package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/SocketDev/socket-lib-sub004/internal/fsx"
)

func lockPath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "concurrency.lock")
}

func Test_Acquire_Creates_Sentinel_With_Owner_Token(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	lock, err := Acquire(context.Background(), fsx.NewReal(), path, Options{})
	if err != nil {
		t.Fatalf("Acquire err=%v, want=nil", err)
	}
	defer lock.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file should exist while held: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if got, want := len(lines), 2; got != want {
		t.Fatalf("lock file lines=%d, want=%d (content=%q)", got, want, data)
	}

	if got, want := lines[0], lock.Token(); got != want {
		t.Fatalf("token line=%q, want=%q", got, want)
	}
}

func Test_Acquire_Blocks_While_Lock_Is_Held(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	fsys := fsx.NewReal()

	first, err := Acquire(context.Background(), fsys, path, Options{})
	if err != nil {
		t.Fatalf("first Acquire err=%v, want=nil", err)
	}

	var (
		second    *Lock
		secondErr error
	)

	done := make(chan struct{})

	go func() {
		second, secondErr = Acquire(context.Background(), fsys, path, Options{})

		close(done)
	}()

	// The waiter must still be polling while the lock is held.
	select {
	case <-done:
		t.Fatal("second Acquire returned while first lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	releaseTime := time.Now()

	first.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second Acquire should succeed after release")
	}

	if secondErr != nil {
		t.Fatalf("second Acquire err=%v, want=nil", secondErr)
	}

	if elapsed := time.Since(releaseTime); elapsed > 3*time.Second {
		t.Fatalf("handoff took %v, want prompt", elapsed)
	}

	second.Close()
}

func Test_Acquire_Reclaims_Stale_Lock_File(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	// A sentinel left behind by a crashed process: exists, but its mtime is
	// far past the staleness threshold.
	if err := os.WriteFile(path, []byte("dead-owner\n12345\n"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("setup: %v", err)
	}

	start := time.Now()

	lock, err := Acquire(context.Background(), fsx.NewReal(), path, Options{})
	if err != nil {
		t.Fatalf("Acquire err=%v, want=nil", err)
	}
	defer lock.Close()

	// Reclaim happens immediately, not after waiting out the threshold.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("reclaim took %v, want immediate", elapsed)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "dead-owner") {
		t.Fatal("lock file should have been rewritten by the reclaiming owner")
	}
}

func Test_Acquire_Does_Not_Reclaim_Fresh_Lock_File(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	// A sentinel with a current mtime belongs to a live holder.
	if err := os.WriteFile(path, []byte("live-owner\n12345\n"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := Acquire(ctx, fsx.NewReal(), path, Options{Stale: time.Hour})

	if got, want := errors.Is(err, context.DeadlineExceeded), true; got != want {
		t.Fatalf("errors.Is(err, DeadlineExceeded)=%v, want=%v (err=%v)", got, want, err)
	}

	data, _ := os.ReadFile(path)
	if got, want := strings.Contains(string(data), "live-owner"), true; got != want {
		t.Fatal("fresh lock file must not be touched by a waiter")
	}
}

func Test_Heartbeat_Refreshes_Lock_File_Mtime(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	lock, err := Acquire(context.Background(), fsx.NewReal(), path, Options{Touch: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Acquire err=%v, want=nil", err)
	}
	defer lock.Close()

	// Age the file artificially, then let the heartbeat catch up.
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("setup: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)

	for {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat err=%v, want=nil", err)
		}

		if time.Since(info.ModTime()) < 30*time.Second {
			return // heartbeat touched the file
		}

		if time.Now().After(deadline) {
			t.Fatalf("mtime never refreshed; age=%v", time.Since(info.ModTime()))
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func Test_Close_Removes_Lock_File(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	lock, err := Acquire(context.Background(), fsx.NewReal(), path, Options{})
	if err != nil {
		t.Fatalf("Acquire err=%v, want=nil", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("Close err=%v, want=nil", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after Close, stat err=%v", err)
	}
}

func Test_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	lock, err := Acquire(context.Background(), fsx.NewReal(), path, Options{})
	if err != nil {
		t.Fatalf("Acquire err=%v, want=nil", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("first Close err=%v, want=nil", err)
	}

	if err := lock.Close(); err != nil {
		t.Fatalf("second Close err=%v, want=nil", err)
	}
}

func Test_With_Releases_Lock_On_Handler_Error(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	handlerErr := errors.New("handler failed")

	err := With(context.Background(), fsx.NewReal(), path, Options{}, func(context.Context) error {
		return handlerErr
	})

	if !errors.Is(err, handlerErr) {
		t.Fatalf("err=%v, want=%v", err, handlerErr)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after With, stat err=%v", err)
	}
}

func Test_Acquire_Propagates_Filesystem_Errors(t *testing.T) {
	t.Parallel()

	path := lockPath(t)

	chaos := fsx.NewChaos(fsx.NewReal(), 1, fsx.ChaosConfig{})
	chaos.SetMode(fsx.ChaosModeStickyOnly)
	chaos.SetPathState(path, fsx.PathIOError)

	_, err := Acquire(context.Background(), chaos, path, Options{})

	// Proceeding without mutual exclusion is not allowed; the fs error
	// must surface.
	if got, want := errors.Is(err, syscall.EIO), true; got != want {
		t.Fatalf("errors.Is(err, EIO)=%v, want=%v (err=%v)", got, want, err)
	}
}

func Test_Concurrent_Holders_Are_Mutually_Exclusive(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	fsys := fsx.NewReal()

	var (
		inside  atomic.Int64
		overlap atomic.Bool
		wg      sync.WaitGroup
	)

	for i := 0; i < 3; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 4; j++ {
				err := With(context.Background(), fsys, path, Options{}, func(context.Context) error {
					if inside.Add(1) > 1 {
						overlap.Store(true)
					}

					time.Sleep(2 * time.Millisecond)
					inside.Add(-1)

					return nil
				})
				if err != nil {
					t.Errorf("With err=%v, want=nil", err)

					return
				}
			}
		}()
	}

	wg.Wait()

	if overlap.Load() {
		t.Fatal("two holders were inside the critical section at once")
	}
}

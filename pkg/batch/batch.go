// Package batch iterates collections with a concurrency cap and optional
// per-unit retry.
//
// [Each] and [Filter] treat single items as the unit of work; [EachChunk] and
// [FilterChunk] treat contiguous chunks as the unit, including for retry (a
// chunk that fails is retried whole). Output order always matches input
// order regardless of completion order.
//
// Cancellation stops new units from starting and lets in-flight units finish.
// It is not reported as an error: Each returns nil and the filter variants
// return whatever was kept so far, with unfinished items treated as not kept.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/SocketDev/socket-lib-sub004/pkg/retry"
)

// Options controls one batch call.
type Options struct {
	// Concurrency is the maximum number of units in flight at once.
	// Values below 1 are coerced to 1.
	Concurrency int

	// Retry, when set, applies retry.Do semantics independently to each
	// unit. Nil means a single attempt per unit.
	Retry *retry.Policy

	// DropOnError changes the filter variants only: a unit whose predicate
	// exhausts its retries is treated as "does not pass the filter" instead
	// of aborting the batch. Each/EachChunk always fail fast.
	DropOnError bool
}

func (o Options) policy() retry.Policy {
	if o.Retry != nil {
		return *o.Retry
	}

	return retry.Policy{}
}

// Each runs fn once per item with at most Concurrency calls in flight.
//
// The first unit to exhaust its retries aborts the batch: no new units start,
// in-flight units drain, and that unit's error is returned.
func Each[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts Options) error {
	p := opts.policy()

	return forEachIndex(ctx, len(items), opts.Concurrency, func(ctx context.Context, idx int) error {
		_, err := retry.Run(ctx, p, func(ctx context.Context) error {
			return fn(ctx, items[idx])
		})

		return err
	})
}

// Filter runs pred once per item and returns the items whose predicate
// resolved true, in their original relative order.
//
// A predicate error aborts the batch unless [Options.DropOnError] is set, in
// which case the item is dropped. Items whose predicate never completed
// (cancellation) are dropped.
func Filter[T any](ctx context.Context, items []T, pred func(context.Context, T) (bool, error), opts Options) ([]T, error) {
	p := opts.policy()
	keep := make([]bool, len(items))

	err := forEachIndex(ctx, len(items), opts.Concurrency, func(ctx context.Context, idx int) error {
		verdict, completed, err := retry.Do(ctx, p, func(ctx context.Context) (bool, error) {
			return pred(ctx, items[idx])
		})
		if err != nil {
			if opts.DropOnError {
				return nil
			}

			return err
		}

		if completed {
			keep[idx] = verdict
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return kept(items, keep), nil
}

// EachChunk is Each with contiguous chunks of up to chunkSize items as the
// unit of work and retry. chunkSize below 1 is coerced to 1.
func EachChunk[T any](ctx context.Context, items []T, chunkSize int, fn func(context.Context, []T) error, opts Options) error {
	p := opts.policy()
	bounds := chunkBounds(len(items), chunkSize)

	return forEachIndex(ctx, len(bounds), opts.Concurrency, func(ctx context.Context, idx int) error {
		chunk := items[bounds[idx].lo:bounds[idx].hi]

		_, err := retry.Run(ctx, p, func(ctx context.Context) error {
			return fn(ctx, chunk)
		})

		return err
	})
}

// FilterChunk is Filter with chunks as the unit of work and retry. The
// predicate returns a keep-mask aligned with the chunk it was given; a mask
// of the wrong length fails that unit.
func FilterChunk[T any](ctx context.Context, items []T, chunkSize int, pred func(context.Context, []T) ([]bool, error), opts Options) ([]T, error) {
	p := opts.policy()
	bounds := chunkBounds(len(items), chunkSize)
	keep := make([]bool, len(items))

	err := forEachIndex(ctx, len(bounds), opts.Concurrency, func(ctx context.Context, idx int) error {
		lo, hi := bounds[idx].lo, bounds[idx].hi
		chunk := items[lo:hi]

		mask, completed, err := retry.Do(ctx, p, func(ctx context.Context) ([]bool, error) {
			mask, err := pred(ctx, chunk)
			if err != nil {
				return nil, err
			}

			if len(mask) != len(chunk) {
				return nil, fmt.Errorf("batch: keep-mask has %d entries for a %d-item chunk", len(mask), len(chunk))
			}

			return mask, nil
		})
		if err != nil {
			if opts.DropOnError {
				return nil
			}

			return err
		}

		if completed {
			copy(keep[lo:hi], mask)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return kept(items, keep), nil
}

type span struct{ lo, hi int }

// chunkBounds partitions [0, n) into ceil(n/size) contiguous spans; the final
// span may be shorter.
func chunkBounds(n, size int) []span {
	if size < 1 {
		size = 1
	}

	var bounds []span
	for lo := 0; lo < n; lo += size {
		bounds = append(bounds, span{lo: lo, hi: min(lo+size, n)})
	}

	return bounds
}

func kept[T any](items []T, keep []bool) []T {
	out := make([]T, 0, len(items))

	for i, k := range keep {
		if k {
			out = append(out, items[i])
		}
	}

	return out
}

// forEachIndex dispatches indexes [0, n) to a fixed pool of workers.
//
// The feeder checks for cancellation and for a recorded failure before
// handing out each new index. Workers drain naturally; the first error wins.
func forEachIndex(ctx context.Context, n, concurrency int, fn func(context.Context, int) error) error {
	if n == 0 {
		return nil
	}

	if concurrency < 1 {
		concurrency = 1
	}

	if concurrency > n {
		concurrency = n
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		stopOnce sync.Once
	)

	work := make(chan int)
	stop := make(chan struct{})

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()

		stopOnce.Do(func() { close(stop) })
	}

	for i := 0; i < concurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for idx := range work {
				// An index can already be queued when a failure or
				// cancellation lands. Drain it without running so no new
				// unit starts after either signal.
				select {
				case <-ctx.Done():
					continue
				case <-stop:
					continue
				default:
				}

				if err := fn(ctx, idx); err != nil {
					fail(err)
				}
			}
		}()
	}

feed:
	for idx := 0; idx < n; idx++ {
		select {
		case <-ctx.Done():
			break feed
		case <-stop:
			break feed
		case work <- idx:
		}
	}

	close(work)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	return firstErr
}

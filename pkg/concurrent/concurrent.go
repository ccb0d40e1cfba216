// Package concurrent holds the bounded fan-out helpers used to split a
// system's entity range across goroutines.
package concurrent

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultGrain is the chunk size used when callers pass grain <= 0.
const DefaultGrain = 64

// Chunks returns how many chunks of size grain cover n items.
func Chunks(n, grain int) int {
	if n <= 0 {
		return 0
	}
	if grain <= 0 {
		grain = DefaultGrain
	}
	return (n + grain - 1) / grain
}

// ForEachChunk calls fn for every [lo, hi) window of at most grain items in
// [0, n), running at most workers windows at a time. It returns the first
// error; windows that had not started when it occurred are skipped.
// A single window runs inline on the caller's goroutine.
func ForEachChunk(ctx context.Context, n, grain, workers int, fn func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if grain <= 0 {
		grain = DefaultGrain
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if n <= grain || workers == 1 {
		for lo := 0; lo < n; lo += grain {
			if err := fn(ctx, lo, min(lo+grain, n)); err != nil {
				return err
			}
		}
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for lo := 0; lo < n; lo += grain {
		if groupCtx.Err() != nil {
			break
		}
		hi := min(lo+grain, n)
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return nil
			}
			return fn(groupCtx, lo, hi)
		})
	}
	return group.Wait()
}

// ForEach calls fn for every element of items using ForEachChunk.
func ForEach[T any](ctx context.Context, items []T, grain, workers int, fn func(ctx context.Context, item T) error) error {
	return ForEachChunk(ctx, len(items), grain, workers, func(ctx context.Context, lo, hi int) error {
		for _, item := range items[lo:hi] {
			if err := fn(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Package dispatch runs a unit of work over a fixed set of items with a
// bounded number of workers and per-item fault isolation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// SkipError marks an item that was deliberately not processed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skip returns an error that Run counts as skipped rather than failed.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// IsSkip reports whether err marks a skipped item.
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}

// ItemError is the failure of one item.
type ItemError struct {
	Index int
	Err   error
}

// Report summarises a Run. Succeeded+Skipped+Failed+NotStarted == len(items).
type Report struct {
	Succeeded  int
	Skipped    int
	Failed     int
	NotStarted int
	Errors     []ItemError
}

// Work processes one item.
type Work[T any] func(ctx context.Context, item T) error

// Run processes every item exactly once using max(1, concurrency) workers,
// capped at len(items). Workers claim items through a shared atomic cursor, so
// completion order is unspecified. A failing or panicking item never affects
// the others. Run returns once every claimed item has finished.
//
// When ctx is done, workers stop claiming new items; those items are counted
// in NotStarted. Items already claimed run to completion with a context that
// keeps ctx's values but not its cancellation.
func Run[T any](ctx context.Context, items []T, concurrency int, work Work[T]) Report {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	var (
		cursor     atomic.Int64
		succeeded  atomic.Int64
		skipped    atomic.Int64
		mu         sync.Mutex
		itemErrors []ItemError
		wg         sync.WaitGroup
	)
	detached := context.WithoutCancel(ctx)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return
				}

				err := safeCall(detached, items[i], work)
				switch {
				case err == nil:
					succeeded.Add(1)
				case IsSkip(err):
					skipped.Add(1)
				default:
					mu.Lock()
					itemErrors = append(itemErrors, ItemError{Index: i, Err: err})
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	claimed := int(cursor.Load())
	if claimed > len(items) {
		claimed = len(items)
	}

	sort.Slice(itemErrors, func(a, b int) bool { return itemErrors[a].Index < itemErrors[b].Index })
	return Report{
		Succeeded:  int(succeeded.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     len(itemErrors),
		NotStarted: len(items) - claimed,
		Errors:     itemErrors,
	}
}

func safeCall[T any](ctx context.Context, item T, work Work[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, item)
}

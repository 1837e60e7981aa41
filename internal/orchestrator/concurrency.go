package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// runOrdered applies fn to every item in items under a concurrency bound of
// n, returning results in the same order as items regardless of
// completion order — the join primitive the concurrency model requires for
// every per-session stage.
func runOrdered[T, R any](ctx context.Context, items []T, n int64, fn func(context.Context, T) R) []R {
	sem := semaphore.NewWeighted(n)
	results := make([]R, len(items))

	done := make(chan struct{}, len(items))
	for i, item := range items {
		i, item := i, item
		if err := sem.Acquire(ctx, 1); err != nil {
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			results[i] = fn(ctx, item)
		}()
	}
	for range items {
		<-done
	}
	return results
}

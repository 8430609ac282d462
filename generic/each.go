package generic

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelEach runs exec for every item with at most GOMAXPROCS items in
// flight and returns the first error. Each invocation owns items[i]
// exclusively.
func ParallelEach[T any](items []T, exec func(i int, item T) error) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			return exec(i, item)
		})
	}
	return g.Wait()
}

package generation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize  = 3
	DefaultBatchDelay = 2 * time.Second
)

// Batcher fans work out in fixed-size concurrent batches with a pause between batches.
type Batcher struct {
	Size  int
	Delay time.Duration
}

// Run calls fn for indexes [0,n). Every call in a batch is awaited before the next
// batch starts; the first error stops further batches.
func (b Batcher) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	size := b.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < n; start += size {
		if start > 0 {
			if err := sleep(ctx, b.Delay); err != nil {
				return err
			}
		}
		end := start + size
		if end > n {
			end = n
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				return fn(ctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

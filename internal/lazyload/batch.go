package lazyload

import (
	"context"
	"runtime"
	"time"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchYield = 16 * time.Millisecond
)

// RenderBatches calls fn for every item, batchSize at a time, yielding between
// batches so a large set never monopolizes the caller. It stops early when ctx
// is cancelled.
func RenderBatches[T any](ctx context.Context, items []T, batchSize int, yield time.Duration, fn func(T)) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+batchSize, len(items))
		for _, item := range items[start:end] {
			fn(item)
		}

		if end < len(items) {
			runtime.Gosched()
			if err := sleepCtx(ctx, yield); err != nil {
				return err
			}
		}
	}
	return nil
}

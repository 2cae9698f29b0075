package gallery

import (
	"context"
	"errors"
	"time"

	"github.com/openmined/bucketgallery/internal/lazyload"
	"github.com/openmined/bucketgallery/internal/objects"
)

// RenderImages clears the surface and registers objs with the renderer in
// batches. Every item first gets its access URL from the cache. An item whose
// URL cannot be resolved is drawn as failed and the batch goes on.
func (c *Coordinator) RenderImages(ctx context.Context, objs []objects.RemoteObject) error {
	tStart := time.Now()
	c.renderer.Reset()

	var failed int
	err := lazyload.RenderBatches(ctx, objs, c.cfg.BatchSize, c.cfg.BatchYield, func(obj objects.RemoteObject) {
		if ctx.Err() != nil {
			return
		}
		h := lazyload.Handle(obj.Name)

		u, err := c.resolveURL(ctx, obj.Name)
		if err != nil {
			failed++
			c.log.Warn("resolve url failed", "name", obj.Name, "error", err)
			c.renderer.MarkFailed(h)
			return
		}
		c.renderer.Register(h, u)
	})
	if err != nil {
		return err
	}

	c.log.Debug("gallery render", "items", len(objs), "failed", failed, "took", time.Since(tStart))
	return nil
}

// Render re-renders the current visible set in the background, replacing any
// render still in progress.
func (c *Coordinator) Render() {
	c.rerender()
}

// rerender cancels the running render pass and starts a new one once the old
// one has returned, so passes never interleave on the surface.
func (c *Coordinator) rerender() {
	c.muRender.Lock()
	defer c.muRender.Unlock()

	if c.ctx.Err() != nil {
		return
	}
	if c.renderCancel != nil {
		c.renderCancel()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	prev := c.renderDone
	done := make(chan struct{})
	c.renderCancel = cancel
	c.renderDone = done
	visible := c.Snapshot().Visible

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()

		if prev != nil {
			<-prev
		}
		if err := c.RenderImages(ctx, visible); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("render failed", "error", err)
		}
	}()
}

// WaitRender blocks until the latest render pass has returned.
func (c *Coordinator) WaitRender() {
	c.muRender.Lock()
	done := c.renderDone
	c.muRender.Unlock()

	if done != nil {
		<-done
	}
}

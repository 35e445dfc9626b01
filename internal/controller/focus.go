package controller

import (
	"context"
	"time"
)

// startPollLocked (re)starts the focus poll. Without a probe there is
// nothing to poll.
func (c *Controller) startPollLocked() {
	c.stopPollLocked()
	if c.opts.Focus == nil || c.ctx == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.pollCancel = cancel
	c.polling.Store(true)
	go c.pollLoop(ctx)
}

func (c *Controller) stopPollLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	c.polling.Store(false)
}

func (c *Controller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A slow probe must not stack up behind itself.
			if !c.pollBusy.CompareAndSwap(false, true) {
				continue
			}
			go c.probeOnce(ctx)
		}
	}
}

func (c *Controller) probeOnce(ctx context.Context) {
	defer c.pollBusy.Store(false)
	defer c.log.Recover("focus probe")
	if ctx.Err() != nil {
		return
	}

	focused, err := c.opts.Focus.EditorFocused(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.log.Debug("[focus monitor disabled]", "error", err)
		c.mu.Lock()
		// A newer poll may have replaced this one already.
		if c.pollCancel != nil && ctx.Err() == nil {
			c.stopPollLocked()
		}
		c.mu.Unlock()
		return
	}
	if !focused {
		c.HandleBlur()
	}
}

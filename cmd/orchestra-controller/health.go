// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"
)

// monitor runs sweep every interval until ctx is cancelled.
func (c *Controller) monitor(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep marks silent hosts HEARTBEAT_LOST, times out tasks that never
// reported, and settles any request whose rollup a failed store write
// left behind. Host loss and task timeouts are independent: a lost
// host keeps its queued commands until they time out on their own.
func (c *Controller) sweep(ctx context.Context) {
	cutoff := c.clock.Now().Add(-c.heartbeatTimeout)
	for _, hostname := range c.hosts.Silent(c.heartbeatTimeout) {
		entity := c.hosts.Get(hostname)
		if entity == nil {
			continue
		}
		lost, err := entity.TimeoutIfSilent(cutoff)
		if err != nil {
			c.logger.Debug("heartbeat timeout skipped", "host", hostname, "error", err)
			continue
		}
		if !lost {
			// A heartbeat landed after the scan.
			continue
		}
		c.logger.Warn("host heartbeat lost",
			"host", hostname,
			"timeout", c.heartbeatTimeout,
		)
		c.saveHost(ctx, entity)
	}

	if err := c.dispatch.sweepTimeouts(ctx); err != nil {
		c.logger.Error("task timeout sweep failed", "error", err)
	}
	if err := c.dispatch.reconcile(ctx); err != nil {
		c.logger.Error("rollup reconcile failed", "error", err)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// controller's heartbeat monitor, the task timeout sweep, and the agent
// heartbeat loop.
//
// Production code holds a [Clock] field set to [Real]. Tests use
// [Fake], which stands still until Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := newMonitor(fake)
//	go monitor.run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second)
//
// Heartbeat counters carried on the wire are NOT clock values. The
// lifecycle state machine orders heartbeats by the agent-supplied
// counter; the clock only measures how long ago the controller last
// accepted one.
package clock

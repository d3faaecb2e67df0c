// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Orchestra-agent runs on every managed host. It registers the host's
// inventory with the controller, heartbeats on agent.heartbeat_interval
// with its own health check, and executes the daemon and package
// commands the controller hands back.
//
// Each heartbeat counter is the wall clock in milliseconds, kept
// strictly increasing. Command results are resent until a heartbeat
// is accepted, so a controller restart or a lost response does not
// drop them. Package commands run one at a time; daemon commands run
// up to agent.parallelism at once.
package main

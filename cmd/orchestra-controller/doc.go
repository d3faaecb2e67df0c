// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Orchestra-controller plans fleet operations and drives them to
// completion across host agents.
//
// A submitted request is an unordered set of (host, role, command)
// tasks. The controller orders it with the configured oracle, splits
// it into stages, persists everything in SQLite, and releases the
// first stage. Released tasks wait on per-host queues until the host's
// agent collects them with its next heartbeat. Each agent report
// flows through the aggregator; when a stage completes the next one is
// released, and when a stage fails beyond its tolerance the rest of
// the request is aborted.
//
// # Hosts
//
// Agents register with their static inventory and then heartbeat on a
// fixed interval. Only HEALTHY and UNHEALTHY hosts receive commands.
// A host silent for longer than controller.heartbeat_timeout becomes
// HEARTBEAT_LOST and keeps its queue until it returns or its tasks
// time out. With auto_verify off, new hosts wait for an operator to
// run "orchestra hosts verify"; hosts verified before a restart are
// verified again automatically.
//
// # Restart
//
// Unfinished requests are reloaded from the database at startup.
// Host lifecycles are not: every agent is told to register again on
// its next heartbeat.
//
// # Socket API
//
// The controller serves CBOR requests on controller.network and
// controller.address. Actions: status, register, verify, heartbeat,
// submit, request-status, list-requests, abort, list-hosts.
package main

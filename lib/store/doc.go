// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the SQLite persistence collaborator for the
// controller. It holds requests, their stages and tasks, and the last
// lifecycle snapshot of every registered host.
//
// Status writes arrive from the aggregator only when a status actually
// changed, one row per call. Task output is framed with a compression
// tag so that rows written under different settings stay readable.
package store
